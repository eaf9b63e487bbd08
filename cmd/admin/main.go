package main

import (
	"fmt"
	"os"
	"strings"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: admin <command> [flags]

commands:
  state                         print /admin/v1/state
  tags [-host H]                print overlay lines (all hosts or one)
  tag set|add|remove|delete     edit overlay lines through /admin/v1/tags
  entities                      list host world entities
  entity <op>                   spawn|damage|teleport|velocity|remove|chunk
  snapshot take|show            write a snapshot, or print one from disk
  db events|count|sessions      query the sqlite event index`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	args := os.Args[2:]
	switch os.Args[1] {
	case "state":
		stateCmd(args)
	case "tags":
		tagsCmd(args)
	case "tag":
		tagCmd(args)
	case "entities":
		entitiesCmd(args)
	case "entity":
		entityCmd(args)
	case "snapshot":
		snapshotCmd(args)
	case "db":
		dbCmd(args)
	default:
		usage()
		os.Exit(2)
	}
}

// parseVec3 parses "x,y,z".
func parseVec3(s string) ([3]float64, error) {
	var v [3]float64
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("expected x,y,z")
	}
	for i := 0; i < 3; i++ {
		if _, err := fmt.Sscanf(strings.TrimSpace(parts[i]), "%g", &v[i]); err != nil {
			return v, fmt.Errorf("component %d: %w", i, err)
		}
	}
	return v, nil
}

func mustVec3(name, s string) [3]float64 {
	if strings.TrimSpace(s) == "" {
		return [3]float64{}
	}
	v, err := parseVec3(s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad -%s: %v\n", name, err)
		os.Exit(2)
	}
	return v
}
