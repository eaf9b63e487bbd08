package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

func adminURL(base, path string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/") + path
}

// do sends one admin request and prints the response body. Non-2xx exits 1.
func do(method, u string, body any) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			fmt.Fprintln(os.Stderr, "encode:", err)
			os.Exit(1)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, u, r)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	cl := &http.Client{Timeout: 10 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)
	do(http.MethodGet, adminURL(*baseURL, "/admin/v1/state"), nil)
}

func tagsCmd(args []string) {
	fs := flag.NewFlagSet("tags", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	host := fs.String("host", "", "host id (optional)")
	_ = fs.Parse(args)

	u := adminURL(*baseURL, "/admin/v1/tags")
	if h := strings.TrimSpace(*host); h != "" {
		u += "?host=" + url.QueryEscape(h)
	}
	do(http.MethodGet, u, nil)
}

func tagCmd(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: admin tag set|add|remove|delete -host H [-viewer V] [-text T] [-index N]")
		os.Exit(2)
	}
	op := args[0]
	fs := flag.NewFlagSet("tag "+op, flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	host := fs.String("host", "", "host id (required)")
	viewer := fs.String("viewer", "", "viewer id (default: every connected viewer)")
	text := fs.String("text", "", "line text; & colour codes are translated")
	index := fs.Int("index", 0, "line index (remove)")
	_ = fs.Parse(args[1:])

	if strings.TrimSpace(*host) == "" {
		fmt.Fprintln(os.Stderr, "missing -host")
		os.Exit(2)
	}
	do(http.MethodPost, adminURL(*baseURL, "/admin/v1/tags"), map[string]any{
		"op":     op,
		"host":   *host,
		"viewer": *viewer,
		"text":   *text,
		"index":  *index,
	})
}

func entitiesCmd(args []string) {
	fs := flag.NewFlagSet("entities", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)
	do(http.MethodGet, adminURL(*baseURL, "/admin/v1/entities"), nil)
}

func entityCmd(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: admin entity spawn|damage|teleport|velocity|remove|chunk [flags]")
		os.Exit(2)
	}
	op := args[0]
	fs := flag.NewFlagSet("entity "+op, flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	id := fs.String("id", "", "entity id")
	species := fs.String("species", "", "species (spawn)")
	pos := fs.String("pos", "", "x,y,z (spawn, teleport, chunk)")
	vel := fs.String("velocity", "", "x,y,z blocks per tick (spawn, velocity)")
	health := fs.Int("health", 0, "health (spawn)")
	amount := fs.Int("amount", 0, "damage amount")
	loaded := fs.Bool("loaded", false, "chunk loaded state (chunk)")
	_ = fs.Parse(args[1:])

	do(http.MethodPost, adminURL(*baseURL, "/admin/v1/entities"), map[string]any{
		"op":       op,
		"id":       *id,
		"species":  *species,
		"pos":      mustVec3("pos", *pos),
		"velocity": mustVec3("velocity", *vel),
		"health":   *health,
		"amount":   *amount,
		"loaded":   *loaded,
	})
}
