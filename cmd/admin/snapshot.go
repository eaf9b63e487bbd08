package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"holotag.dev/internal/persistence/snapshot"
)

func snapshotCmd(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: admin snapshot take|show [flags]")
		os.Exit(2)
	}
	switch args[0] {
	case "take":
		fs := flag.NewFlagSet("snapshot take", flag.ExitOnError)
		baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
		_ = fs.Parse(args[1:])
		do(http.MethodPost, adminURL(*baseURL, "/admin/v1/snapshot"), nil)

	case "show":
		fs := flag.NewFlagSet("snapshot show", flag.ExitOnError)
		dataDir := fs.String("data", "./data", "runtime data directory")
		file := fs.String("file", "", "snapshot file (default: newest under <data>/snapshots)")
		host := fs.String("host", "", "only lines for this host")
		headerOnly := fs.Bool("header", false, "print the header only")
		_ = fs.Parse(args[1:])

		path := strings.TrimSpace(*file)
		if path == "" {
			p, err := snapshot.Latest(filepath.Join(*dataDir, "snapshots"))
			if err != nil {
				fmt.Fprintln(os.Stderr, "list:", err)
				os.Exit(1)
			}
			if p == "" {
				fmt.Fprintln(os.Stderr, "no snapshots under", filepath.Join(*dataDir, "snapshots"))
				os.Exit(1)
			}
			path = p
		}

		enc := json.NewEncoder(os.Stdout)
		if *headerOnly {
			h, err := snapshot.ReadHeader(path)
			if err != nil {
				fmt.Fprintln(os.Stderr, "read:", err)
				os.Exit(1)
			}
			_ = enc.Encode(h)
			return
		}
		snap, err := snapshot.Read(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
		_ = enc.Encode(snap.Header)
		for _, l := range snap.Lines {
			if *host != "" && l.Host != *host {
				continue
			}
			_ = enc.Encode(l)
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown snapshot command:", args[0])
		os.Exit(2)
	}
}
