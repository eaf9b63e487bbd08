package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"holotag.dev/internal/overlay"
	persistlog "holotag.dev/internal/persistence/log"
)

func main() {
	var (
		eventsDir = flag.String("events", "./data/events", "events dir containing overlay-*.jsonl.zst")
		fromTick  = flag.Uint64("from_tick", 0, "skip events before tick (inclusive bound, optional)")
		toTick    = flag.Uint64("to_tick", 0, "stop after tick (inclusive, optional)")
		host      = flag.String("host", "", "only print the final state of this host (optional)")
		strict    = flag.Bool("strict", false, "exit 1 when the log is inconsistent")
	)
	flag.Parse()

	files, err := listEventFiles(*eventsDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no events files found in", *eventsDir)
		os.Exit(1)
	}

	f := newFold()
	for _, path := range files {
		lines, err := persistlog.ReadLines(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
		for i, line := range lines {
			var e overlay.Event
			if err := json.Unmarshal(line, &e); err != nil {
				fmt.Fprintf(os.Stderr, "%s:%d: unmarshal: %v\n", filepath.Base(path), i+1, err)
				os.Exit(1)
			}
			if e.Tick < *fromTick {
				continue
			}
			if *toTick != 0 && e.Tick > *toTick {
				break
			}
			f.apply(e)
		}
	}

	kinds := make([]string, 0, len(f.counts))
	for k := range f.counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s=%d", k, f.counts[k]))
	}
	fmt.Printf("replay: files=%d events=%d last_tick=%d %s\n", len(files), f.total, f.lastTick, strings.Join(parts, " "))

	for _, row := range f.live() {
		if *host != "" && string(row.Host) != *host {
			continue
		}
		fmt.Printf("  %s/%s line=%d decoy=%d text=%q\n", row.Host, row.Viewer, row.Line, row.Decoy, row.Text)
	}
	for _, a := range f.anomalies {
		fmt.Println("  anomaly:", a)
	}
	if *strict && len(f.anomalies) > 0 {
		os.Exit(1)
	}
}

func listEventFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "overlay-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}
