package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/index/overlay.sqlite)")
	host := fs.String("host", "", "host_id filter (events)")
	viewer := fs.String("viewer", "", "viewer_id filter (events)")
	kind := fs.String("kind", "", "event kind filter (events, count)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "events"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "overlay.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if *limit <= 0 {
		*limit = 20
	}
	enc := json.NewEncoder(os.Stdout)

	switch q {
	case "events":
		where := []string{"1=1"}
		var params []any
		if *host != "" {
			where = append(where, "host_id = ?")
			params = append(params, *host)
		}
		if *viewer != "" {
			where = append(where, "viewer_id = ?")
			params = append(params, *viewer)
		}
		if *kind != "" {
			where = append(where, "kind = ?")
			params = append(params, strings.ToUpper(*kind))
		}
		params = append(params, *limit)
		rows, err := db.Query(`SELECT tick,kind,host_id,viewer_id,decoy_id,line,text,reason FROM overlay_events WHERE `+
			strings.Join(where, " AND ")+` ORDER BY id DESC LIMIT ?`, params...)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				r struct {
					Tick   int64  `json:"tick"`
					Kind   string `json:"kind"`
					Host   string `json:"host,omitempty"`
					Viewer string `json:"viewer,omitempty"`
					Decoy  int64  `json:"decoy,omitempty"`
					Line   int    `json:"line"`
					Text   string `json:"text,omitempty"`
					Reason string `json:"reason,omitempty"`
				}
				text, reason sql.NullString
			)
			if err := rows.Scan(&r.Tick, &r.Kind, &r.Host, &r.Viewer, &r.Decoy, &r.Line, &text, &reason); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			r.Text, r.Reason = text.String, reason.String
			_ = enc.Encode(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "count":
		query := `SELECT kind, COUNT(*) FROM overlay_events GROUP BY kind ORDER BY kind`
		var params []any
		if *kind != "" {
			query = `SELECT kind, COUNT(*) FROM overlay_events WHERE kind = ? GROUP BY kind`
			params = append(params, strings.ToUpper(*kind))
		}
		rows, err := db.Query(query, params...)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var k string
			var n int64
			if err := rows.Scan(&k, &n); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			fmt.Printf("%s\t%d\n", k, n)
		}

	case "sessions":
		rows, err := db.Query(`SELECT session_id,event,viewer_id,name,at FROM sessions ORDER BY at DESC LIMIT ?`, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				SessionID string `json:"session_id"`
				Event     string `json:"event"`
				ViewerID  string `json:"viewer_id"`
				Name      string `json:"name"`
				At        string `json:"at"`
			}
			if err := rows.Scan(&r.SessionID, &r.Event, &r.ViewerID, &r.Name, &r.At); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			_ = enc.Encode(r)
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(want events|count|sessions)")
		os.Exit(2)
	}
}
