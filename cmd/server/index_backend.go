package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"holotag.dev/internal/overlay"
	"holotag.dev/internal/persistence/indexdb"
	"holotag.dev/internal/sim/tuning"
)

type runtimeIndex interface {
	overlay.EventSink
	RecordSession(sessionID, viewerID, name, event string)
	UpsertTuning(t tuning.Tuning) error
	Stats() indexdb.IndexStats
	Close() error
}

func openRuntimeIndex(dataDir string, disableDB bool, logger *log.Logger) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("HT_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(dataDir, "index", "overlay.sqlite")
		idx, err := indexdb.OpenSQLite(dbPath)
		if err != nil {
			return nil, err
		}
		logger.Printf("index backend: sqlite %s", dbPath)
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported HT_INDEX_BACKEND: %s", backend)
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
