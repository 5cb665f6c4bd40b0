package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"trafficeditor.app/internal/persistence/indexdb"
)

// openRunIndex opens the read-model index for a run. It returns nil when
// indexing is disabled; nothing in the simulation depends on it.
func openRunIndex(runDir string, disableDB bool) (*indexdb.SQLiteIndex, error) {
	if disableDB {
		return nil, nil
	}
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("TE_INDEX_BACKEND")))
	switch backend {
	case "", "sqlite":
		return indexdb.OpenSQLite(filepath.Join(runDir, "index", "run.sqlite"))
	case "none", "off", "disabled":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported TE_INDEX_BACKEND: %s", backend)
	}
}
