// Package ledger records reconciliation runs (outcome, report, identifier
// rewrites) and selects the storage backend.
package ledger

import (
	"context"
	"fmt"

	"metarecon/internal/infra/persistence/memory"
	"metarecon/internal/infra/persistence/postgres"
	"metarecon/internal/infra/persistence/sqlite"
	"metarecon/internal/ledger/core"
)

type (
	// Run is one recorded invocation.
	Run = core.Run
	// IDChange is one identifier rewrite.
	IDChange = core.IDChange
	// ListOptions filters List.
	ListOptions = core.ListOptions
	// Store persists runs.
	Store = core.Store
	// Driver identifies a backend.
	Driver = core.Driver
)

const (
	DriverMemory   = core.DriverMemory
	DriverSQLite   = core.DriverSQLite
	DriverPostgres = core.DriverPostgres
)

// ErrNotFound is returned for unknown run ids.
var ErrNotFound = core.ErrNotFound

// NewRun starts a run with a fresh id.
var NewRun = core.NewRun

// Config selects and parameterises a backend.
type Config struct {
	Driver      string
	SQLitePath  string
	PostgresDSN string
}

// Open returns the Store for cfg.Driver (sqlite when empty).
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = string(DriverSQLite)
	}
	switch Driver(driver) {
	case DriverMemory:
		return memory.NewStore(), nil
	case DriverSQLite:
		return sqlite.NewStore(cfg.SQLitePath)
	case DriverPostgres:
		return postgres.NewStore(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown ledger driver %s", driver)
	}
}

// Mapping merges the propagated id mappings of runs given newest first, as
// List returns them. Newer runs win on conflicting entries.
func Mapping(runs ...Run) map[string]map[string]string {
	out := make(map[string]map[string]string)
	for i := len(runs) - 1; i >= 0; i-- {
		for coll, ids := range runs[i].Mapping {
			if out[coll] == nil {
				out[coll] = make(map[string]string, len(ids))
			}
			for oldID, newID := range ids {
				out[coll][oldID] = newID
			}
		}
	}
	return out
}
