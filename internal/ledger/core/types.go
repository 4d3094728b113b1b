// Package core defines the run ledger record and the storage contract shared
// by ledger backends.
package core

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"metarecon/pkg/domain"
)

// Driver identifies a ledger backend.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("ledger: run not found")

// IDChange is one identifier rewrite made by a run.
type IDChange struct {
	Collection string `json:"collection"`
	Document   string `json:"document,omitempty"`
	Position   int    `json:"position"`
	OldID      string `json:"oldId"`
	NewID      string `json:"newId"`
	Reason     string `json:"reason"`
}

// Run is one recorded invocation of a reconciliation or sink operation.
type Run struct {
	ID         uuid.UUID      `json:"id"`
	Operation  string         `json:"operation"`
	Documents  []string       `json:"documents,omitempty"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	Outcome    domain.Outcome `json:"outcome"`
	Report     domain.Report  `json:"report"`
	IDChanges  []IDChange     `json:"idChanges,omitempty"`
	// Mapping holds the old->new ids, per collection, that were propagated
	// to references and can be replayed on other documents.
	Mapping map[string]map[string]string `json:"mapping,omitempty"`
}

// NewRun starts a run with a fresh id.
func NewRun(operation string, documents []string, now time.Time) Run {
	return Run{
		ID:        uuid.New(),
		Operation: operation,
		Documents: append([]string(nil), documents...),
		StartedAt: now.UTC(),
	}
}

// Finish stamps the run with its report.
func (r *Run) Finish(rep domain.Report, now time.Time) {
	r.Report = rep
	r.Outcome = rep.Outcome()
	r.FinishedAt = now.UTC()
}

// Clone deep-copies the run.
func (r Run) Clone() Run {
	out := r
	out.Documents = append([]string(nil), r.Documents...)
	out.Report.Issues = append([]domain.Issue(nil), r.Report.Issues...)
	out.IDChanges = append([]IDChange(nil), r.IDChanges...)
	if r.Mapping != nil {
		out.Mapping = make(map[string]map[string]string, len(r.Mapping))
		for coll, ids := range r.Mapping {
			m := make(map[string]string, len(ids))
			for k, v := range ids {
				m[k] = v
			}
			out.Mapping[coll] = m
		}
	}
	return out
}

// ListOptions filters List. Zero Limit means no limit.
type ListOptions struct {
	Operation string
	Limit     int
}

// Apply filters runs and orders them newest first.
func (o ListOptions) Apply(runs []Run) []Run {
	out := make([]Run, 0, len(runs))
	for _, r := range runs {
		if o.Operation != "" && r.Operation != o.Operation {
			continue
		}
		out = append(out, r.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if o.Limit > 0 && len(out) > o.Limit {
		out = out[:o.Limit]
	}
	return out
}

// Store persists runs.
type Store interface {
	Save(ctx context.Context, run Run) error
	Get(ctx context.Context, id uuid.UUID) (Run, error)
	List(ctx context.Context, opts ListOptions) ([]Run, error)
	Close() error
	Driver() Driver
}
