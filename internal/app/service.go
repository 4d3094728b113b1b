// Package app wires storage, the reconciliation engine, the run ledger and
// the metadata sink into one service method per command.
package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"metarecon/internal/document"
	"metarecon/internal/ledger"
	"metarecon/internal/profile"
	"metarecon/internal/sink"
	"metarecon/internal/telemetry"
	"metarecon/pkg/domain"
)

// ErrNoSink is returned by sink operations when no sink is configured.
var ErrNoSink = errors.New("no metadata sink configured")

// Deps are the collaborators of a Service. Documents and Profile are
// required; the rest fall back to inert defaults.
type Deps struct {
	Documents *document.Store
	Profile   *profile.Resolved
	Ledger    ledger.Store
	Sink      *sink.Client
	Metrics   telemetry.MetricsRecorder
	Logger    zerolog.Logger
	Rand      *rand.Rand
	Clock     func() time.Time
	// DryRun computes reports without writing documents.
	DryRun bool
}

// Service runs metarecon operations. Each call is one ledger run.
type Service struct {
	docs    *document.Store
	profile *profile.Resolved
	runs    ledger.Store
	sink    *sink.Client
	metrics telemetry.MetricsRecorder
	logger  zerolog.Logger
	rand    *rand.Rand
	now     func() time.Time
	dryRun  bool
}

// New validates deps and returns a Service.
func New(deps Deps) (*Service, error) {
	if deps.Documents == nil {
		return nil, errors.New("app: document store required")
	}
	if deps.Profile == nil {
		return nil, errors.New("app: profile required")
	}
	s := &Service{
		docs:    deps.Documents,
		profile: deps.Profile,
		runs:    deps.Ledger,
		sink:    deps.Sink,
		metrics: deps.Metrics,
		logger:  deps.Logger,
		rand:    deps.Rand,
		now:     deps.Clock,
		dryRun:  deps.DryRun,
	}
	if s.metrics == nil {
		s.metrics = telemetry.NoopRecorder{}
	}
	if s.rand == nil {
		s.rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Profile returns the resolved profile in use.
func (s *Service) Profile() *profile.Resolved { return s.profile }

// Ref addresses one collection of a stored document.
type Ref struct {
	Key        string
	Collection string
}

// ParseRef reads "key#collection". The collection may be omitted when the
// document holds a single collection.
func ParseRef(s string) (Ref, error) {
	key, coll, _ := strings.Cut(s, "#")
	if key == "" {
		return Ref{}, fmt.Errorf("empty document key in %q", s)
	}
	return Ref{Key: key, Collection: coll}, nil
}

func (r Ref) String() string {
	if r.Collection == "" {
		return r.Key
	}
	return r.Key + "#" + r.Collection
}

// Result is common to every operation.
type Result struct {
	RunID   uuid.UUID     `json:"runId"`
	Report  domain.Report `json:"report"`
	Written []string      `json:"written,omitempty"`
	DryRun  bool          `json:"dryRun,omitempty"`
}

// session stages the documents an operation touches; they are written only
// when the operation returns without error.
type session struct {
	svc     *Service
	docs    map[string]*domain.Document
	loaded  []string
	staged  []string
	report  domain.Report
	changes []ledger.IDChange
	mapping map[string]map[string]string
}

func (tx *session) load(ctx context.Context, key string) (*domain.Document, error) {
	if doc, ok := tx.docs[key]; ok {
		return doc, nil
	}
	doc, err := tx.svc.docs.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	tx.docs[key] = doc
	tx.loaded = append(tx.loaded, key)
	return doc, nil
}

// collection loads ref, resolving an omitted collection name when the
// document holds exactly one array.
func (tx *session) collection(ctx context.Context, ref Ref) (*domain.Document, domain.Collection, error) {
	doc, err := tx.load(ctx, ref.Key)
	if err != nil {
		return nil, domain.Collection{}, err
	}
	name := ref.Collection
	if name == "" {
		keys := doc.CollectionKeys()
		if len(keys) != 1 {
			return nil, domain.Collection{}, fmt.Errorf("%s holds %d collections; name one as %s#<collection>", ref.Key, len(keys), ref.Key)
		}
		name = keys[0]
	}
	coll, err := doc.Collection(name)
	if err != nil {
		return nil, domain.Collection{}, domain.MalformedDocumentError{Key: ref.Key, Collection: name, Err: err}
	}
	return doc, coll, nil
}

// all decodes every collection of the document stored under key.
func (tx *session) all(ctx context.Context, key string) ([]domain.Collection, error) {
	doc, err := tx.load(ctx, key)
	if err != nil {
		return nil, err
	}
	var out []domain.Collection
	for _, name := range doc.CollectionKeys() {
		coll, err := doc.Collection(name)
		if err != nil {
			return nil, domain.MalformedDocumentError{Key: key, Collection: name, Err: err}
		}
		out = append(out, coll)
	}
	return out, nil
}

// put writes coll into the cached document for key and stages it.
func (tx *session) put(key string, coll domain.Collection) error {
	doc, ok := tx.docs[key]
	if !ok {
		doc = domain.NewDocument()
		tx.docs[key] = doc
	}
	if err := doc.SetCollection(coll); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	tx.stage(key)
	return nil
}

func (tx *session) stage(key string) {
	for _, k := range tx.staged {
		if k == key {
			return
		}
	}
	tx.staged = append(tx.staged, key)
}

// execute runs fn inside a session, writes staged documents, records the run
// and observes metrics. A run is recorded even when fn fails.
func (s *Service) execute(ctx context.Context, op string, fn func(ctx context.Context, tx *session) error) (Result, error) {
	start := s.now()
	run := ledger.NewRun(op, nil, start)
	tx := &session{svc: s, docs: map[string]*domain.Document{}, report: domain.NewReport(op)}
	logger := s.logger.With().Str("operation", op).Str("run", run.ID.String()).Logger()

	err := fn(ctx, tx)
	var written []string
	if err == nil {
		written, err = s.commit(ctx, tx)
	}
	if err != nil {
		tx.report.Failed++
		tx.report.Errorf(issueCode(err), "", "", "%v", err)
	}

	run.Documents = tx.loaded
	// Only mappings that reached storage may be replayed by Remap.
	if err == nil && !s.dryRun {
		run.IDChanges = tx.changes
		run.Mapping = tx.mapping
	}
	run.Finish(tx.report, s.now())
	if s.runs != nil {
		if lerr := s.runs.Save(ctx, run); lerr != nil {
			logger.Error().Err(lerr).Msg("run not recorded")
			err = errors.Join(err, fmt.Errorf("record run: %w", lerr))
		}
	}
	s.metrics.Observe(ctx, op, err == nil && run.Outcome != domain.OutcomeFailure, run.FinishedAt.Sub(run.StartedAt))
	s.metrics.ObserveReport(ctx, tx.report)

	evt := logger.Info()
	if err != nil {
		evt = logger.Error().Err(err)
	}
	evt.Str("outcome", string(run.Outcome)).
		Int("changed", tx.report.Changed).
		Int("issues", len(tx.report.Issues)).
		Strs("written", written).
		Msg("operation finished")

	return Result{RunID: run.ID, Report: tx.report, Written: written, DryRun: s.dryRun}, err
}

func (s *Service) commit(ctx context.Context, tx *session) ([]string, error) {
	if s.dryRun {
		return nil, nil
	}
	written := make([]string, 0, len(tx.staged))
	for _, key := range tx.staged {
		if err := s.docs.Save(ctx, key, tx.docs[key]); err != nil {
			return written, err
		}
		written = append(written, key)
	}
	return written, nil
}

func issueCode(err error) string {
	var rej *sink.RejectedError
	switch {
	case errors.Is(err, domain.ErrMalformedDocument):
		return domain.CodeMalformedDocument
	case errors.Is(err, domain.ErrMissingCollection):
		return domain.CodeMissingCollection
	case errors.As(err, &rej):
		return domain.CodeSinkRejected
	case sink.IsTransient(err):
		return domain.CodeSinkUnavailable
	default:
		return domain.CodeOperationFailed
	}
}
