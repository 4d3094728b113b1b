package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"metarecon/internal/ledger"
	"metarecon/internal/sink"
	"metarecon/pkg/domain"
)

// PushRequest lists the documents to import and whether to trigger the
// analytics rebuild afterwards.
type PushRequest struct {
	Keys    []string
	Rebuild bool
}

// Pushed is the sink's verdict on one document.
type Pushed struct {
	Key      string             `json:"key"`
	Status   string             `json:"status"`
	Stats    sink.ImportStats   `json:"stats"`
	Attempts int                `json:"attempts"`
	Errors   []sink.ErrorReport `json:"errorReports,omitempty"`
}

// PushResult lists per-document import results.
type PushResult struct {
	Result
	Documents []Pushed `json:"documents"`
	Rebuild   string   `json:"rebuild,omitempty"`
}

// Push imports each document. Malformed documents, rejections and
// unavailable sinks are reported per document and the batch continues.
func (s *Service) Push(ctx context.Context, req PushRequest) (PushResult, error) {
	var out PushResult
	res, err := s.execute(ctx, "push", func(ctx context.Context, tx *session) error {
		if s.sink == nil {
			return ErrNoSink
		}
		imported := 0
		for _, key := range req.Keys {
			doc, err := tx.load(ctx, key)
			if errors.Is(err, domain.ErrMalformedDocument) {
				tx.report.Errorf(domain.CodeMalformedDocument, "", key, "%v", err)
				tx.report.Failed++
				continue
			}
			if err != nil {
				return err
			}
			body, err := doc.Encode()
			if err != nil {
				return fmt.Errorf("encode %s: %w", key, err)
			}
			ir, err := s.sink.Import(ctx, body)
			p := Pushed{Key: key, Status: ir.Status, Stats: ir.Stats, Attempts: ir.Attempts, Errors: ir.ErrorReports}
			out.Documents = append(out.Documents, p)
			var rej *sink.RejectedError
			switch {
			case errors.As(err, &rej):
				for _, i := range ir.Issues("") {
					tx.report.Add(i)
				}
				tx.report.Errorf(domain.CodeSinkRejected, "", key, "%v", err)
				tx.report.Failed++
				continue
			case sink.IsTransient(err):
				tx.report.Errorf(domain.CodeSinkUnavailable, "", key, "%v", err)
				tx.report.Failed++
				continue
			case err != nil:
				return err
			}
			for _, i := range ir.Issues("") {
				tx.report.Add(i)
			}
			tx.report.Changed++
			imported++
		}
		if !req.Rebuild || imported == 0 {
			return nil
		}
		msg, err := s.sink.RebuildAnalytics(ctx)
		if err != nil {
			tx.report.Errorf(issueCode(err), "", "", "analytics rebuild: %v", err)
			tx.report.Failed++
			return nil
		}
		out.Rebuild = msg
		return nil
	})
	out.Result = res
	return out, err
}

// PullRequest exports Collections from the sink into Output.
type PullRequest struct {
	Collections []string
	Output      string
}

// PullResult counts records per pulled collection.
type PullResult struct {
	Result
	Records map[string]int `json:"records"`
}

// Pull fetches collections from the sink and stores them as one document.
// Every requested collection must be present and well formed.
func (s *Service) Pull(ctx context.Context, req PullRequest) (PullResult, error) {
	out := PullResult{Records: map[string]int{}}
	res, err := s.execute(ctx, "pull", func(ctx context.Context, tx *session) error {
		if s.sink == nil {
			return ErrNoSink
		}
		if req.Output == "" {
			return errors.New("pull: output key required")
		}
		raw, err := s.sink.Export(ctx, req.Collections...)
		if err != nil {
			return err
		}
		doc, err := domain.ParseDocument(raw)
		if err != nil {
			return domain.MalformedDocumentError{Key: req.Output, Err: err}
		}
		for _, name := range req.Collections {
			coll, err := doc.Collection(name)
			if err != nil {
				return domain.MalformedDocumentError{Key: req.Output, Collection: name, Err: err}
			}
			out.Records[name] = coll.Len()
			tx.report.Changed += coll.Len()
		}
		tx.docs[req.Output] = doc
		tx.stage(req.Output)
		return nil
	})
	out.Result = res
	return out, err
}

// Runs lists recorded runs, newest first.
func (s *Service) Runs(ctx context.Context, opts ledger.ListOptions) ([]ledger.Run, error) {
	if s.runs == nil {
		return nil, errors.New("run ledger not configured")
	}
	return s.runs.List(ctx, opts)
}

// Run returns one recorded run.
func (s *Service) Run(ctx context.Context, id uuid.UUID) (ledger.Run, error) {
	if s.runs == nil {
		return ledger.Run{}, errors.New("run ledger not configured")
	}
	return s.runs.Get(ctx, id)
}
