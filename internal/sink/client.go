// Package sink talks to the platform's metadata API: bulk import, export and
// the analytics rebuild trigger.
package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"metarecon/pkg/domain"
)

// Import report statuses.
const (
	StatusOK      = "OK"
	StatusWarning = "WARNING"
	StatusError   = "ERROR"
)

// Config holds connection and retry settings.
type Config struct {
	BaseURL        string
	Username       string
	Password       string
	Timeout        time.Duration
	Retries        int
	Backoff        time.Duration
	ImportStrategy string
	AtomicMode     string
	HTTPClient     *http.Client
}

// Client is a metadata sink client. It is safe for sequential use.
type Client struct {
	cfg    Config
	base   *url.URL
	http   *http.Client
	logger zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New validates cfg and returns a client.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("sink: base url required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("sink: invalid base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.ImportStrategy == "" {
		cfg.ImportStrategy = "CREATE_AND_UPDATE"
	}
	if cfg.AtomicMode == "" {
		cfg.AtomicMode = "NONE"
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{cfg: cfg, base: base, http: hc, logger: logger, sleep: sleepContext}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ImportStats are the counters of an import report.
type ImportStats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Ignored int `json:"ignored"`
	Total   int `json:"total"`
}

// ErrorReport is one per-object error of an import report, surfaced verbatim.
type ErrorReport struct {
	Klass     string `json:"klass,omitempty"`
	UID       string `json:"uid,omitempty"`
	Index     int    `json:"index"`
	ErrorCode string `json:"errorCode,omitempty"`
	Property  string `json:"property,omitempty"`
	Message   string `json:"message"`
}

// ImportResult is a parsed import report.
type ImportResult struct {
	Status       string        `json:"status"`
	Stats        ImportStats   `json:"stats"`
	ErrorReports []ErrorReport `json:"errorReports,omitempty"`
	Attempts     int           `json:"attempts"`
}

// Issues converts the error reports into report issues. An empty collection
// falls back to each report's klass.
func (r ImportResult) Issues(collection string) []domain.Issue {
	out := make([]domain.Issue, 0, len(r.ErrorReports))
	for _, e := range r.ErrorReports {
		coll := collection
		if coll == "" {
			coll = e.Klass
		}
		msg := e.Message
		if e.ErrorCode != "" {
			msg = e.ErrorCode + ": " + msg
		}
		out = append(out, domain.Issue{
			Code:       domain.CodeSinkRejected,
			Severity:   domain.SeverityWarn,
			Collection: coll,
			RecordID:   e.UID,
			Field:      e.Property,
			Message:    msg,
		})
	}
	return out
}

// Import posts a metadata document. A report with status ERROR is returned
// as a RejectedError carrying the report; WARNING is a partial success.
func (c *Client) Import(ctx context.Context, body []byte) (ImportResult, error) {
	q := url.Values{}
	q.Set("importStrategy", c.cfg.ImportStrategy)
	q.Set("atomicMode", c.cfg.AtomicMode)
	var res ImportResult
	status, payload, attempts, err := c.do(ctx, "import", http.MethodPost, "/api/metadata", q, body)
	res.Attempts = attempts
	if err != nil {
		return res, err
	}
	res.Status, res.Stats, res.ErrorReports = parseImportReport(payload)
	if res.Status == StatusError || status == http.StatusConflict {
		return res, &RejectedError{Op: "import", StatusCode: status, Status: res.Status, Message: gjson.GetBytes(payload, "message").String(), Reports: res.ErrorReports}
	}
	c.logger.Info().
		Str("status", res.Status).
		Int("created", res.Stats.Created).
		Int("updated", res.Stats.Updated).
		Int("ignored", res.Stats.Ignored).
		Int("errors", len(res.ErrorReports)).
		Msg("metadata import")
	return res, nil
}

// Export fetches the named collections as one metadata document.
func (c *Client) Export(ctx context.Context, collections ...string) ([]byte, error) {
	if len(collections) == 0 {
		return nil, errors.New("sink: export needs at least one collection")
	}
	q := url.Values{}
	for _, coll := range collections {
		q.Set(coll, "true")
	}
	_, payload, _, err := c.do(ctx, "export", http.MethodGet, "/api/metadata", q, nil)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(payload) || !gjson.ParseBytes(payload).IsObject() {
		return nil, &RejectedError{Op: "export", StatusCode: http.StatusOK, Message: "response is not a JSON object"}
	}
	return payload, nil
}

// RebuildAnalytics triggers the resource table rebuild and returns the
// sink's message.
func (c *Client) RebuildAnalytics(ctx context.Context) (string, error) {
	_, payload, _, err := c.do(ctx, "rebuild", http.MethodPost, "/api/resourceTables/rebuild", nil, nil)
	if err != nil {
		return "", err
	}
	msg := gjson.GetBytes(payload, "message").String()
	if msg == "" {
		msg = "analytics rebuild initiated"
	}
	return msg, nil
}

// do performs one logical call with retries on transient failures. Backoff is
// linear: the k-th retry waits k*Backoff.
func (c *Client) do(ctx context.Context, op, method, path string, q url.Values, body []byte) (int, []byte, int, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.Retries+1; attempt++ {
		if attempt > 1 {
			wait := time.Duration(attempt-1) * c.cfg.Backoff
			c.logger.Warn().Err(lastErr).Str("op", op).Int("attempt", attempt).Dur("wait", wait).Msg("retrying sink call")
			if err := c.sleep(ctx, wait); err != nil {
				return 0, nil, attempt - 1, fmt.Errorf("%w: %s: %w", ErrSink, op, err)
			}
		}
		status, payload, err := c.once(ctx, op, method, path, q, body)
		if err == nil {
			return status, payload, attempt, nil
		}
		if !IsTransient(err) {
			return status, payload, attempt, err
		}
		lastErr = err
	}
	return 0, nil, c.cfg.Retries + 1, lastErr
}

func (c *Client) once(ctx context.Context, op, method, path string, q url.Values, body []byte) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s: %v", ErrSink, op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, &TransientError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, &TransientError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return resp.StatusCode, payload, &TransientError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(snippet(payload))}
	case resp.StatusCode == http.StatusConflict && gjson.ValidBytes(payload):
		// The import endpoint answers 409 with a full report when objects fail.
		return resp.StatusCode, payload, nil
	case resp.StatusCode >= 400:
		status, _, reports := parseImportReport(payload)
		return resp.StatusCode, payload, &RejectedError{Op: op, StatusCode: resp.StatusCode, Status: status, Message: messageOf(payload), Reports: reports}
	}
	return resp.StatusCode, payload, nil
}

func messageOf(payload []byte) string {
	if gjson.ValidBytes(payload) {
		if m := gjson.GetBytes(payload, "message"); m.Exists() {
			return m.String()
		}
	}
	return snippet(payload)
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// parseImportReport reads status, stats and error reports from either the
// bare report or one wrapped under "response".
func parseImportReport(payload []byte) (string, ImportStats, []ErrorReport) {
	root := gjson.ParseBytes(payload)
	report := root
	if !root.Get("stats").Exists() && root.Get("response").IsObject() {
		report = root.Get("response")
	}
	status := report.Get("status").String()
	if status == "" {
		status = root.Get("status").String()
	}
	stats := ImportStats{
		Created: int(report.Get("stats.created").Int()),
		Updated: int(report.Get("stats.updated").Int()),
		Deleted: int(report.Get("stats.deleted").Int()),
		Ignored: int(report.Get("stats.ignored").Int()),
		Total:   int(report.Get("stats.total").Int()),
	}
	var reports []ErrorReport
	report.Get("typeReports").ForEach(func(_, tr gjson.Result) bool {
		klass := tr.Get("klass").String()
		tr.Get("objectReports").ForEach(func(_, obj gjson.Result) bool {
			obj.Get("errorReports").ForEach(func(_, er gjson.Result) bool {
				reports = append(reports, errorReport(er, klass, obj))
				return true
			})
			return true
		})
		return true
	})
	report.Get("errorReports").ForEach(func(_, er gjson.Result) bool {
		reports = append(reports, errorReport(er, "", gjson.Result{}))
		return true
	})
	return status, stats, reports
}

func errorReport(er gjson.Result, klass string, object gjson.Result) ErrorReport {
	out := ErrorReport{
		Klass:     klass,
		UID:       object.Get("uid").String(),
		Index:     int(object.Get("index").Int()),
		ErrorCode: er.Get("errorCode").String(),
		Property:  er.Get("errorProperty").String(),
		Message:   er.Get("message").String(),
	}
	if k := er.Get("mainKlass").String(); k != "" {
		out.Klass = k
	}
	if out.UID == "" {
		out.UID = er.Get("uid").String()
	}
	return out
}
