package domain

import (
	"fmt"
	"strings"
)

// Severity ranks report issues.
type Severity string

const (
	// SeverityError marks a record or collection that could not be processed.
	SeverityError Severity = "error"
	// SeverityWarn marks a problem that was reported but did not stop processing.
	SeverityWarn Severity = "warn"
	// SeverityInfo records a change made on the caller's request.
	SeverityInfo Severity = "info"
)

// Issue codes.
const (
	CodeMalformedDocument   = "malformed_document"
	CodeMissingCollection   = "missing_collection"
	CodeDanglingReference   = "dangling_reference"
	CodeDuplicateIdentifier = "duplicate_identifier"
	CodeInvalidIdentifier   = "invalid_identifier"
	CodeAmbiguousIdentifier = "ambiguous_identifier"
	CodeMalformedList       = "malformed_association_list"
	CodeDuplicateEntry      = "duplicate_association_entry"
	CodeShortName           = "short_name"
	CodeSinkRejected        = "sink_rejected"
	CodeSinkUnavailable     = "sink_unavailable"
	CodePruned              = "pruned"
	CodeRegenerated         = "regenerated"
	CodeUnresolved          = "unresolved_foreign_key"
	CodeOperationFailed     = "operation_failed"
	CodeSortOrderRange      = "sort_order_out_of_range"
	CodeCloned              = "cloned"
)

// Issue is one entry of a Report.
type Issue struct {
	Code       string   `json:"code"`
	Severity   Severity `json:"severity"`
	Collection string   `json:"collection,omitempty"`
	RecordID   string   `json:"recordId,omitempty"`
	Field      string   `json:"field,omitempty"`
	Message    string   `json:"message"`
}

func (i Issue) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", i.Severity, i.Code)
	if i.Collection != "" {
		fmt.Fprintf(&b, " %s", i.Collection)
		if i.RecordID != "" {
			fmt.Fprintf(&b, "/%s", i.RecordID)
		}
	}
	if i.Field != "" {
		fmt.Fprintf(&b, " %s", i.Field)
	}
	fmt.Fprintf(&b, ": %s", i.Message)
	return b.String()
}

// Outcome summarises a run.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailure Outcome = "failure"
)

// Report is the structured result of an operation: what changed, what was
// left alone, what was skipped and what failed.
type Report struct {
	Operation string  `json:"operation"`
	Issues    []Issue `json:"issues,omitempty"`
	Changed   int     `json:"changed"`
	Unchanged int     `json:"unchanged"`
	Skipped   int     `json:"skipped"`
	Failed    int     `json:"failed"`
}

// NewReport starts a report for operation.
func NewReport(operation string) Report { return Report{Operation: operation} }

// Add appends an issue.
func (r *Report) Add(issue Issue) { r.Issues = append(r.Issues, issue) }

// Errorf appends an error issue.
func (r *Report) Errorf(code, collection, recordID, format string, args ...any) {
	r.Add(Issue{Code: code, Severity: SeverityError, Collection: collection, RecordID: recordID, Message: fmt.Sprintf(format, args...)})
}

// Warnf appends a warning issue.
func (r *Report) Warnf(code, collection, recordID, format string, args ...any) {
	r.Add(Issue{Code: code, Severity: SeverityWarn, Collection: collection, RecordID: recordID, Message: fmt.Sprintf(format, args...)})
}

// Infof appends an informational issue.
func (r *Report) Infof(code, collection, recordID, format string, args ...any) {
	r.Add(Issue{Code: code, Severity: SeverityInfo, Collection: collection, RecordID: recordID, Message: fmt.Sprintf(format, args...)})
}

// Merge folds other into r.
func (r *Report) Merge(other Report) {
	r.Issues = append(r.Issues, other.Issues...)
	r.Changed += other.Changed
	r.Unchanged += other.Unchanged
	r.Skipped += other.Skipped
	r.Failed += other.Failed
}

// Count returns the number of issues with severity s.
func (r Report) Count(s Severity) int {
	n := 0
	for _, i := range r.Issues {
		if i.Severity == s {
			n++
		}
	}
	return n
}

// HasErrors reports whether anything failed.
func (r Report) HasErrors() bool { return r.Failed > 0 || r.Count(SeverityError) > 0 }

// Outcome is success when nothing failed, failure when nothing succeeded,
// and partial otherwise.
func (r Report) Outcome() Outcome {
	if !r.HasErrors() {
		return OutcomeSuccess
	}
	if r.Changed+r.Unchanged == 0 {
		return OutcomeFailure
	}
	return OutcomePartial
}
