package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedDocument marks storage content that cannot be read as a
	// metadata document. It is fatal for that document only.
	ErrMalformedDocument = errors.New("malformed document")
	// ErrMissingCollection is returned when a document lacks the requested collection key.
	ErrMissingCollection = errors.New("collection not present")
)

// MalformedDocumentError describes why a document could not be read.
type MalformedDocumentError struct {
	Key        string
	Collection string
	Err        error
}

func (e MalformedDocumentError) Error() string {
	var b strings.Builder
	b.WriteString("malformed document")
	if e.Key != "" {
		fmt.Fprintf(&b, " %s", e.Key)
	}
	if e.Collection != "" {
		fmt.Fprintf(&b, " (collection %s)", e.Collection)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e MalformedDocumentError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMalformedDocument}
	}
	return []error{ErrMalformedDocument, e.Err}
}

// DanglingReference is a foreign-key value that does not resolve in the
// target collection. Record is the referring record's position in its
// collection; Position is the list index for list keys and -1 for
// single-valued keys.
type DanglingReference struct {
	Collection string
	RecordID   string
	Record     int
	Field      string
	Position   int
	Target     string
	MissingID  string
}

func (d DanglingReference) Error() string {
	if d.Position >= 0 {
		return fmt.Sprintf("%s %s: %s[%d] references missing %s %s", d.Collection, d.RecordID, d.Field, d.Position, d.Target, d.MissingID)
	}
	return fmt.Sprintf("%s %s: %s references missing %s %s", d.Collection, d.RecordID, d.Field, d.Target, d.MissingID)
}

// DuplicateIdentifierError reports an id shared by more than one record of a collection.
type DuplicateIdentifierError struct {
	Collection string
	ID         string
	Positions  []int
}

func (e DuplicateIdentifierError) Error() string {
	return fmt.Sprintf("%s: id %s used by %d records (positions %v)", e.Collection, e.ID, len(e.Positions), e.Positions)
}
