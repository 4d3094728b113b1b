package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EnvelopeKey is the top-level field carrying export metadata (platform
// version, revision, export date). It is preserved verbatim.
const EnvelopeKey = "system"

// Document is one stored JSON object holding one or more collections.
// Top-level field order and untouched values survive a load/save cycle.
type Document struct {
	fields   []Field
	original []byte
}

// NewDocument returns an empty document.
func NewDocument() *Document { return &Document{} }

// ParseDocument decodes data, which must be a single JSON object.
func ParseDocument(data []byte) (*Document, error) {
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedDocument)
	}
	fields, err := decodeObject(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	original := make([]byte, len(data))
	copy(original, data)
	return &Document{fields: fields, original: original}, nil
}

// Keys returns the top-level keys in order.
func (d *Document) Keys() []string {
	keys := make([]string, 0, len(d.fields))
	for _, f := range d.fields {
		keys = append(keys, f.Key)
	}
	return keys
}

// CollectionKeys returns the top-level keys holding arrays.
func (d *Document) CollectionKeys() []string {
	var keys []string
	for _, f := range d.fields {
		if v := bytes.TrimSpace(f.Value); len(v) > 0 && v[0] == '[' {
			keys = append(keys, f.Key)
		}
	}
	return keys
}

func (d *Document) indexOf(key string) int {
	for i, f := range d.fields {
		if f.Key == key {
			return i
		}
	}
	return -1
}

// Has reports whether the top-level key exists.
func (d *Document) Has(key string) bool { return d.indexOf(key) >= 0 }

// Raw returns the raw value of a top-level key.
func (d *Document) Raw(key string) (json.RawMessage, bool) {
	i := d.indexOf(key)
	if i < 0 {
		return nil, false
	}
	return d.fields[i].Value, true
}

// Envelope returns the raw `system` object, or nil when absent.
func (d *Document) Envelope() json.RawMessage {
	raw, _ := d.Raw(EnvelopeKey)
	return raw
}

// Collection decodes and validates the records stored under key. Every
// element must be an object whose id, name and shortName are strings when
// present. A missing key returns an error wrapping ErrMissingCollection; a
// null value is an empty collection.
func (d *Document) Collection(key string) (Collection, error) {
	c := Collection{Key: key, Envelope: d.Envelope()}
	raw, ok := d.Raw(key)
	if !ok {
		return c, fmt.Errorf("%s: %w", key, ErrMissingCollection)
	}
	if isNull(raw) {
		return c, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return c, fmt.Errorf("%w: %s is not an array", ErrMalformedDocument, key)
	}
	c.Records = make([]Record, 0, len(items))
	for i, item := range items {
		var rec Record
		if err := rec.UnmarshalJSON(item); err != nil {
			return Collection{Key: key}, fmt.Errorf("%w: %s[%d]: %v", ErrMalformedDocument, key, i, err)
		}
		if err := validateRecord(rec); err != nil {
			return Collection{Key: key}, fmt.Errorf("%w: %s[%d]: %v", ErrMalformedDocument, key, i, err)
		}
		c.Records = append(c.Records, rec)
	}
	return c, nil
}

var stringFields = []string{"id", "name", "shortName"}

func validateRecord(r Record) error {
	for _, key := range stringFields {
		raw, ok := r.Get(key)
		if !ok || isNull(raw) {
			continue
		}
		if v := bytes.TrimSpace(raw); len(v) == 0 || v[0] != '"' {
			return fmt.Errorf("field %s must be a string", key)
		}
	}
	return nil
}

// SetCollection stores c.Records under c.Key and, when c.Envelope is set,
// the envelope under EnvelopeKey. New keys are appended.
func (d *Document) SetCollection(c Collection) error {
	raw, err := encodeRecordArray(c.Records)
	if err != nil {
		return fmt.Errorf("collection %s: %w", c.Key, err)
	}
	if c.Envelope != nil {
		if !json.Valid(c.Envelope) {
			return fmt.Errorf("collection %s: envelope is not valid JSON", c.Key)
		}
		d.set(EnvelopeKey, c.Envelope)
	}
	d.set(c.Key, raw)
	return nil
}

// SetRaw stores a raw top-level value.
func (d *Document) SetRaw(key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return fmt.Errorf("value for %s is not valid JSON", key)
	}
	d.set(key, value)
	return nil
}

// Remove deletes a top-level key.
func (d *Document) Remove(key string) bool {
	i := d.indexOf(key)
	if i < 0 {
		return false
	}
	d.fields = append(d.fields[:i:i], d.fields[i+1:]...)
	return true
}

func (d *Document) set(key string, value json.RawMessage) {
	if i := d.indexOf(key); i >= 0 {
		d.fields[i].Value = value
		return
	}
	d.fields = append(d.fields, Field{Key: key, Value: value})
}

// Encode serialises the document. When the content is semantically unchanged
// since parsing, the original bytes are returned so that untouched documents
// round-trip byte for byte; otherwise the output is two-space indented JSON
// with a trailing newline.
func (d *Document) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeObject(&buf, d.fields); err != nil {
		return nil, err
	}
	if d.original != nil {
		var orig, cur bytes.Buffer
		if json.Compact(&orig, d.original) == nil && json.Compact(&cur, buf.Bytes()) == nil && bytes.Equal(orig.Bytes(), cur.Bytes()) {
			out := make([]byte, len(d.original))
			copy(out, d.original)
			return out, nil
		}
	}
	var out bytes.Buffer
	if err := json.Indent(&out, buf.Bytes(), "", "  "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}
