package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Field is one key/value pair of a record. Value holds the raw JSON bytes of
// the value exactly as they were read.
type Field struct {
	Key   string
	Value json.RawMessage
}

// Record is a loosely typed metadata entity. Fields keep their original order
// and unknown fields are carried through untouched.
type Record struct {
	fields []Field
}

var (
	errNotObject = errors.New("value is not a JSON object")
	jsonNull     = json.RawMessage("null")
)

// NewRecord builds a record from the supplied fields in order.
func NewRecord(fields ...Field) Record {
	out := make([]Field, len(fields))
	copy(out, fields)
	return Record{fields: out}
}

// MustRecord decodes a JSON object and panics on failure. Intended for fixtures.
func MustRecord(data string) Record {
	var r Record
	if err := r.UnmarshalJSON([]byte(data)); err != nil {
		panic(err)
	}
	return r
}

// Len reports the number of fields.
func (r Record) Len() int { return len(r.fields) }

// Keys returns the field names in order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r.fields))
	for _, f := range r.fields {
		keys = append(keys, f.Key)
	}
	return keys
}

// Fields returns a copy of the ordered fields.
func (r Record) Fields() []Field {
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

func (r Record) indexOf(key string) int {
	for i, f := range r.fields {
		if f.Key == key {
			return i
		}
	}
	return -1
}

// Get returns the raw value stored under key.
func (r Record) Get(key string) (json.RawMessage, bool) {
	i := r.indexOf(key)
	if i < 0 {
		return nil, false
	}
	return r.fields[i].Value, true
}

// Has reports whether key is present, including explicit nulls.
func (r Record) Has(key string) bool { return r.indexOf(key) >= 0 }

// SetRaw stores raw JSON under key, replacing an existing value in place or
// appending a new field.
func (r *Record) SetRaw(key string, value json.RawMessage) {
	if value == nil {
		value = jsonNull
	}
	if i := r.indexOf(key); i >= 0 {
		r.fields[i].Value = value
		return
	}
	r.fields = append(r.fields, Field{Key: key, Value: value})
}

// Set marshals value and stores it under key.
func (r *Record) Set(key string, value any) error {
	raw, err := marshalValue(value)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	r.SetRaw(key, raw)
	return nil
}

// Delete removes key and reports whether it was present.
func (r *Record) Delete(key string) bool {
	i := r.indexOf(key)
	if i < 0 {
		return false
	}
	r.fields = append(r.fields[:i:i], r.fields[i+1:]...)
	return true
}

// String returns the string stored under key, or "" when absent, null or not a string.
func (r Record) String(key string) string {
	raw, ok := r.Get(key)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// ID returns the record identifier.
func (r Record) ID() string { return r.String("id") }

// SetID replaces the record identifier.
func (r *Record) SetID(id string) {
	raw, _ := marshalValue(id)
	r.SetRaw("id", raw)
}

// Name returns the display name.
func (r Record) Name() string { return r.String("name") }

// ShortName returns the short display name.
func (r Record) ShortName() string { return r.String("shortName") }

// Number returns the numeric value stored under key.
func (r Record) Number(key string) (float64, bool) {
	raw, ok := r.Get(key)
	if !ok {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	return n, true
}

// Object decodes the nested object stored under key. A missing key or an
// explicit null yields ok=false without error.
func (r Record) Object(key string) (Record, bool, error) {
	raw, ok := r.Get(key)
	if !ok || isNull(raw) {
		return Record{}, false, nil
	}
	var nested Record
	if err := nested.UnmarshalJSON(raw); err != nil {
		return Record{}, false, fmt.Errorf("field %s: %w", key, err)
	}
	return nested, true, nil
}

// Ref returns the id of the nested {"id": ...} reference stored under key.
func (r Record) Ref(key string) (string, bool) {
	nested, ok, err := r.Object(key)
	if err != nil || !ok {
		return "", false
	}
	id := nested.ID()
	if id == "" {
		return "", false
	}
	return id, true
}

// SetRef points the nested reference under key at id, keeping any other
// fields of the nested object.
func (r *Record) SetRef(key, id string) error {
	nested, ok, err := r.Object(key)
	if err != nil {
		return err
	}
	if !ok {
		nested = Record{}
	}
	nested.SetID(id)
	raw, err := nested.encode()
	if err != nil {
		return err
	}
	r.SetRaw(key, raw)
	return nil
}

// Entries decodes the embedded list of objects stored under key. A missing
// key or null yields an empty list.
func (r Record) Entries(key string) ([]Record, error) {
	raw, ok := r.Get(key)
	if !ok || isNull(raw) {
		return nil, nil
	}
	entries, err := decodeRecordArray(raw)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", key, err)
	}
	return entries, nil
}

// SetEntries stores entries as the embedded list under key.
func (r *Record) SetEntries(key string, entries []Record) error {
	raw, err := encodeRecordArray(entries)
	if err != nil {
		return fmt.Errorf("field %s: %w", key, err)
	}
	r.SetRaw(key, raw)
	return nil
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := make([]Field, len(r.fields))
	for i, f := range r.fields {
		v := make(json.RawMessage, len(f.Value))
		copy(v, f.Value)
		out[i] = Field{Key: f.Key, Value: v}
	}
	return Record{fields: out}
}

// MarshalJSON encodes the record preserving field order.
func (r Record) MarshalJSON() ([]byte, error) {
	return r.encode()
}

// UnmarshalJSON decodes a JSON object preserving field order.
func (r *Record) UnmarshalJSON(data []byte) error {
	fields, err := decodeObject(data)
	if err != nil {
		return err
	}
	r.fields = fields
	return nil
}

func (r Record) encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeObject(&buf, r.fields); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeObject(buf *bytes.Buffer, fields []Field) error {
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := marshalValue(f.Key)
		if err != nil {
			return err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if len(f.Value) == 0 {
			buf.Write(jsonNull)
			continue
		}
		if !json.Valid(f.Value) {
			return fmt.Errorf("field %s holds invalid JSON", f.Key)
		}
		buf.Write(f.Value)
	}
	buf.WriteByte('}')
	return nil
}

func decodeObject(data []byte) ([]Field, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errNotObject
	}
	fields := make([]Field, 0, 8)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}
		fields = append(fields, Field{Key: key, Value: raw})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after object")
	}
	return fields, nil
}

func decodeRecordArray(raw json.RawMessage) ([]Record, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("expected array of objects: %w", err)
	}
	out := make([]Record, 0, len(items))
	for i, item := range items {
		var rec Record
		if err := rec.UnmarshalJSON(item); err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func encodeRecordArray(records []Record) (json.RawMessage, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, rec := range records {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeObject(&buf, rec.fields); err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// marshalValue encodes v without HTML escaping so that rewritten values keep
// the same textual form the platform exported.
func marshalValue(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), jsonNull)
}
