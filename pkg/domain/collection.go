package domain

import "encoding/json"

// Collection is an ordered list of records stored under one top-level key of
// a document, together with the document's envelope.
type Collection struct {
	Key      string
	Envelope json.RawMessage
	Records  []Record
}

// Len reports the number of records.
func (c Collection) Len() int { return len(c.Records) }

// IDs returns record ids in order; records without an id yield "".
func (c Collection) IDs() []string {
	ids := make([]string, len(c.Records))
	for i, r := range c.Records {
		ids[i] = r.ID()
	}
	return ids
}

// Find returns the first record with id.
func (c Collection) Find(id string) (Record, bool) {
	for _, r := range c.Records {
		if r.ID() == id {
			return r, true
		}
	}
	return Record{}, false
}

// Clone deep-copies the collection.
func (c Collection) Clone() Collection {
	out := Collection{Key: c.Key}
	if c.Envelope != nil {
		out.Envelope = append(json.RawMessage(nil), c.Envelope...)
	}
	out.Records = make([]Record, len(c.Records))
	for i, r := range c.Records {
		out.Records[i] = r.Clone()
	}
	return out
}
