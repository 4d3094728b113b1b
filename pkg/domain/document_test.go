package domain

import (
	"errors"
	"strings"
	"testing"
)

const stageDoc = `{
    "system": {"version": "2.39", "date": "2024-05-01"},
    "programStages": [
        {"id": "stgBreast01", "name": "Breast Stage", "program": {"id": "prgBreast01"}, "custom": [1, 2]}
    ],
    "trailer": true
}`

func TestDocumentUnchangedEncodeIsByteIdentical(t *testing.T) {
	doc, err := ParseDocument([]byte(stageDoc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	coll, err := doc.Collection("programStages")
	if err != nil {
		t.Fatalf("collection: %v", err)
	}
	if err := doc.SetCollection(coll); err != nil {
		t.Fatalf("set collection: %v", err)
	}
	out, err := doc.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(out) != stageDoc {
		t.Fatalf("expected byte-identical output, got:\n%s", out)
	}
}

func TestDocumentChangedEncodeKeepsEnvelopeAndOrder(t *testing.T) {
	doc, err := ParseDocument([]byte(stageDoc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	coll, _ := doc.Collection("programStages")
	if string(coll.Envelope) != `{"version": "2.39", "date": "2024-05-01"}` {
		t.Fatalf("unexpected envelope %s", coll.Envelope)
	}
	coll.Records[0].SetID("stgBreast02")
	if err := doc.SetCollection(coll); err != nil {
		t.Fatalf("set collection: %v", err)
	}
	out, err := doc.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := `{
  "system": {
    "version": "2.39",
    "date": "2024-05-01"
  },
  "programStages": [
    {
      "id": "stgBreast02",
      "name": "Breast Stage",
      "program": {
        "id": "prgBreast01"
      },
      "custom": [
        1,
        2
      ]
    }
  ],
  "trailer": true
}
`
	if string(out) != want {
		t.Fatalf("unexpected encoding:\n%s", out)
	}
}

func TestDocumentCollectionErrors(t *testing.T) {
	cases := []struct {
		name string
		in   string
		key  string
		want error
	}{
		{"missing key", `{"programs":[]}`, "programStages", ErrMissingCollection},
		{"not array", `{"programStages":{}}`, "programStages", ErrMalformedDocument},
		{"element not object", `{"programStages":[1]}`, "programStages", ErrMalformedDocument},
		{"id not string", `{"programStages":[{"id":5}]}`, "programStages", ErrMalformedDocument},
		{"name not string", `{"programStages":[{"id":"a","name":["x"]}]}`, "programStages", ErrMalformedDocument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := ParseDocument([]byte(tc.in))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if _, err := doc.Collection(tc.key); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestDocumentNullCollectionIsEmpty(t *testing.T) {
	doc, err := ParseDocument([]byte(`{"programStages":null,"other":{"id":null}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	coll, err := doc.Collection("programStages")
	if err != nil || coll.Len() != 0 {
		t.Fatalf("expected empty collection: %+v %v", coll, err)
	}
	if keys := doc.CollectionKeys(); len(keys) != 0 {
		t.Fatalf("null is not an array key: %v", keys)
	}
}

func TestParseDocumentRejectsNonObjects(t *testing.T) {
	for _, in := range []string{``, `[]`, `{"a":`, `null`, `"x"`} {
		if _, err := ParseDocument([]byte(in)); !errors.Is(err, ErrMalformedDocument) {
			t.Fatalf("expected malformed for %q, got %v", in, err)
		}
	}
}

func TestNewDocumentSetCollection(t *testing.T) {
	doc := NewDocument()
	coll := Collection{Key: "programs", Envelope: []byte(`{"id":"x"}`), Records: []Record{MustRecord(`{"id":"prgBreast01"}`)}}
	if err := doc.SetCollection(coll); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := strings.Join(doc.Keys(), ","); got != "system,programs" {
		t.Fatalf("unexpected keys %s", got)
	}
	if !doc.Remove("system") || doc.Has("system") {
		t.Fatalf("remove system failed")
	}
	out, err := doc.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.HasSuffix(string(out), "}\n") {
		t.Fatalf("expected trailing newline: %q", out)
	}
}

func TestMalformedDocumentError(t *testing.T) {
	err := MalformedDocumentError{Key: "Program/Program.json", Collection: "programs", Err: ErrMissingCollection}
	if !errors.Is(err, ErrMalformedDocument) || !errors.Is(err, ErrMissingCollection) {
		t.Fatalf("expected both sentinels to match")
	}
	if !strings.Contains(err.Error(), "Program/Program.json") {
		t.Fatalf("unexpected message %s", err.Error())
	}
}
