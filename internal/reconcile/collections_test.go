package reconcile

import (
	"errors"
	"fmt"
	"testing"
	"unicode/utf8"

	"metarecon/pkg/domain"
)

func TestMergeCollections_AppendsInOrder(t *testing.T) {
	var base []string
	for i := 0; i < 18; i++ {
		base = append(base, fmt.Sprintf(`{"name":"Program %d","id":"prgBase%04d","style":{"icon":null},"sharing":[%d, "r-------"]}`, i, i, i))
	}
	first := coll(domain.Programs, base...)
	extra := coll(domain.Programs, `{"id":"prgExtra001","zeta":1.50,"alpha":"\u00e9"}`)
	extra.Envelope = []byte(`{"rev":"9"}`)

	merged, err := MergeCollections(0, first, extra)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if merged.Len() != 19 {
		t.Fatalf("expected 19 records, got %d", merged.Len())
	}
	ids := merged.IDs()
	if ids[0] != "prgBase0000" || ids[17] != "prgBase0017" || ids[18] != "prgExtra001" {
		t.Fatalf("unexpected order %v", ids)
	}
	sources := append(append([]domain.Record(nil), first.Records...), extra.Records...)
	for i, rec := range merged.Records {
		got, err := rec.MarshalJSON()
		if err != nil {
			t.Fatalf("encode merged %d: %v", i, err)
		}
		want, err := sources[i].MarshalJSON()
		if err != nil {
			t.Fatalf("encode source %d: %v", i, err)
		}
		if string(got) != string(want) {
			t.Fatalf("record %d changed by merge:\n got %s\nwant %s", i, got, want)
		}
	}
	if string(merged.Envelope) != `{"rev":"7"}` {
		t.Fatalf("envelope should come from the authoritative input, got %s", merged.Envelope)
	}
	merged.Records[0].SetID("changed0000")
	if first.Records[0].ID() != "prgBase0000" {
		t.Fatalf("merge shares records with its input")
	}
}

func TestMergeCollections_Errors(t *testing.T) {
	if _, err := MergeCollections(0); !errors.Is(err, ErrNothingToMerge) {
		t.Fatalf("expected ErrNothingToMerge, got %v", err)
	}
	a := coll(domain.Programs, `{"id":"a"}`)
	b := coll(domain.DataElements, `{"id":"b"}`)
	if _, err := MergeCollections(0, a, b); !errors.Is(err, ErrKeyMismatch) {
		t.Fatalf("expected ErrKeyMismatch, got %v", err)
	}
	if _, err := MergeCollections(3, a); err == nil {
		t.Fatalf("expected out of range error")
	}
}

func TestSplitByCategory(t *testing.T) {
	elements := coll(domain.DataElements,
		`{"id":"a","name":"Lung lobe"}`,
		`{"id":"b","name":"Breast size"}`,
		`{"id":"c","name":"Weight"}`,
		`{"id":"d","name":"Breast side"}`,
	)
	parts := SplitByCategory(elements, nameCategory, []string{"Breast", "Cervix"})
	if len(parts) != 3 {
		t.Fatalf("expected 3 non-empty parts, got %d", len(parts))
	}
	want := [][]string{{"b", "d"}, {"c"}, {"a"}}
	total := 0
	for i, p := range parts {
		ids := p.IDs()
		total += len(ids)
		if fmt.Sprint(ids) != fmt.Sprint(want[i]) {
			t.Fatalf("part %d: got %v want %v", i, ids, want[i])
		}
		if p.Key != domain.DataElements {
			t.Fatalf("part %d lost its key", i)
		}
	}
	if total != elements.Len() {
		t.Fatalf("split lost records")
	}
}

func TestNormalizeShortNames(t *testing.T) {
	elements := coll(domain.DataElements,
		`{"id":"a","name":"Tumour size in millimetres","shortName":"Tumour size in millimetres"}`,
		`{"id":"b","name":"Tumour size in millimetres at surgery"}`,
		`{"id":"c","name":"Stage","shortName":"Stage"}`,
		`{"id":"d","name":"Überprüfung des Befundes"}`,
	)
	out, rep := NormalizeShortNames(elements, 12)
	got := make([]string, 0, out.Len())
	for _, r := range out.Records {
		sn := r.ShortName()
		if utf8.RuneCountInString(sn) > 12 {
			t.Fatalf("shortName %q over limit", sn)
		}
		got = append(got, sn)
	}
	want := []string{"Tumour size ", "Tumour siz-1", "Stage", "Überprüfung "}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("got %q want %q", got, want)
	}
	if rep.Changed != 3 || rep.Unchanged != 1 {
		t.Fatalf("unexpected counts %+v", rep)
	}
	if elements.Records[0].ShortName() != "Tumour size in millimetres" {
		t.Fatalf("input mutated")
	}
}

func TestFilterRecords(t *testing.T) {
	elements := coll(domain.DataElements,
		`{"id":"a","name":"Breast size"}`,
		`{"id":"b","name":"Weight"}`,
		`{"id":"c","name":"Breast side"}`,
	)
	kept, removed, rep := FilterRecords(elements, func(r domain.Record) (bool, error) {
		if r.ID() == "c" {
			return false, errors.New("boom")
		}
		return nameCategory(r) == "Breast", nil
	})
	if fmt.Sprint(kept.IDs()) != "[a c]" || fmt.Sprint(removed.IDs()) != "[b]" {
		t.Fatalf("kept %v removed %v", kept.IDs(), removed.IDs())
	}
	if rep.Changed != 1 || rep.Unchanged != 1 || rep.Failed != 1 {
		t.Fatalf("unexpected counts %+v", rep)
	}
	if !rep.HasErrors() {
		t.Fatalf("predicate failure must be reported")
	}
}

func TestApplyIDMapping(t *testing.T) {
	programs := coll(domain.Programs, `{"id":"old"}`, `{"id":"prgKeep0001"}`)
	stages := coll(domain.ProgramStages,
		`{"id":"stgOne00001","program":{"id":"old"}}`,
		`{"id":"stgTwo00001","program":{"id":"prgKeep0001"}}`,
	)
	mapping := map[string]map[string]string{domain.Programs: {"old": "prgNew00001"}}
	out, rep := ApplyIDMapping([]domain.Collection{programs, stages}, domain.DefaultSchema(), mapping)
	if out[0].Records[0].ID() != "prgNew00001" {
		t.Fatalf("record id not remapped")
	}
	if id, _ := out[1].Records[0].Ref("program"); id != "prgNew00001" {
		t.Fatalf("reference not remapped: %s", id)
	}
	if id, _ := out[1].Records[1].Ref("program"); id != "prgKeep0001" {
		t.Fatalf("unrelated reference changed: %s", id)
	}
	if rep.Changed != 2 {
		t.Fatalf("expected two changes, got %d", rep.Changed)
	}
	if programs.Records[0].ID() != "old" {
		t.Fatalf("input mutated")
	}
}
