package domain

import (
	"testing"
)

func TestForeignKeyRefs(t *testing.T) {
	stage := MustRecord(`{"id":"stg00000001","program":{"id":"prg00000001"},"programStageDataElements":[{"dataElement":{"id":"de000000001"}},{"compulsory":true},{"dataElement":{"id":"de000000002"}}],"programStageSections":[{"id":"sec00000001"}]}`)
	cases := []struct {
		fk   ForeignKey
		want []Ref
	}{
		{ForeignKey{Collection: ProgramStages, Field: "program", Target: Programs}, []Ref{{-1, "prg00000001"}}},
		{ForeignKey{Collection: ProgramStages, Field: "programStageDataElements", Nested: "dataElement", List: true, Target: DataElements}, []Ref{{0, "de000000001"}, {2, "de000000002"}}},
		{ForeignKey{Collection: ProgramStages, Field: "programStageSections", List: true, Target: ProgramStageSections}, []Ref{{0, "sec00000001"}}},
		{ForeignKey{Collection: ProgramStages, Field: "absent", Target: Programs}, nil},
	}
	for _, tc := range cases {
		got, err := tc.fk.Refs(stage)
		if err != nil {
			t.Fatalf("%s: %v", tc.fk, err)
		}
		if len(got) != len(tc.want) {
			t.Fatalf("%s: got %v want %v", tc.fk, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("%s: got %v want %v", tc.fk, got, tc.want)
			}
		}
	}
}

func TestForeignKeyRewriteAndDrop(t *testing.T) {
	fk := ForeignKey{Collection: ProgramStages, Field: "programStageDataElements", Nested: "dataElement", List: true, Target: DataElements}
	stage := MustRecord(`{"programStageDataElements":[{"dataElement":{"id":"old"},"sortOrder":1},{"dataElement":{"id":"keep"},"sortOrder":2}]}`)
	n, err := fk.Rewrite(&stage, func(id string) (string, bool) {
		if id == "old" {
			return "new", true
		}
		return "", false
	})
	if err != nil || n != 1 {
		t.Fatalf("rewrite: %d %v", n, err)
	}
	refs, _ := fk.Refs(stage)
	if refs[0].ID != "new" || refs[1].ID != "keep" {
		t.Fatalf("unexpected refs after rewrite %v", refs)
	}
	removed, err := fk.DropEntries(&stage, map[int]bool{0: true})
	if err != nil || removed != 1 {
		t.Fatalf("drop: %d %v", removed, err)
	}
	out, _ := stage.MarshalJSON()
	if string(out) != `{"programStageDataElements":[{"dataElement":{"id":"keep"},"sortOrder":2}]}` {
		t.Fatalf("unexpected record %s", out)
	}

	single := ForeignKey{Collection: ProgramStages, Field: "program", Target: Programs}
	r := MustRecord(`{"program":{"id":"p","name":"kept"}}`)
	if n, _ := single.Rewrite(&r, func(string) (string, bool) { return "q", true }); n != 1 {
		t.Fatalf("expected single rewrite")
	}
	out, _ = r.MarshalJSON()
	if string(out) != `{"program":{"id":"q","name":"kept"}}` {
		t.Fatalf("unexpected single rewrite %s", out)
	}
	if n, _ := single.DropEntries(&r, map[int]bool{-1: true}); n != 1 || r.Has("program") {
		t.Fatalf("expected single key to be removed")
	}
}

func TestForeignKeyMalformedList(t *testing.T) {
	fk := ForeignKey{Collection: ProgramStages, Field: "programStageDataElements", Nested: "dataElement", List: true, Target: DataElements}
	if _, err := fk.Refs(MustRecord(`{"programStageDataElements":{"a":1}}`)); err == nil {
		t.Fatalf("expected malformed list error")
	}
}

func TestDefaultSchema(t *testing.T) {
	s := DefaultSchema()
	if err := s.Validate(); err != nil {
		t.Fatalf("default schema invalid: %v", err)
	}
	if len(s.From(ProgramStages)) != 3 {
		t.Fatalf("expected three keys on program stages, got %v", s.From(ProgramStages))
	}
	if len(s.Into(DataElements)) != 5 {
		t.Fatalf("expected five keys into data elements, got %v", s.Into(DataElements))
	}
	bad := Schema{Keys: []ForeignKey{{Collection: "a", Field: "b", Nested: "c", Target: "d"}}}
	if err := bad.Validate(); err == nil {
		t.Fatalf("nested without list must be rejected")
	}
}

func TestReportOutcome(t *testing.T) {
	r := NewReport("assign")
	if r.Outcome() != OutcomeSuccess {
		t.Fatalf("empty report should succeed")
	}
	r.Changed = 2
	r.Warnf(CodeDanglingReference, ProgramStages, "s1", "dangling %s", "x")
	if r.Outcome() != OutcomeSuccess {
		t.Fatalf("warnings alone must not fail a run")
	}
	r.Errorf(CodeMalformedList, ProgramStages, "s2", "bad list")
	if r.Outcome() != OutcomePartial {
		t.Fatalf("expected partial, got %s", r.Outcome())
	}
	failed := NewReport("push")
	failed.Failed = 1
	if failed.Outcome() != OutcomeFailure {
		t.Fatalf("expected failure, got %s", failed.Outcome())
	}
	failed.Merge(r)
	if failed.Changed != 2 || len(failed.Issues) != 2 || failed.Outcome() != OutcomePartial {
		t.Fatalf("unexpected merged report %+v", failed)
	}
}
