package profile

import (
	"os"
	"path/filepath"
	"testing"

	"metarecon/internal/reconcile"
	"metarecon/pkg/domain"
)

const sample = `
version: 1
vocabulary:
  terms: [Breast, Cancer]
  genericKeywords: [screening]
  genericCategory: Common
  fallbackCategory: Unsorted
classify:
  matchParentRef: true
schema:
  foreignKeys:
    - collection: programStages
      field: program
      target: programs
association:
  universalCategory: Common
  template:
    - key: compulsory
      value: true
    - key: displayInReports
      value: false
ids:
  valid: "id.startsWith('x') && size(id) == 5"
  maxLength: 5
  scope: global
shortNames:
  limit: 20
filters:
  tracker: "record.?domainType.orValue('') == 'TRACKER'"
`

func TestParse_Sample(t *testing.T) {
	r, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := r.Classifier().Classify(domain.MustRecord(`{"name":"Breast Cancer Program"}`)); got != "Breast" {
		t.Fatalf("first listed term must win, got %s", got)
	}
	if got := r.Classifier().Classify(domain.MustRecord(`{"name":"Screening visit"}`)); got != "Common" {
		t.Fatalf("generic keyword should map to Common, got %s", got)
	}
	if len(r.Schema.Keys) != 1 {
		t.Fatalf("schema not replaced: %d keys", len(r.Schema.Keys))
	}
	if r.Association.UniversalCategory != "Common" || r.Association.ListField != domain.AssociationField {
		t.Fatalf("association spec not merged: %+v", r.Association)
	}
	if len(r.Association.Template) != 2 || string(r.Association.Template[0].Value) != "true" {
		t.Fatalf("template not decoded: %+v", r.Association.Template)
	}
	if !r.IDPolicy.Valid("xabcd") || r.IDPolicy.Valid("abcDEF12345") {
		t.Fatalf("id expression not applied")
	}
	if r.IDPolicy.MaxLength != 5 || r.Scope != reconcile.ScopeGlobal || r.ShortNameLimit != 20 {
		t.Fatalf("scalars not applied: %+v", r)
	}
	keep, err := r.Filter("tracker")
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if ok, _ := keep(domain.MustRecord(`{"domainType":"TRACKER"}`)); !ok {
		t.Fatalf("named filter did not match")
	}
	adhoc, err := r.Filter("name == 'x'")
	if err != nil {
		t.Fatalf("ad hoc filter: %v", err)
	}
	if ok, _ := adhoc(domain.MustRecord(`{"name":"x"}`)); !ok {
		t.Fatalf("ad hoc filter did not match")
	}
}

func TestDefault(t *testing.T) {
	r, err := Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if !r.IDPolicy.Valid("abcDEF12345") || r.ShortNameLimit != DefaultShortNameLimit {
		t.Fatalf("unexpected defaults")
	}
	if len(r.Schema.Keys) != len(domain.DefaultSchema().Keys) {
		t.Fatalf("default schema not used")
	}
}

func TestParse_Errors(t *testing.T) {
	cases := map[string]string{
		"version":    "version: 2\n",
		"yaml":       "version: [\n",
		"vocabulary": "version: 1\nvocabulary:\n  terms: []\n",
		"schema":     "version: 1\nschema:\n  foreignKeys:\n    - field: x\n",
		"id expr":    "version: 1\nids:\n  valid: \"size(id)\"\n",
		"scope":      "version: 1\nids:\n  scope: planet\n",
		"filter":     "version: 1\nfilters:\n  bad: \"record ===\"\n",
		"template":   "version: 1\nassociation:\n  template:\n    - value: true\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if r, err := Load(""); err != nil || r == nil {
		t.Fatalf("empty path should give defaults: %v", err)
	}
}
