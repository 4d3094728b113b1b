package classify

import (
	"testing"

	"metarecon/pkg/domain"
)

func TestClassify(t *testing.T) {
	c := New(DefaultVocabulary(), Options{})
	cases := []struct {
		name string
		want string
	}{
		{"Breast Cancer Program", "Breast"},
		{"LUNG follow-up", "Lung"},
		{"Breast and Lung combined", "Breast"},
		{"Lung and Breast combined", "Breast"},
		{"Cancer Diagnosis", "Generic"},
		{"Treatment details", "Generic"},
		{"Patient demographics", "Other"},
		{"", "Other"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := domain.MustRecord(`{"id":"x"}`)
			_ = r.Set("name", tc.name)
			if got := c.Classify(r); got != tc.want {
				t.Fatalf("classify %q = %q want %q", tc.name, got, tc.want)
			}
		})
	}
}

func TestClassify_VocabularyOrderDecides(t *testing.T) {
	c := New(Vocabulary{Terms: []string{"Breast", "Cancer"}, GenericCategory: "Generic", FallbackCategory: "Other"}, Options{})
	if got := c.Classify(domain.MustRecord(`{"name":"Breast Cancer Program"}`)); got != "Breast" {
		t.Fatalf("expected Breast, got %s", got)
	}
	reversed := New(Vocabulary{Terms: []string{"Cancer", "Breast"}, GenericCategory: "Generic", FallbackCategory: "Other"}, Options{})
	if got := reversed.Classify(domain.MustRecord(`{"name":"Breast Cancer Program"}`)); got != "Cancer" {
		t.Fatalf("expected Cancer, got %s", got)
	}
}

func TestClassify_ParentReference(t *testing.T) {
	rec := domain.MustRecord(`{"name":"Stage 1","program":{"id":"prostateProg"}}`)
	if got := New(DefaultVocabulary(), Options{}).Classify(rec); got != "Other" {
		t.Fatalf("parent ref must be ignored by default, got %s", got)
	}
	if got := New(DefaultVocabulary(), Options{MatchParentRef: true}).Classify(rec); got != "Prostate" {
		t.Fatalf("expected Prostate via parent ref, got %s", got)
	}
}

func TestGroupAndVocabulary(t *testing.T) {
	c := New(DefaultVocabulary(), Options{})
	coll := domain.Collection{Key: domain.Dashboards, Records: []domain.Record{
		domain.MustRecord(`{"name":"Breast dashboard"}`),
		domain.MustRecord(`{"name":"Kaposi dashboard"}`),
		domain.MustRecord(`{"name":"Breast trends"}`),
	}}
	groups := c.Group(coll)
	if len(groups["Breast"]) != 2 || len(groups["Kaposi"]) != 1 {
		t.Fatalf("unexpected groups %v", groups)
	}
	if err := DefaultVocabulary().Validate(); err != nil {
		t.Fatalf("default vocabulary invalid: %v", err)
	}
	if err := (Vocabulary{}).Validate(); err == nil {
		t.Fatalf("empty vocabulary must be invalid")
	}
	if cats := DefaultVocabulary().Categories(); cats[len(cats)-1] != "Other" || cats[len(cats)-2] != "Generic" {
		t.Fatalf("unexpected categories tail %v", cats[len(cats)-2:])
	}
}
