package reconcile

import (
	"strings"
	"testing"

	"metarecon/pkg/domain"
)

func coll(key string, records ...string) domain.Collection {
	c := domain.Collection{Key: key, Envelope: []byte(`{"rev":"7"}`)}
	for _, r := range records {
		c.Records = append(c.Records, domain.MustRecord(r))
	}
	return c
}

func encode(t *testing.T, c domain.Collection) string {
	t.Helper()
	parts := make([]string, 0, len(c.Records))
	for _, r := range c.Records {
		b, err := r.MarshalJSON()
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		parts = append(parts, string(b))
	}
	return strings.Join(parts, "\n")
}

func nameCategory(r domain.Record) string {
	name := r.Name()
	switch {
	case strings.Contains(name, "Breast"):
		return "Breast"
	case strings.Contains(name, "Lung"):
		return "Lung"
	default:
		return "Generic"
	}
}
