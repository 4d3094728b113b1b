package domain

import "fmt"

// ForeignKey describes one reference-bearing field. Single keys hold an
// {"id": ...} object under Field. List keys hold an array under Field whose
// entries carry the reference as their own id (Nested empty) or as an
// {"id": ...} object under Nested.
type ForeignKey struct {
	Collection string `yaml:"collection" json:"collection"`
	Field      string `yaml:"field" json:"field"`
	Nested     string `yaml:"nested,omitempty" json:"nested,omitempty"`
	List       bool   `yaml:"list,omitempty" json:"list,omitempty"`
	Target     string `yaml:"target" json:"target"`
}

// Path renders the field path, e.g. programStageDataElements[].dataElement.
func (fk ForeignKey) Path() string {
	if !fk.List {
		return fk.Field
	}
	if fk.Nested == "" {
		return fk.Field + "[]"
	}
	return fk.Field + "[]." + fk.Nested
}

func (fk ForeignKey) String() string {
	return fmt.Sprintf("%s.%s->%s", fk.Collection, fk.Path(), fk.Target)
}

// Ref is one reference value found in a record. Position is -1 for single keys.
type Ref struct {
	Position int
	ID       string
}

// Refs extracts the references fk holds in r. Entries without a reference
// are skipped. An association list that is not an array of objects is an error.
func (fk ForeignKey) Refs(r Record) ([]Ref, error) {
	if !fk.List {
		if _, _, err := r.Object(fk.Field); err != nil {
			return nil, err
		}
		if id, ok := r.Ref(fk.Field); ok {
			return []Ref{{Position: -1, ID: id}}, nil
		}
		return nil, nil
	}
	entries, err := r.Entries(fk.Field)
	if err != nil {
		return nil, err
	}
	var refs []Ref
	for i, e := range entries {
		if id, ok := fk.entryRef(e); ok {
			refs = append(refs, Ref{Position: i, ID: id})
		}
	}
	return refs, nil
}

func (fk ForeignKey) entryRef(e Record) (string, bool) {
	if fk.Nested == "" {
		id := e.ID()
		return id, id != ""
	}
	return e.Ref(fk.Nested)
}

// Rewrite replaces referenced ids for which remap reports a new value and
// returns the number of references changed. r is left untouched when nothing
// changes.
func (fk ForeignKey) Rewrite(r *Record, remap func(id string) (string, bool)) (int, error) {
	if !fk.List {
		id, ok := r.Ref(fk.Field)
		if !ok {
			return 0, nil
		}
		next, ok := remap(id)
		if !ok || next == id {
			return 0, nil
		}
		if err := r.SetRef(fk.Field, next); err != nil {
			return 0, err
		}
		return 1, nil
	}
	entries, err := r.Entries(fk.Field)
	if err != nil {
		return 0, err
	}
	changed := 0
	for i := range entries {
		id, ok := fk.entryRef(entries[i])
		if !ok {
			continue
		}
		next, ok := remap(id)
		if !ok || next == id {
			continue
		}
		if fk.Nested == "" {
			entries[i].SetID(next)
		} else if err := entries[i].SetRef(fk.Nested, next); err != nil {
			return 0, err
		}
		changed++
	}
	if changed == 0 {
		return 0, nil
	}
	return changed, r.SetEntries(fk.Field, entries)
}

// DropEntries removes list entries at the given positions. Single keys are
// cleared by deleting the field when drop[-1] is set.
func (fk ForeignKey) DropEntries(r *Record, drop map[int]bool) (int, error) {
	if len(drop) == 0 {
		return 0, nil
	}
	if !fk.List {
		if drop[-1] && r.Delete(fk.Field) {
			return 1, nil
		}
		return 0, nil
	}
	entries, err := r.Entries(fk.Field)
	if err != nil {
		return 0, err
	}
	kept := entries[:0:0]
	for i, e := range entries {
		if !drop[i] {
			kept = append(kept, e)
		}
	}
	removed := len(entries) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	return removed, r.SetEntries(fk.Field, kept)
}

// Schema is the set of foreign keys known between collections.
type Schema struct {
	Keys []ForeignKey `yaml:"foreignKeys" json:"foreignKeys"`
}

// From returns the keys declared on collection.
func (s Schema) From(collection string) []ForeignKey {
	var out []ForeignKey
	for _, fk := range s.Keys {
		if fk.Collection == collection {
			out = append(out, fk)
		}
	}
	return out
}

// Into returns the keys pointing at target.
func (s Schema) Into(target string) []ForeignKey {
	var out []ForeignKey
	for _, fk := range s.Keys {
		if fk.Target == target {
			out = append(out, fk)
		}
	}
	return out
}

// Collections returns every collection named by the schema, in first-seen order.
func (s Schema) Collections() []string {
	seen := map[string]bool{}
	var out []string
	for _, fk := range s.Keys {
		for _, name := range []string{fk.Collection, fk.Target} {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}

// Validate rejects keys with empty names.
func (s Schema) Validate() error {
	for i, fk := range s.Keys {
		if fk.Collection == "" || fk.Field == "" || fk.Target == "" {
			return fmt.Errorf("foreign key %d: collection, field and target are required", i)
		}
		if fk.Nested != "" && !fk.List {
			return fmt.Errorf("foreign key %s: nested requires list", fk)
		}
	}
	return nil
}

// Collection names used by the registry metadata exports.
const (
	Programs             = "programs"
	ProgramStages        = "programStages"
	ProgramStageSections = "programStageSections"
	DataElements         = "dataElements"
	ProgramIndicators    = "programIndicators"
	ProgramRules         = "programRules"
	ProgramRuleActions   = "programRuleActions"
	ProgramRuleVariables = "programRuleVariables"
	Indicators           = "indicators"
	IndicatorGroups      = "indicatorGroups"
	DataElementGroups    = "dataElementGroups"
	Dashboards           = "dashboards"
	ValidationRules      = "validationRules"
)

// DefaultSchema returns the relations between the registry's tracker collections.
func DefaultSchema() Schema {
	return Schema{Keys: []ForeignKey{
		{Collection: Programs, Field: "programStages", List: true, Target: ProgramStages},
		{Collection: ProgramStages, Field: "program", Target: Programs},
		{Collection: ProgramStages, Field: "programStageDataElements", Nested: "dataElement", List: true, Target: DataElements},
		{Collection: ProgramStages, Field: "programStageSections", List: true, Target: ProgramStageSections},
		{Collection: ProgramStageSections, Field: "programStage", Target: ProgramStages},
		{Collection: ProgramStageSections, Field: "dataElements", List: true, Target: DataElements},
		{Collection: ProgramIndicators, Field: "program", Target: Programs},
		{Collection: ProgramRules, Field: "program", Target: Programs},
		{Collection: ProgramRules, Field: "programStage", Target: ProgramStages},
		{Collection: ProgramRuleActions, Field: "programRule", Target: ProgramRules},
		{Collection: ProgramRuleActions, Field: "dataElement", Target: DataElements},
		{Collection: ProgramRuleVariables, Field: "program", Target: Programs},
		{Collection: ProgramRuleVariables, Field: "programStage", Target: ProgramStages},
		{Collection: ProgramRuleVariables, Field: "dataElement", Target: DataElements},
		{Collection: IndicatorGroups, Field: "indicators", List: true, Target: Indicators},
		{Collection: DataElementGroups, Field: "dataElements", List: true, Target: DataElements},
	}}
}
