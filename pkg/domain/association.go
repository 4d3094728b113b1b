package domain

import "encoding/json"

// Association list and attribute names used by program stages.
const (
	AssociationField         = "programStageDataElements"
	AssociationRef           = "dataElement"
	SortOrderField           = "sortOrder"
	AttrCompulsory           = "compulsory"
	AttrAllowProvidedElse    = "allowProvidedElsewhere"
	AttrAllowFutureDate      = "allowFutureDate"
	DefaultUniversalCategory = "Generic"
)

// Attribute is one default value written into new association entries.
type Attribute struct {
	Key   string
	Value json.RawMessage
}

// DefaultAssociationTemplate returns compulsory, allowProvidedElsewhere and
// allowFutureDate all set to false.
func DefaultAssociationTemplate() []Attribute {
	f := json.RawMessage("false")
	return []Attribute{
		{Key: AttrCompulsory, Value: f},
		{Key: AttrAllowProvidedElse, Value: f},
		{Key: AttrAllowFutureDate, Value: f},
	}
}

// NewAssociation builds an entry referencing childID under refField with the
// template attributes followed by sortOrder.
func NewAssociation(refField, childID string, template []Attribute, sortOrder int) Record {
	ref := Record{}
	ref.SetID(childID)
	refRaw, _ := ref.encode()
	fields := make([]Field, 0, len(template)+2)
	fields = append(fields, Field{Key: refField, Value: refRaw})
	for _, a := range template {
		fields = append(fields, Field{Key: a.Key, Value: a.Value})
	}
	order, _ := marshalValue(sortOrder)
	fields = append(fields, Field{Key: SortOrderField, Value: order})
	return Record{fields: fields}
}
