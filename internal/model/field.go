package model

// FieldType is the declared value type of an intake field.
type FieldType string

const (
	FieldTypeString     FieldType = "string"
	FieldTypeNumber     FieldType = "number"
	FieldTypeStringList FieldType = "string_list"
)

// FieldGroup orders fields for question selection. Lower groups are asked first.
type FieldGroup int

const (
	GroupIdentity    FieldGroup = 1 // name, pronouns, coach address style
	GroupGoals       FieldGroup = 2 // primary goals, experience
	GroupLogistics   FieldGroup = 3 // frequency, session length, equipment
	GroupSafety      FieldGroup = 4 // injuries, limitations
	GroupStyle       FieldGroup = 5 // motivation and coaching style preferences
	GroupCompetition FieldGroup = 6 // optional competition/event fields
)

// Field is a single entry in the intake field registry.
type Field struct {
	Key      string     `json:"key" yaml:"key"`
	Label    string     `json:"label" yaml:"label"`
	Type     FieldType  `json:"type" yaml:"type"`
	Required bool       `json:"required" yaml:"required"`
	Group    FieldGroup `json:"group" yaml:"group"`
	// Hint is an optional extraction hint shown to the model, e.g. units.
	Hint string `json:"hint,omitempty" yaml:"hint,omitempty"`
}

// FieldRegistry is an indexed, immutable collection of intake fields.
type FieldRegistry struct {
	Fields   []Field
	byKey    map[string]*Field
	required []*Field
}

// NewFieldRegistry creates a FieldRegistry with indexed lookups. Field order is
// preserved; within question selection it is the tiebreaker inside a group.
func NewFieldRegistry(fields []Field) *FieldRegistry {
	r := &FieldRegistry{
		Fields: fields,
		byKey:  make(map[string]*Field, len(fields)),
	}
	for i := range r.Fields {
		f := &r.Fields[i]
		if f.Type == "" {
			f.Type = FieldTypeString
		}
		r.byKey[f.Key] = f
		if f.Required {
			r.required = append(r.required, f)
		}
	}
	return r
}

// ByKey returns the field for the given key, or nil if not found.
func (r *FieldRegistry) ByKey(key string) *Field {
	return r.byKey[key]
}

// Required returns all required fields in registry order.
func (r *FieldRegistry) Required() []*Field {
	return r.required
}

// Len returns the number of fields in the registry.
func (r *FieldRegistry) Len() int {
	return len(r.Fields)
}
