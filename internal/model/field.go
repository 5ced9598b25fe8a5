package model

import "regexp"

// FieldType determines how raw candidate text is normalized and validated.
type FieldType string

const (
	FieldText       FieldType = "text"
	FieldCurrency   FieldType = "currency"
	FieldDate       FieldType = "date"
	FieldIdentifier FieldType = "identifier"
)

// FieldSpec defines one extractable field of a document schema.
type FieldSpec struct {
	Key        string    `json:"key" yaml:"key"`
	Label      string    `json:"label" yaml:"label"`
	Type       FieldType `json:"type" yaml:"type"`
	Required   bool      `json:"required" yaml:"required"`
	Critical   bool      `json:"critical" yaml:"critical"`
	Zone       ZoneKind  `json:"zone,omitempty" yaml:"zone"`
	LabelHints []string  `json:"label_hints,omitempty" yaml:"label_hints"`
	Pattern    string    `json:"pattern,omitempty" yaml:"pattern"`

	patternRe *regexp.Regexp
}

// MatchesPattern reports whether the value conforms to the field's format
// pattern. Fields without a pattern always match.
func (f *FieldSpec) MatchesPattern(value string) bool {
	if f.patternRe == nil {
		return true
	}
	return f.patternRe.MatchString(value)
}

// FieldRegistry is an indexed collection of field specs for a document type.
type FieldRegistry struct {
	Fields   []FieldSpec
	byKey    map[string]*FieldSpec
	required []*FieldSpec
	critical []*FieldSpec
}

// NewFieldRegistry creates a FieldRegistry with indexed lookups and
// pre-compiled format patterns. Invalid patterns are dropped rather than
// failing the whole registry.
func NewFieldRegistry(fields []FieldSpec) *FieldRegistry {
	r := &FieldRegistry{
		Fields: fields,
		byKey:  make(map[string]*FieldSpec, len(fields)),
	}
	for i := range r.Fields {
		f := &r.Fields[i]
		if f.Pattern != "" {
			if re, err := regexp.Compile(f.Pattern); err == nil {
				f.patternRe = re
			}
		}
		r.byKey[f.Key] = f
		if f.Required {
			r.required = append(r.required, f)
		}
		if f.Critical {
			r.critical = append(r.critical, f)
		}
	}
	return r
}

// ByKey returns the field spec for the given key, or nil if not found.
func (r *FieldRegistry) ByKey(key string) *FieldSpec {
	return r.byKey[key]
}

// Required returns all required field specs.
func (r *FieldRegistry) Required() []*FieldSpec {
	return r.required
}

// Critical returns the fields that drive early stopping and gate thresholds.
func (r *FieldRegistry) Critical() []*FieldSpec {
	return r.critical
}
