// Package provenance annotates outbound records with how each field's value
// was derived. It is only invoked when a read asks for diagnostics.
package provenance

import "fmt"

type Rule string

const (
	RuleDB           Rule = "db"
	RuleAlias        Rule = "alias"
	RuleComputed     Rule = "computed"
	RuleFallbackNull Rule = "fallback_null"
)

// FieldSpec describes the derivation of one output field. IfNull, when set,
// takes over for fields whose current value is nil or absent.
type FieldSpec struct {
	Rule   Rule
	Name   string // alias source key
	Reason string // computed / fallback_null explanation
	IfNull *FieldSpec
}

func DB() FieldSpec { return FieldSpec{Rule: RuleDB} }

func Alias(name string) FieldSpec { return FieldSpec{Rule: RuleAlias, Name: name} }

func Computed(reason string) FieldSpec { return FieldSpec{Rule: RuleComputed, Reason: reason} }

func FallbackNull(reason string) FieldSpec { return FieldSpec{Rule: RuleFallbackNull, Reason: reason} }

// OrElse returns a copy of s that falls back to next when the value is null.
func (s FieldSpec) OrElse(next FieldSpec) FieldSpec {
	s.IfNull = &next
	return s
}

// Label renders the tag as db, alias(name), computed(reason) or
// fallback_null(reason).
func (s FieldSpec) Label() string {
	switch s.Rule {
	case RuleAlias:
		return fmt.Sprintf("alias(%s)", s.Name)
	case RuleComputed, RuleFallbackNull:
		return fmt.Sprintf("%s(%s)", s.Rule, s.Reason)
	default:
		return string(s.Rule)
	}
}

// Tagged is a record plus its per-field provenance labels.
type Tagged struct {
	Record     map[string]interface{} `json:"record"`
	Provenance map[string]string      `json:"provenance"`
}

// Tag copies record and labels every field named in specs. The input record
// is never modified. Fields without a spec are copied but left unlabelled.
func Tag(record map[string]interface{}, specs map[string]FieldSpec) Tagged {
	out := Tagged{
		Record:     make(map[string]interface{}, len(record)),
		Provenance: make(map[string]string, len(specs)),
	}
	for k, v := range record {
		out.Record[k] = v
	}

	for field, spec := range specs {
		out.Provenance[field] = resolve(spec, record[field]).Label()
	}
	return out
}

func resolve(spec FieldSpec, value interface{}) FieldSpec {
	for value == nil && spec.IfNull != nil {
		spec = *spec.IfNull
	}
	return spec
}
