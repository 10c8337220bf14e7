// Package fields maps raw submitted payloads onto the canonical schema while
// keeping every key it cannot place.
package fields

import "reflect"

// Resolution is the outcome of resolving one raw payload.
//
// Consumed holds every raw key claimed by a canonical field, including losing
// aliases and keys whose value was empty. Consumed and Unmapped partition the
// raw key set.
type Resolution struct {
	Canonical map[string]interface{}
	Unmapped  map[string]interface{}
	Consumed  map[string]string
}

// Resolver is pure: no I/O, no errors.
type Resolver struct {
	schema *Schema
}

func NewResolver(schema *Schema) *Resolver {
	if schema == nil {
		schema = DefaultSchema()
	}
	return &Resolver{schema: schema}
}

func (r *Resolver) Schema() *Schema {
	return r.schema
}

// Resolve maps raw into canonical fields. A canonical field with no usable
// candidate is left out of Canonical rather than set to nil.
func (r *Resolver) Resolve(raw map[string]interface{}) Resolution {
	res := Resolution{
		Canonical: make(map[string]interface{}),
		Unmapped:  make(map[string]interface{}),
		Consumed:  make(map[string]string),
	}

	for _, f := range r.schema.Fields() {
		for _, key := range f.Candidates() {
			if owner, _ := r.schema.Owner(key); owner != f.Name {
				continue
			}
			value, present := raw[key]
			if !present {
				continue
			}
			res.Consumed[key] = f.Name
			if _, won := res.Canonical[f.Name]; won {
				continue
			}
			if Usable(value) {
				res.Canonical[f.Name] = value
			}
		}
	}

	for key, value := range raw {
		if _, consumed := res.Consumed[key]; consumed {
			continue
		}
		res.Unmapped[key] = value
	}

	return res
}

// Source returns the raw key that supplied a stored canonical value. Raw
// keys accumulate across submissions, so the candidate holding a value equal
// to stored wins; when none does, the lookup order of Resolve decides.
func (r *Resolver) Source(raw map[string]interface{}, name string, stored interface{}) (string, bool) {
	f, ok := r.schema.Lookup(name)
	if !ok {
		return "", false
	}
	first := ""
	for _, key := range f.Candidates() {
		if owner, _ := r.schema.Owner(key); owner != f.Name {
			continue
		}
		value := raw[key]
		if !Usable(value) {
			continue
		}
		if stored != nil && reflect.DeepEqual(value, stored) {
			return key, true
		}
		if first == "" {
			first = key
		}
	}
	return first, first != ""
}

// Usable reports whether a raw value can populate a canonical field. Nil and
// empty strings cannot.
func Usable(v interface{}) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return s != ""
	}
	return true
}
