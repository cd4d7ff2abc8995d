package schema

import "encoding/json"

// Schema is the contract for structured values exchanged with a language
// model. Concrete schemas are plain structs carrying jsonschema tags which
// drive structured completion and validation.
type Schema interface {
	// String renders the value for inclusion in a prompt.
	String() string
}

// Stringify renders a schema value as prompt text. Plain strings pass
// through untouched, everything else is rendered as JSON.
func Stringify(s Schema) string {
	if v, ok := s.(String); ok {
		return string(v)
	}
	bs, _ := json.Marshal(s)
	return string(bs)
}

// ToBytes returns the wire form of a schema value.
func ToBytes(s Schema) []byte {
	if v, ok := s.(String); ok {
		return []byte(v)
	}
	bs, _ := json.Marshal(s)
	return bs
}
