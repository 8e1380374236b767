package wbxml

import "reflect"

// Value is a generic element carrier used when a schema permits any
// element whose identity must be preserved along with its payload.
// Decoding fills Field with the element's code-page identity and Text
// or Data with its content; marshalling emits the element back under
// the same identity.
type Value struct {
	Field CodePageField
	Text  string
	Data  []byte
}

var valueType = reflect.TypeOf(Value{})

// Empty reports whether the value carries no payload.
func (v Value) Empty() bool {
	return v.Text == "" && len(v.Data) == 0
}
