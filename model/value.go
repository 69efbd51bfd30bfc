package model

import (
	"encoding/json"
	"fmt"
)

type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueText
	ValueNumber
	ValueBool
	ValueOption
	ValueOptions
)

// Value is the answer to a single question: text, number, boolean, an option
// id, a list of option ids, or null. On the wire it is a plain JSON scalar or
// string array; a bare string decodes as ValueText and doubles as an option id
// for select questions (OptionID accepts both).
type Value struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
	list []string
}

func NullValue() Value { return Value{} }

func TextValue(s string) Value { return Value{kind: ValueText, str: s} }

func NumberValue(n float64) Value { return Value{kind: ValueNumber, num: n} }

func BoolValue(b bool) Value { return Value{kind: ValueBool, b: b} }

func OptionValue(id string) Value { return Value{kind: ValueOption, str: id} }

func OptionsValue(ids ...string) Value { return Value{kind: ValueOptions, list: ids} }

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsNull() bool    { return v.kind == ValueNull }

func (v Value) Text() (string, bool) {
	return v.str, v.kind == ValueText || v.kind == ValueOption
}

func (v Value) Number() (float64, bool) {
	return v.num, v.kind == ValueNumber
}

func (v Value) Bool() (bool, bool) {
	return v.b, v.kind == ValueBool
}

// OptionID returns the selected option id of a select answer.
func (v Value) OptionID() (string, bool) {
	return v.str, v.kind == ValueOption || v.kind == ValueText
}

// OptionIDs returns the selected option ids of a multiselect answer.
func (v Value) OptionIDs() ([]string, bool) {
	return v.list, v.kind == ValueOptions
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case ValueNull:
		return []byte("null"), nil
	case ValueText, ValueOption:
		return json.Marshal(v.str)
	case ValueNumber:
		return json.Marshal(v.num)
	case ValueBool:
		return json.Marshal(v.b)
	case ValueOptions:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	}
	return nil, fmt.Errorf("unknown value kind %d", v.kind)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch t := raw.(type) {
	case nil:
		*v = NullValue()
	case string:
		*v = TextValue(t)
	case float64:
		*v = NumberValue(t)
	case bool:
		*v = BoolValue(t)
	case []any:
		ids := make([]string, len(t))
		for i, e := range t {
			s, ok := e.(string)
			if !ok {
				return fmt.Errorf("value array element %d is not a string", i)
			}
			ids[i] = s
		}
		*v = OptionsValue(ids...)
	default:
		return fmt.Errorf("unsupported value type %T", t)
	}
	return nil
}
