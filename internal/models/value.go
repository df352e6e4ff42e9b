package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind discriminates the shapes an attribute value can take.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBool
	KindList
	KindMap
)

// Value is a tagged attribute value: a scalar, an ordered list, or an
// ordered map of further values. Header attributes are dynamically shaped
// per document, so consumers switch on Kind instead of probing fields.
type Value struct {
	Kind Kind
	Str  string
	Num  float64
	Bool bool
	List []Value
	Map  []Field
}

// Field is one entry of an ordered map value.
type Field struct {
	Key   string
	Value Value
}

// StringValue returns a Value of KindString.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// NumberValue returns a Value of KindNumber.
func NumberValue(n float64) Value { return Value{Kind: KindNumber, Num: n} }

// BoolValue returns a Value of KindBool.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// ListValue returns a Value of KindList.
func ListValue(items ...Value) Value { return Value{Kind: KindList, List: items} }

// MapValue returns a Value of KindMap preserving field order.
func MapValue(fields ...Field) Value { return Value{Kind: KindMap, Map: fields} }

// ValueFromYAML converts a decoded YAML node into a Value, preserving
// mapping key order. Null scalars become empty strings.
func ValueFromYAML(n *yaml.Node) (Value, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		switch n.Tag {
		case "!!int", "!!float":
			f, err := strconv.ParseFloat(n.Value, 64)
			if err != nil {
				return Value{}, fmt.Errorf("models: scalar %q: %w", n.Value, err)
			}
			return NumberValue(f), nil
		case "!!bool":
			b, err := strconv.ParseBool(n.Value)
			if err != nil {
				return Value{}, fmt.Errorf("models: scalar %q: %w", n.Value, err)
			}
			return BoolValue(b), nil
		case "!!null":
			return StringValue(""), nil
		default:
			return StringValue(n.Value), nil
		}
	case yaml.SequenceNode:
		items := make([]Value, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := ValueFromYAML(c)
			if err != nil {
				return Value{}, err
			}
			items = append(items, v)
		}
		return Value{Kind: KindList, List: items}, nil
	case yaml.MappingNode:
		fields := make([]Field, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			v, err := ValueFromYAML(n.Content[i+1])
			if err != nil {
				return Value{}, err
			}
			fields = append(fields, Field{Key: n.Content[i].Value, Value: v})
		}
		return Value{Kind: KindMap, Map: fields}, nil
	case yaml.AliasNode:
		return ValueFromYAML(n.Alias)
	default:
		return Value{}, fmt.Errorf("models: unsupported yaml node kind %d", n.Kind)
	}
}

// MarshalJSON serializes the value. Map fields keep their insertion order.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.Kind {
	case KindString:
		b, err := json.Marshal(v.Str)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindNumber:
		b, err := json.Marshal(v.Num)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindBool:
		if v.Bool {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.List {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMap:
		buf.WriteByte('{')
		for i, f := range v.Map {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, err := json.Marshal(f.Key)
			if err != nil {
				return err
			}
			buf.Write(k)
			buf.WriteByte(':')
			if err := f.Value.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("models: unknown value kind %d", v.Kind)
	}
	return nil
}

// UnmarshalJSON reconstructs the value from JSON, preserving object key
// order by reading tokens rather than decoding into a map.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	out, err := decodeValue(dec, tok)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

func decodeValue(dec *json.Decoder, tok json.Token) (Value, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			var fields []Field
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("models: object key is %T", keyTok)
				}
				valTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				val, err := decodeValue(dec, valTok)
				if err != nil {
					return Value{}, err
				}
				fields = append(fields, Field{Key: key, Value: val})
			}
			if _, err := dec.Token(); err != nil { // closing '}'
				return Value{}, err
			}
			return Value{Kind: KindMap, Map: fields}, nil
		case '[':
			var items []Value
			for dec.More() {
				itemTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				item, err := decodeValue(dec, itemTok)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil { // closing ']'
				return Value{}, err
			}
			return Value{Kind: KindList, List: items}, nil
		}
		return Value{}, fmt.Errorf("models: unexpected delimiter %v", t)
	case string:
		return StringValue(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, err
		}
		return NumberValue(f), nil
	case bool:
		return BoolValue(t), nil
	case nil:
		return StringValue(""), nil
	default:
		return Value{}, fmt.Errorf("models: unexpected token %T", tok)
	}
}

// Flatten renders every scalar in the value (keys included) as a single
// space-joined string. Used to feed attributes into the full-text index.
func (v Value) Flatten() string {
	var parts []string
	v.flattenInto(&parts)
	return strings.Join(parts, " ")
}

func (v Value) flattenInto(parts *[]string) {
	switch v.Kind {
	case KindString:
		if v.Str != "" {
			*parts = append(*parts, v.Str)
		}
	case KindNumber:
		*parts = append(*parts, strconv.FormatFloat(v.Num, 'g', -1, 64))
	case KindBool:
		*parts = append(*parts, strconv.FormatBool(v.Bool))
	case KindList:
		for _, item := range v.List {
			item.flattenInto(parts)
		}
	case KindMap:
		for _, f := range v.Map {
			*parts = append(*parts, f.Key)
			f.Value.flattenInto(parts)
		}
	}
}

// Attributes is the ordered attribute bag of a document or node.
type Attributes []Field

// Get returns the value for key and whether it was present.
func (a Attributes) Get(key string) (Value, bool) {
	for _, f := range a {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// MarshalJSON serializes the bag as an object with keys in insertion order.
func (a Attributes) MarshalJSON() ([]byte, error) {
	return Value{Kind: KindMap, Map: a}.MarshalJSON()
}

// UnmarshalJSON reads the bag back, preserving key order.
func (a *Attributes) UnmarshalJSON(data []byte) error {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return err
	}
	if v.Kind != KindMap {
		return fmt.Errorf("models: attributes must decode from an object")
	}
	*a = Attributes(v.Map)
	return nil
}

// Flatten renders the bag's keys and scalar values for full-text indexing.
func (a Attributes) Flatten() string {
	return Value{Kind: KindMap, Map: a}.Flatten()
}
