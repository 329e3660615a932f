// Package message implements the typed parameter model shared by every
// OAuth2/OIDC request and response: a tagged-variant Parameter value and an
// ordered Message mapping from parameter name to Parameter.
package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/url"
)

// Kind identifies which variant a Parameter currently holds.
type Kind int

const (
	// KindAbsent is the zero value: the parameter was never set.
	KindAbsent Kind = iota
	KindString
	KindStrings
	KindInteger
	KindBool
	KindJSON
)

// ErrEmptyName is returned when a caller attempts to set a parameter
// using an empty name.
var ErrEmptyName = errors.New("message: parameter name must not be empty")

// Parameter is a tagged variant over the value types an OAuth2/OIDC wire
// parameter may carry. The zero value is KindAbsent.
type Parameter struct {
	kind    Kind
	str     string
	strs    []string
	integer int64
	boolean bool
	raw     json.RawMessage
}

// String constructs a single-valued string Parameter.
func String(v string) Parameter { return Parameter{kind: KindString, str: v} }

// Strings constructs a multi-valued string-list Parameter.
func Strings(v []string) Parameter {
	cp := make([]string, len(v))
	copy(cp, v)
	return Parameter{kind: KindStrings, strs: cp}
}

// Integer constructs an integer Parameter.
func Integer(v int64) Parameter { return Parameter{kind: KindInteger, integer: v} }

// Bool constructs a boolean Parameter.
func Bool(v bool) Parameter { return Parameter{kind: KindBool, boolean: v} }

// JSON constructs a Parameter wrapping an arbitrary JSON element.
func JSON(v json.RawMessage) Parameter { return Parameter{kind: KindJSON, raw: v} }

// Kind reports which variant the Parameter holds.
func (p Parameter) Kind() Kind { return p.kind }

// IsAbsent reports whether the parameter was never set.
func (p Parameter) IsAbsent() bool { return p.kind == KindAbsent }

// StringValue returns the parameter's string value. For a string-list Parameter
// it returns the first element, or "" if empty; for other kinds it returns
// "".
func (p Parameter) StringValue() string {
	switch p.kind {
	case KindString:
		return p.str
	case KindStrings:
		if len(p.strs) > 0 {
			return p.strs[0]
		}
	}
	return ""
}

// StringsValue returns the parameter as a string slice, wrapping a single
// string value in a one-element slice; other kinds return nil.
func (p Parameter) StringsValue() []string {
	switch p.kind {
	case KindStrings:
		out := make([]string, len(p.strs))
		copy(out, p.strs)
		return out
	case KindString:
		if p.str == "" {
			return nil
		}
		return []string{p.str}
	}
	return nil
}

// IntegerValue returns the integer value, or 0 if the parameter is not an
// integer.
func (p Parameter) IntegerValue() int64 {
	if p.kind == KindInteger {
		return p.integer
	}
	return 0
}

// BoolValue returns the boolean value, or false if the parameter is not a
// bool.
func (p Parameter) BoolValue() bool {
	return p.kind == KindBool && p.boolean
}

// RawValue returns the JSON element, or nil if the parameter isn't one.
func (p Parameter) RawValue() json.RawMessage {
	if p.kind == KindJSON {
		return p.raw
	}
	return nil
}

// isNullish reports whether setting this value should remove the key,
// per the "setting a null-ish value removes the key" contract.
func (p Parameter) isNullish() bool {
	switch p.kind {
	case KindAbsent:
		return true
	case KindString:
		return false
	case KindStrings:
		return p.strs == nil
	case KindJSON:
		return p.raw == nil
	default:
		return false
	}
}

// MarshalJSON serializes the parameter using its declared variant: single
// strings as JSON strings, string-lists as arrays, integers as numbers,
// booleans as booleans, and JSON blobs inline.
func (p Parameter) MarshalJSON() ([]byte, error) {
	switch p.kind {
	case KindString:
		return json.Marshal(p.str)
	case KindStrings:
		return json.Marshal(p.strs)
	case KindInteger:
		return json.Marshal(p.integer)
	case KindBool:
		return json.Marshal(p.boolean)
	case KindJSON:
		if len(p.raw) == 0 {
			return []byte("null"), nil
		}
		return p.raw, nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON deserializes a parameter, inferring its Kind from the JSON
// token: a JSON string becomes KindString, an array of strings becomes
// KindStrings, a number becomes KindInteger (falling back to KindJSON for
// non-integral numbers), a bool becomes KindBool, and anything else is kept
// verbatim as KindJSON so no information is lost on round-trip.
func (p *Parameter) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		*p = String(asString)
		return nil
	}

	var asStrings []string
	if err := json.Unmarshal(data, &asStrings); err == nil {
		*p = Strings(asStrings)
		return nil
	}

	var asBool bool
	if err := json.Unmarshal(data, &asBool); err == nil {
		*p = Bool(asBool)
		return nil
	}

	var asInt int64
	if err := json.Unmarshal(data, &asInt); err == nil {
		*p = Integer(asInt)
		return nil
	}

	raw := json.RawMessage(append([]byte(nil), data...))
	*p = JSON(raw)
	return nil
}

// Message is an ordered mapping from parameter name to Parameter. The
// ordering reflects insertion order so that serialization is deterministic
// and predictable for callers that care about field order in logs.
type Message struct {
	names  []string
	values map[string]Parameter
}

// New returns an empty Message.
func New() *Message {
	return &Message{values: make(map[string]Parameter)}
}

// Get returns the named parameter, or the zero-value (KindAbsent) Parameter
// if it is not set.
func (m *Message) Get(name string) Parameter {
	if m == nil || m.values == nil {
		return Parameter{}
	}
	return m.values[name]
}

// Has reports whether name is present and not absent.
func (m *Message) Has(name string) bool {
	return !m.Get(name).IsAbsent()
}

// Set assigns value to name. Setting a null-ish value removes the key.
// Setting an empty name panics-free: it returns ErrEmptyName.
func (m *Message) Set(name string, value Parameter) error {
	if name == "" {
		return ErrEmptyName
	}
	if m.values == nil {
		m.values = make(map[string]Parameter)
	}
	if value.isNullish() {
		if _, ok := m.values[name]; ok {
			delete(m.values, name)
			m.removeName(name)
		}
		return nil
	}
	if _, exists := m.values[name]; !exists {
		m.names = append(m.names, name)
	}
	m.values[name] = value
	return nil
}

// SetString is a convenience wrapper around Set(name, String(v)).
func (m *Message) SetString(name, v string) { _ = m.Set(name, String(v)) }

func (m *Message) removeName(name string) {
	for i, n := range m.names {
		if n == name {
			m.names = append(m.names[:i], m.names[i+1:]...)
			return
		}
	}
}

// Entry is a single (name, Parameter) pair yielded by Iter.
type Entry struct {
	Name  string
	Value Parameter
}

// Iter returns the message's parameters in insertion order.
func (m *Message) Iter() []Entry {
	if m == nil {
		return nil
	}
	out := make([]Entry, 0, len(m.names))
	for _, name := range m.names {
		out = append(out, Entry{Name: name, Value: m.values[name]})
	}
	return out
}

// MarshalJSON emits an ordered JSON object. encoding/json unavoidably
// re-sorts top-level map keys when marshaling a map directly, so Message
// hand-writes the object to preserve field order.
func (m *Message) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, name := range m.names {
		if i > 0 {
			buf = append(buf, ',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		val, err := m.values[name].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf = append(buf, key...)
		buf = append(buf, ':')
		buf = append(buf, val...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// UnmarshalJSON is lenient: unknown keys are preserved, and the only
// failure path is malformed JSON.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	// json.Unmarshal into a map loses order; recover it with a Decoder scan
	// so callers that reflect the same document back out see matching order.
	order, err := objectKeyOrder(data)
	if err != nil {
		return err
	}
	m.names = nil
	m.values = make(map[string]Parameter, len(raw))
	for _, name := range order {
		if name == "" {
			continue
		}
		var p Parameter
		if err := p.UnmarshalJSON(raw[name]); err != nil {
			return err
		}
		if err := m.Set(name, p); err != nil {
			return err
		}
	}
	return nil
}

// objectKeyOrder walks a JSON object's top-level tokens to recover key
// order, since the standard map-based decode does not preserve it.
func objectKeyOrder(data []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("message: expected JSON object")
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, errors.New("message: expected string key")
		}
		keys = append(keys, key)
		var discard json.RawMessage
		if err := dec.Decode(&discard); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// ParseForm builds a Message from application/x-www-form-urlencoded or
// query-string values. Duplicate keys are merged into a string-list
// Parameter, per the lenient-deserialization contract.
func ParseForm(values url.Values) *Message {
	m := New()
	for k, vs := range values {
		if len(vs) == 0 {
			continue
		}
		if len(vs) == 1 {
			m.SetString(k, vs[0])
			continue
		}
		_ = m.Set(k, Strings(vs))
	}
	return m
}

// WriteJSON serializes the message as a JSON document.
func WriteJSON(m *Message) ([]byte, error) {
	return m.MarshalJSON()
}

// ReadJSON parses a JSON document into a new Message.
func ReadJSON(data []byte) (*Message, error) {
	m := New()
	if err := m.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return m, nil
}
