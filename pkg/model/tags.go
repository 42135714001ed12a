package model

import (
	"fmt"
	"strconv"
	"strings"
)

// TagKind is the discriminant of a TagValue.
type TagKind int

const (
	TagBool TagKind = iota
	TagInt
	TagFloat
	TagString
)

// TagValue is a typed source attribute: bool, int, float or string.
type TagValue struct {
	Kind TagKind
	b    bool
	i    int64
	f    float64
	s    string
}

func Bool(b bool) TagValue      { return TagValue{Kind: TagBool, b: b} }
func Int(i int64) TagValue      { return TagValue{Kind: TagInt, i: i} }
func Float(f float64) TagValue  { return TagValue{Kind: TagFloat, f: f} }
func String(s string) TagValue  { return TagValue{Kind: TagString, s: s} }
func (t TagValue) AsBool() bool { return t.b }
func (t TagValue) AsInt() int64 { return t.i }
func (t TagValue) AsString() string {
	if t.Kind == TagString {
		return t.s
	}
	return t.String()
}

// AsFloat converts numeric and boolean tags.
func (t TagValue) AsFloat() (float64, bool) {
	switch t.Kind {
	case TagFloat:
		return t.f, true
	case TagInt:
		return float64(t.i), true
	case TagBool:
		if t.b {
			return 1, true
		}
		return 0, true
	}
	f, err := strconv.ParseFloat(t.s, 64)
	return f, err == nil
}

// Truthy is false for False, 0 and "" (the tag:X grouping predicate).
func (t TagValue) Truthy() bool {
	switch t.Kind {
	case TagBool:
		return t.b
	case TagInt:
		return t.i != 0
	case TagFloat:
		return t.f != 0
	}
	return t.s != ""
}

// Literal returns the value as a markup literal.
func (t TagValue) Literal() any {
	switch t.Kind {
	case TagBool:
		return t.b
	case TagInt:
		return int(t.i)
	case TagFloat:
		return t.f
	}
	return t.s
}

func (t TagValue) String() string {
	switch t.Kind {
	case TagBool:
		if t.b {
			return "True"
		}
		return "False"
	case TagInt:
		return strconv.FormatInt(t.i, 10)
	case TagFloat:
		return formatFloat(t.f)
	}
	return t.s
}

// TagFromLiteral converts a decoded markup value to a tag.
func TagFromLiteral(v any) (TagValue, error) {
	switch x := Coerce(v).(type) {
	case bool:
		return Bool(x), nil
	case int:
		return Int(int64(x)), nil
	case float64:
		return Float(x), nil
	case string:
		return String(x), nil
	}
	return TagValue{}, fmt.Errorf("tag value %v (%T) is not bool/int/float/str", v, v)
}

// ParseTag interprets a text token the way a user would type it: True,
// False, an integer, a float, or else a string.
func ParseTag(s string) TagValue {
	switch strings.ToLower(s) {
	case "true":
		return Bool(true)
	case "false":
		return Bool(false)
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Float(f)
	}
	return String(s)
}

// ParseTypedTag converts s according to a type name: bool, int, float or
// str. Used for ":TYPE:ATTR" ASCII columns.
func ParseTypedTag(typ, s string) (TagValue, error) {
	switch strings.ToLower(typ) {
	case "bool":
		switch strings.ToLower(s) {
		case "true", "1", "yes", "y":
			return Bool(true), nil
		case "false", "0", "no", "n", "":
			return Bool(false), nil
		}
		return TagValue{}, fmt.Errorf("bad bool %q", s)
	case "int":
		i, err := strconv.ParseInt(s, 10, 64)
		return Int(i), err
	case "float":
		f, err := strconv.ParseFloat(s, 64)
		return Float(f), err
	case "str", "string":
		return String(s), nil
	}
	return TagValue{}, fmt.Errorf("unknown tag type %q", typ)
}

// IsInternal reports whether an attribute name is internal (never shown
// as a tag).
func IsInternal(name string) bool { return strings.HasPrefix(name, "_") }
