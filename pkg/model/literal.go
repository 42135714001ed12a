package model

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// Attribute values in markup are Python literals. The atomic set is: nil
// (None), bool, int, float64, complex128, string, []any (list), Tuple,
// map[string]any (dict).

// Tuple is a Python tuple literal.
type Tuple []any

// Coerce maps the numeric zoo onto int / float64 / complex128, and typed
// slices onto []any.
func Coerce(v any) any {
	switch x := v.(type) {
	case int8:
		return int(x)
	case int16:
		return int(x)
	case int32:
		return int(x)
	case int64:
		return int(x)
	case uint8:
		return int(x)
	case uint16:
		return int(x)
	case uint32:
		return int(x)
	case float32:
		return float64(x)
	case complex64:
		return complex128(x)
	case []float64:
		out := make([]any, len(x))
		for i, f := range x {
			out[i] = f
		}
		return out
	case []int:
		out := make([]any, len(x))
		for i, n := range x {
			out[i] = n
		}
		return out
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	}
	return v
}

// FormatLiteral renders v as a Python literal.
func FormatLiteral(v any) (string, error) {
	var sb strings.Builder
	if err := formatLiteral(&sb, Coerce(v)); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func formatLiteral(sb *strings.Builder, v any) error {
	switch x := v.(type) {
	case nil:
		sb.WriteString("None")
	case bool:
		if x {
			sb.WriteString("True")
		} else {
			sb.WriteString("False")
		}
	case int:
		sb.WriteString(strconv.Itoa(x))
	case float64:
		sb.WriteString(formatFloat(x))
	case complex128:
		im := imag(x)
		sign := "+"
		if im < 0 || (im == 0 && math.Signbit(im)) {
			sign, im = "-", -im
		}
		fmt.Fprintf(sb, "(%s%s%sj)", formatFloat(real(x)), sign, formatFloat(im))
	case string:
		sb.WriteString(quote(x))
	case []any:
		return formatSeq(sb, "[", "]", x, false)
	case Tuple:
		return formatSeq(sb, "(", ")", x, true)
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("{")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(quote(k))
			sb.WriteString(": ")
			if err := formatLiteral(sb, Coerce(x[k])); err != nil {
				return err
			}
		}
		sb.WriteString("}")
	default:
		return fmt.Errorf("value of type %T has no literal form", v)
	}
	return nil
}

func formatSeq(sb *strings.Builder, open, close string, items []any, tuple bool) error {
	sb.WriteString(open)
	for i, it := range items {
		if i > 0 {
			sb.WriteString(", ")
		}
		if err := formatLiteral(sb, Coerce(it)); err != nil {
			return err
		}
	}
	if tuple && len(items) == 1 {
		sb.WriteString(",")
	}
	sb.WriteString(close)
	return nil
}

// formatFloat matches Python's repr: shortest round-trip, always with a
// decimal point or exponent.
func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	abs := math.Abs(f)
	var s string
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		s = strconv.FormatFloat(f, 'e', -1, 64)
	} else {
		s = strconv.FormatFloat(f, 'f', -1, 64)
	}
	if !strings.ContainsAny(s, ".en") {
		s += ".0"
	}
	return s
}

func quote(s string) string {
	var sb strings.Builder
	sb.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\\':
			sb.WriteString(`\\`)
		case '\'':
			sb.WriteString(`\'`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('\'')
	return sb.String()
}

// ParseLiteral parses a Python literal as produced by FormatLiteral (and
// the usual hand-written variants: double quotes, trailing commas).
func ParseLiteral(s string) (any, error) {
	p := &litParser{src: s}
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, p.errorf("trailing characters")
	}
	return v, nil
}

type litParser struct {
	src string
	pos int
}

func (p *litParser) errorf(format string, args ...any) error {
	return fmt.Errorf("literal %q at %d: %s", p.src, p.pos, fmt.Sprintf(format, args...))
}

func (p *litParser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *litParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *litParser) value() (any, error) {
	switch c := p.peek(); {
	case c == 0:
		return nil, p.errorf("unexpected end")
	case c == '\'' || c == '"':
		return p.str()
	case c == '[':
		p.pos++
		items, err := p.items(']')
		return items, err
	case c == '(':
		p.pos++
		return p.paren()
	case c == '{':
		p.pos++
		return p.dict()
	case c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9'):
		return p.number()
	default:
		return p.word()
	}
}

func (p *litParser) word() (any, error) {
	start := p.pos
	for p.pos < len(p.src) && (unicode.IsLetter(rune(p.src[p.pos])) || p.src[p.pos] == '_') {
		p.pos++
	}
	switch w := p.src[start:p.pos]; w {
	case "None":
		return nil, nil
	case "True":
		return true, nil
	case "False":
		return false, nil
	case "inf":
		return math.Inf(1), nil
	case "nan":
		return math.NaN(), nil
	default:
		p.pos = start
		return nil, p.errorf("unknown word %q", w)
	}
}

func (p *litParser) number() (any, error) {
	start := p.pos
	if c := p.src[p.pos]; c == '-' || c == '+' {
		p.pos++
	}
	if strings.HasPrefix(p.src[p.pos:], "inf") {
		p.pos += 3
		if p.src[start] == '-' {
			return math.Inf(-1), nil
		}
		return math.Inf(1), nil
	}
	isFloat := false
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c >= '0' && c <= '9' {
			p.pos++
		} else if c == '.' || c == 'e' || c == 'E' {
			isFloat = true
			p.pos++
			if (c == 'e' || c == 'E') && p.pos < len(p.src) && (p.src[p.pos] == '-' || p.src[p.pos] == '+') {
				p.pos++
			}
		} else {
			break
		}
	}
	text := p.src[start:p.pos]
	if p.pos < len(p.src) && (p.src[p.pos] == 'j' || p.src[p.pos] == 'J') {
		p.pos++
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, p.errorf("bad imaginary %q", text)
		}
		return complex(0, f), nil
	}
	if !isFloat {
		if n, err := strconv.Atoi(text); err == nil {
			return n, nil
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, p.errorf("bad number %q", text)
	}
	return f, nil
}

func (p *litParser) str() (any, error) {
	q := p.src[p.pos]
	p.pos++
	var sb strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == q:
			p.pos++
			return sb.String(), nil
		case c == '\\' && p.pos+1 < len(p.src):
			p.pos++
			switch e := p.src[p.pos]; e {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			default:
				sb.WriteByte(e)
			}
			p.pos++
		default:
			sb.WriteByte(c)
			p.pos++
		}
	}
	return nil, p.errorf("unterminated string")
}

// items parses comma-separated values up to the closing byte.
func (p *litParser) items(close byte) ([]any, error) {
	out := []any{}
	for {
		if p.peek() == close {
			p.pos++
			return out, nil
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		switch p.peek() {
		case ',':
			p.pos++
		case close:
			p.pos++
			return out, nil
		default:
			return nil, p.errorf("expected ',' or %q", close)
		}
	}
}

// paren handles tuples and complex literals "(re+imj)".
func (p *litParser) paren() (any, error) {
	if p.peek() == ')' {
		p.pos++
		return Tuple{}, nil
	}
	first, err := p.value()
	if err != nil {
		return nil, err
	}
	if c := p.peek(); c == '+' || c == '-' {
		im, err := p.number()
		if err != nil {
			return nil, err
		}
		ic, ok := im.(complex128)
		if !ok || p.peek() != ')' {
			return nil, p.errorf("bad complex literal")
		}
		p.pos++
		re, _ := toFloat(first)
		return complex(re, imag(ic)), nil
	}
	switch p.peek() {
	case ')':
		p.pos++
		// a parenthesised value, not a tuple
		return first, nil
	case ',':
		p.pos++
		rest, err := p.items(')')
		if err != nil {
			return nil, err
		}
		return append(Tuple{first}, rest...), nil
	}
	return nil, p.errorf("expected ',' or ')'")
}

func (p *litParser) dict() (any, error) {
	out := map[string]any{}
	for {
		if p.peek() == '}' {
			p.pos++
			return out, nil
		}
		k, err := p.value()
		if err != nil {
			return nil, err
		}
		key, ok := k.(string)
		if !ok {
			key = fmt.Sprint(k)
		}
		if p.peek() != ':' {
			return nil, p.errorf("expected ':'")
		}
		p.pos++
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		out[key] = v
		switch p.peek() {
		case ',':
			p.pos++
		case '}':
			p.pos++
			return out, nil
		default:
			return nil, p.errorf("expected ',' or '}'")
		}
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
