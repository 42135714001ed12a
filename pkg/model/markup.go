package model

import (
	"fmt"
	"sort"
	"sync"
)

// Attr is one named attribute of an entity. Value is either a literal (see
// FormatLiteral), an Entity, or a list/tuple/dict that may hold entities.
type Attr struct {
	Name  string
	Value any
}

// Entity is implemented by every model class so that codecs can serialise
// it by walking its attributes instead of knowing the class.
type Entity interface {
	TypeName() string
	// Mandatory attributes, in constructor order.
	Mandatory() []Attr
	// Optional attributes whose value differs from the default.
	Optional() []Attr
	// Extra attributes, i.e. anything not declared by the class.
	Extra() []Attr
}

// Constructor builds an entity from positional and keyword arguments.
type Constructor func(args []any, kw map[string]any) (any, error)

var (
	classMu sync.RWMutex
	classes = map[string]Constructor{}
)

// RegisterClass adds a constructor to the class table; a later
// registration of the same name replaces the earlier one.
func RegisterClass(name string, ctor Constructor) {
	classMu.Lock()
	defer classMu.Unlock()
	classes[name] = ctor
}

// Construct builds an instance of a registered class. An unknown class
// gives ok == false so callers can skip it.
func Construct(name string, args []any, kw map[string]any) (v any, ok bool, err error) {
	classMu.RLock()
	ctor, ok := classes[name]
	classMu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	v, err = ctor(args, kw)
	if err != nil {
		return nil, true, fmt.Errorf("%s: %v", name, err)
	}
	return v, true, nil
}

// Classes lists the registered class names.
func Classes() []string {
	classMu.RLock()
	defer classMu.RUnlock()
	out := make([]string, 0, len(classes))
	for k := range classes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// args binds positional and keyword arguments against a parameter list the
// way a Python call would.
type args struct {
	class string
	vals  map[string]any
}

func bindArgs(class string, params []string, pos []any, kw map[string]any) (*args, error) {
	a := &args{class: class, vals: map[string]any{}}
	if len(pos) > len(params) {
		return nil, fmt.Errorf("takes %d positional arguments, got %d", len(params), len(pos))
	}
	for i, v := range pos {
		a.vals[params[i]] = v
	}
	for k, v := range kw {
		if _, dup := a.vals[k]; dup {
			return nil, fmt.Errorf("argument %q given twice", k)
		}
		a.vals[k] = v
	}
	return a, nil
}

func (a *args) has(name string) bool {
	v, ok := a.vals[name]
	return ok && v != nil
}

func (a *args) take(name string) (any, bool) {
	v, ok := a.vals[name]
	delete(a.vals, name)
	return v, ok && v != nil
}

func (a *args) float(name string) (float64, error) {
	v, ok := a.take(name)
	if !ok {
		return 0, fmt.Errorf("missing argument %q", name)
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("argument %q: %v is not a number", name, v)
	}
	return f, nil
}

// optFloat returns nil when absent or None.
func (a *args) optFloat(name string) (*float64, error) {
	v, ok := a.take(name)
	if !ok {
		return nil, nil
	}
	f, ok := toFloat(v)
	if !ok {
		return nil, fmt.Errorf("argument %q: %v is not a number", name, v)
	}
	return &f, nil
}

func (a *args) str(name string) (string, error) {
	v, ok := a.take(name)
	if !ok {
		return "", fmt.Errorf("missing argument %q", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q: %v is not a string", name, v)
	}
	return s, nil
}

func (a *args) int(name string, def int) (int, error) {
	v, ok := a.take(name)
	if !ok {
		return def, nil
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("argument %q: %v is not a number", name, v)
	}
	return int(f), nil
}

// rest returns what is left, i.e. the extra attributes.
func (a *args) rest() map[string]any { return a.vals }

func optAttr(attrs []Attr, name string, v *float64) []Attr {
	if v != nil {
		attrs = append(attrs, Attr{name, *v})
	}
	return attrs
}
