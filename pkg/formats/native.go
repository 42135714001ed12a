package formats

import (
	"bufio"
	"fmt"
	"html"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	xhtml "golang.org/x/net/html"

	"github.com/abworrall/skymodel/pkg/errors"
	"github.com/abworrall/skymodel/pkg/model"
)

// The native format is an HTML document whose tags carry mdltype (class or
// atomic type), mdlattr (attribute name in the parent) and mdlval (a
// Python literal) attributes. Browsers show it as a readable table.

var atomicTypes = map[string]bool{
	"bool": true, "int": true, "float": true, "complex": true, "str": true, "NoneType": true,
}

func literalType(v any) string {
	switch v.(type) {
	case nil:
		return "NoneType"
	case bool:
		return "bool"
	case int:
		return "int"
	case float64:
		return "float"
	case complex128:
		return "complex"
	case string:
		return "str"
	case []any:
		return "list"
	case model.Tuple:
		return "tuple"
	case map[string]any:
		return "dict"
	}
	return ""
}

// SaveNative writes the model as native HTML markup.
func SaveNative(m *model.SkyModel, filename string, opts SaveOptions) error {
	f, err := os.Create(filename)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidInput, err, "can't create %s", filename)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if err := writeNative(w, m, opts.sources(m)); err != nil {
		return errors.Wrap(errors.ErrCodeFileFormat, err, "writing %s", filename)
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidInput, err, "writing %s", filename)
	}
	return nil
}

type nativeWriter struct {
	w   io.Writer
	err error
}

func (nw *nativeWriter) printf(format string, args ...any) {
	if nw.err == nil {
		_, nw.err = fmt.Fprintf(nw.w, format, args...)
	}
}

func writeNative(w io.Writer, m *model.SkyModel, sources []*model.Source) error {
	nw := &nativeWriter{w: w}
	title := m.Name
	if title == "" {
		title = "sky model"
	}
	nw.printf("<HTML><HEAD><TITLE>%s</TITLE></HEAD>\n", html.EscapeString(title))
	nw.printf("<BODY mdltype=\"SkyModel\">\n<H1>Source list</H1>\n")
	nw.printf("<TABLE BORDER=1 FRAME=box RULES=all CELLPADDING=5 mdlattr=\"sources\" mdltype=\"list\">\n")
	for _, src := range sources {
		nw.printf("<TR mdltype=\"Source\">")
		for _, a := range entityAttrs(src) {
			nw.value("TD", a.Name, a.Value)
		}
		nw.printf("</TR>\n")
	}
	nw.printf("</TABLE>\n<H1>Other properties</H1>\n")
	for _, a := range entityAttrs(m) {
		nw.printf("<P>%s: ", html.EscapeString(a.Name))
		nw.value("A", a.Name, a.Value)
		nw.printf("</P>\n")
	}
	nw.printf("</BODY></HTML>\n")
	return nw.err
}

func entityAttrs(e model.Entity) []model.Attr {
	attrs := append([]model.Attr{}, e.Mandatory()...)
	attrs = append(attrs, e.Optional()...)
	return append(attrs, e.Extra()...)
}

func (nw *nativeWriter) open(tag, attr, typ string) {
	if attr != "" {
		nw.printf("<%s mdlattr=\"%s\" mdltype=\"%s\">", tag, html.EscapeString(attr), typ)
	} else {
		nw.printf("<%s mdltype=\"%s\">", tag, typ)
	}
}

// value writes one attribute; nested values always use <A> tags.
func (nw *nativeWriter) value(tag, attr string, v any) {
	switch x := v.(type) {
	case model.Entity:
		nw.open(tag, attr, x.TypeName())
		for _, a := range entityAttrs(x) {
			nw.value("A", a.Name, a.Value)
		}
		nw.printf("</%s>", tag)
		return
	}

	v = model.Coerce(v)
	typ := literalType(v)
	switch x := v.(type) {
	case []any:
		nw.open(tag, attr, typ)
		for _, it := range x {
			nw.value("A", "", it)
		}
		nw.printf("</%s>", tag)
	case model.Tuple:
		nw.open(tag, attr, typ)
		for _, it := range x {
			nw.value("A", "", it)
		}
		nw.printf("</%s>", tag)
	case map[string]any:
		nw.open(tag, attr, typ)
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			nw.value("A", k, x[k])
		}
		nw.printf("</%s>", tag)
	default:
		lit, err := model.FormatLiteral(v)
		if err != nil {
			if nw.err == nil {
				nw.err = fmt.Errorf("attribute %q: %v", attr, err)
			}
			return
		}
		display := lit
		if s, ok := v.(string); ok {
			display = s
		}
		if attr != "" {
			nw.printf("<%s mdlattr=\"%s\" mdltype=\"%s\" mdlval=\"%s\">%s</%s>", tag, html.EscapeString(attr), typ,
				html.EscapeString(lit), html.EscapeString(display), tag)
		} else {
			nw.printf("<%s mdltype=\"%s\" mdlval=\"%s\">%s</%s>", tag, typ, html.EscapeString(lit), html.EscapeString(display), tag)
		}
	}
}

// a frame collects one tagged value while its children are read
type frame struct {
	typ, attr string
	val       string
	hasVal    bool
	pos       []any
	kw        map[string]any
	line      int
}

// LoadNative reads a native HTML model.
func LoadNative(filename string, opts LoadOptions) (*model.SkyModel, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "can't open %s", filename)
	}
	defer f.Close()
	return readNative(f, filename)
}

func readNative(r io.Reader, filename string) (*model.SkyModel, error) {
	z := xhtml.NewTokenizer(r)
	// one entry per open element; nil for elements without mdltype
	var stack []*frame
	var result *model.SkyModel
	line := 1

	parent := func() *frame {
		for i := len(stack) - 1; i >= 0; i-- {
			if stack[i] != nil {
				return stack[i]
			}
		}
		return nil
	}

	closeFrame := func(fr *frame) error {
		v, keep, err := finishFrame(fr, filename)
		if err != nil {
			return err
		}
		if fr.typ == "SkyModel" {
			result = v.(*model.SkyModel)
			return nil
		}
		if !keep {
			return nil
		}
		p := parent()
		if p == nil {
			return nil
		}
		if fr.attr != "" {
			p.kw[fr.attr] = v
		} else {
			p.pos = append(p.pos, v)
		}
		return nil
	}

	for {
		tt := z.Next()
		raw := z.Raw()
		switch tt {
		case xhtml.ErrorToken:
			if z.Err() == io.EOF {
				if result == nil {
					return nil, errors.New(errors.ErrCodeFileFormat, "%s: no SkyModel element found", filename)
				}
				return result, nil
			}
			return nil, errors.Wrap(errors.ErrCodeFileFormat, z.Err(), "parsing %s", filename)

		case xhtml.StartTagToken, xhtml.SelfClosingTagToken:
			tok := z.Token()
			var fr *frame
			for _, a := range tok.Attr {
				switch a.Key {
				case "mdltype":
					if fr == nil {
						fr = &frame{kw: map[string]any{}, line: line}
					}
					fr.typ = a.Val
				case "mdlattr":
					if fr == nil {
						fr = &frame{kw: map[string]any{}, line: line}
					}
					fr.attr = a.Val
				case "mdlval":
					if fr == nil {
						fr = &frame{kw: map[string]any{}, line: line}
					}
					fr.val, fr.hasVal = a.Val, true
				}
			}
			if fr != nil && fr.typ == "" {
				// attr without a type: not part of the markup
				fr = nil
			}
			if tt == xhtml.SelfClosingTagToken {
				if fr != nil {
					if err := closeFrame(fr); err != nil {
						return nil, err
					}
				}
			} else {
				stack = append(stack, fr)
			}

		case xhtml.EndTagToken:
			if len(stack) == 0 {
				break
			}
			fr := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if fr != nil {
				if err := closeFrame(fr); err != nil {
					return nil, err
				}
			}
		}
		line += strings.Count(string(raw), "\n")
	}
}

// finishFrame builds the value of a closed frame. keep is false for
// unknown classes, which are skipped.
func finishFrame(fr *frame, filename string) (any, bool, error) {
	switch {
	case atomicTypes[fr.typ]:
		if !fr.hasVal {
			return nil, false, errors.New(errors.ErrCodeFileFormat, "%s:%d: %s value without mdlval", filename, fr.line, fr.typ)
		}
		v, err := model.ParseLiteral(fr.val)
		if err != nil {
			return nil, false, errors.Wrap(errors.ErrCodeFileFormat, err, "%s:%d", filename, fr.line)
		}
		if fr.typ == "float" {
			if n, ok := v.(int); ok {
				v = float64(n)
			}
		}
		return v, true, nil
	case fr.typ == "list":
		return append([]any{}, fr.pos...), true, nil
	case fr.typ == "tuple":
		return append(model.Tuple{}, fr.pos...), true, nil
	case fr.typ == "dict":
		return fr.kw, true, nil
	case fr.typ == "SkyModel":
		m, err := buildNativeModel(fr, filename)
		return m, true, err
	}

	v, ok, err := model.Construct(fr.typ, fr.pos, fr.kw)
	if !ok {
		warnf(filename, fr.line, "unknown class %q skipped", fr.typ)
		return nil, false, nil
	}
	if err != nil {
		warnf(filename, fr.line, "%v", err)
		return nil, false, nil
	}
	return v, true, nil
}

func buildNativeModel(fr *frame, filename string) (*model.SkyModel, error) {
	var sources []*model.Source
	if list, ok := fr.kw["sources"].([]any); ok {
		for _, v := range list {
			if s, ok := v.(*model.Source); ok {
				sources = append(sources, s)
			}
		}
	}
	delete(fr.kw, "sources")
	m := model.NewSkyModel(sources...)

	keys := make([]string, 0, len(fr.kw))
	for k := range fr.kw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := m.SetAttribute(k, fr.kw[k]); err != nil {
			return nil, errors.Wrap(errors.ErrCodeFileFormat, err, "%s: model attribute", filename)
		}
	}
	log.Debugf("%s: %d sources, %d model attributes", filename, len(sources), len(keys))
	return m, nil
}
