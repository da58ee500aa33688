package xmlstream

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// Printer builds well-formed XML incrementally through a small set of
// callback-driven primitives (spec.md §4.7). Every Printer method writes
// directly to the underlying io.Writer; CountBytes pairs a Printer with a
// counting pass so callers can compute Content-Length before writing the
// body a second time (spec.md §4.5, §4.8 "Content-Length precomputation").
type Printer struct {
	w   io.Writer
	err error
}

// NewPrinter wraps w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Err returns the first write error encountered, if any.
func (p *Printer) Err() error { return p.err }

func (p *Printer) write(s string) {
	if p.err != nil {
		return
	}
	_, p.err = io.WriteString(p.w, s)
}

// Header writes the standard XML prolog.
func (p *Printer) Header() {
	p.write(`<?xml version="1.0" encoding="utf-8"?>` + "\n")
}

// Attr is one name/value attribute pair. Order is preserved as given,
// unlike a map.
type Attr struct {
	Name  string
	Value string
}

// BeginTag writes "<name attr="val" ...>" with no trailing newline.
func (p *Printer) BeginTag(name string, attrs ...Attr) {
	p.write("<" + name)
	p.writeAttrs(attrs)
	p.write(">")
}

// EndTag writes "</name>".
func (p *Printer) EndTag(name string) {
	p.write("</" + name + ">")
}

// SelfClosingTag writes "<name attr="val" .../>".
func (p *Printer) SelfClosingTag(name string, attrs ...Attr) {
	p.write("<" + name)
	p.writeAttrs(attrs)
	p.write("/>")
}

// TextElement writes "<name>escaped-text</name>", or a self-closing tag
// when text is empty.
func (p *Printer) TextElement(name, text string, attrs ...Attr) {
	if text == "" {
		p.SelfClosingTag(name, attrs...)
		return
	}
	p.BeginTag(name, attrs...)
	p.write(Escape(text))
	p.EndTag(name)
}

// CDATAElement writes "<name><![CDATA[raw]]></name>" without escaping raw,
// used for embedding a DIDL-Lite or propertyset fragment verbatim
// (spec.md §4.5 "embedded XML passthrough").
func (p *Printer) CDATAElement(name, raw string, attrs ...Attr) {
	p.BeginTag(name, attrs...)
	p.write("<![CDATA[")
	p.write(strings.ReplaceAll(raw, "]]>", "]]]]><![CDATA[>"))
	p.write("]]>")
	p.EndTag(name)
}

// Node writes a begin tag, invokes body to fill in the element's
// children, then writes the matching end tag.
func (p *Printer) Node(name string, body func(*Printer), attrs ...Attr) {
	p.BeginTag(name, attrs...)
	if body != nil {
		body(p)
	}
	p.EndTag(name)
}

// Raw writes s verbatim with no escaping, for embedding pre-built XML
// fragments (e.g. a control point's verbatim DIDL-Lite passthrough).
func (p *Printer) Raw(s string) {
	p.write(s)
}

func (p *Printer) writeAttrs(attrs []Attr) {
	for _, a := range attrs {
		p.write(fmt.Sprintf(` %s="%s"`, a.Name, Escape(a.Value)))
	}
}

// Escape replaces the five predefined XML entities.
func Escape(s string) string {
	if !strings.ContainsAny(s, "&<>\"'") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '&':
			b.WriteString("&amp;")
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '"':
			b.WriteString("&quot;")
		case '\'':
			b.WriteString("&apos;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SortedAttrs builds an Attr slice from a map in deterministic key order,
// since map iteration order is randomized and device descriptions must be
// byte-stable across renders for the dual counting/writing pass to agree.
func SortedAttrs(m map[string]string) []Attr {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]Attr, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, Attr{Name: k, Value: m[k]})
	}
	return attrs
}

// countingWriter tallies bytes written without allocating their storage,
// used for the Content-Length precomputation pass.
type countingWriter struct {
	n int
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += len(p)
	return len(p), nil
}

// CountBytes runs render against a no-op counting sink and reports how
// many bytes it would write, so a caller can set a Content-Length header
// before performing the real write with the same render func (spec.md §4.8
// "Content-Length precomputation via counting pass").
func CountBytes(render func(*Printer)) int {
	cw := &countingWriter{}
	render(NewPrinter(cw))
	return cw.n
}

// Render runs render against w and returns any write error encountered.
func Render(w io.Writer, render func(*Printer)) error {
	p := NewPrinter(w)
	render(p)
	return p.Err()
}
