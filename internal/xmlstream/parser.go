// Package xmlstream implements a push-style, SAX-like XML parser and a
// matching callback-driven printer (spec.md §4.7). The parser is the one
// core component with no third-party grounding in the example pack: every
// retrieved repo that touches XML reaches for encoding/xml over an
// already-buffered []byte or io.Reader, but the control point must stream a
// device description as bytes arrive without holding the whole document in
// memory (spec.md §9 "Incremental XML parsing vs buffered strings"), so it
// is hand-rolled as a byte-at-a-time state machine instead. It keeps only
// the text and attributes of the elements that are still open; that text
// has no fixed size bound, and the buffer-size setting only sizes the
// caller's reads.
package xmlstream

import "strings"

// DefaultBufferSize matches spec.md §6's 2 KB default.
const DefaultBufferSize = 2048

// Element is one completed element the parser emits.
type Element struct {
	Name       string
	Path       string // slash-joined ancestor chain, e.g. "root/device/UDN"
	Text       string
	Attributes map[string]string
}

// Callback is invoked once per completed element.
type Callback func(Element)

type parserState int

const (
	stateText parserState = iota
	stateTagOpen
	stateTagName
	stateAttrs
	stateCDATA
	stateComment
	stateDecl
	stateBang
)

const cdataMarker = "[CDATA["

type frame struct {
	name  string
	text  *strings.Builder
	attrs map[string]string
}

// Parser is a restartable push parser: Feed may be called repeatedly with
// successive byte ranges, including a bare prefix, and the parser keeps
// its place waiting for more bytes.
type Parser struct {
	onElement      Callback
	expandEntities bool

	state      parserState
	stack      []frame
	path       []string
	tagBuf     strings.Builder
	attrBuf    strings.Builder
	pendingTag string
	attrs      map[string]string
	closing    bool
	selfClose  bool
	bufferCap  int
	scratch    strings.Builder
}

// Option configures a Parser.
type Option func(*Parser)

// WithEntityExpansion enables/disables expansion of the five predefined
// XML entities in text and attribute values. Enabled by default.
func WithEntityExpansion(enable bool) Option {
	return func(p *Parser) { p.expandEntities = enable }
}

// WithBufferSize hints the parser's preferred chunk size; it does not
// bound correctness, only a caller's read-ahead sizing.
func WithBufferSize(n int) Option {
	return func(p *Parser) { p.bufferCap = n }
}

// New creates a Parser that invokes onElement for each completed element.
func New(onElement Callback, opts ...Option) *Parser {
	p := &Parser{
		onElement:      onElement,
		expandEntities: true,
		bufferCap:      DefaultBufferSize,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// BufferSize returns the configured chunk-size hint.
func (p *Parser) BufferSize() int { return p.bufferCap }

// Feed processes another chunk of bytes. It may be called with a partial
// tag or entity; the parser retains enough state to resume on the next
// call.
func (p *Parser) Feed(chunk []byte) {
	for _, b := range chunk {
		p.feedByte(b)
	}
}

func (p *Parser) feedByte(b byte) {
	switch p.state {
	case stateText:
		if b == '<' {
			p.state = stateTagOpen
			p.pendingTag = ""
			p.closing = false
			p.selfClose = false
			p.attrs = nil
			return
		}
		p.currentText().WriteByte(b)

	case stateTagOpen:
		switch {
		case b == '/':
			p.closing = true
			p.state = stateTagName
		case b == '!':
			p.tagBuf.Reset()
			p.state = stateBang
		case b == '?':
			p.state = stateDecl
		default:
			p.state = stateTagName
			p.tagBuf.WriteByte(b)
		}

	case stateBang:
		p.tagBuf.WriteByte(b)
		s := p.tagBuf.String()
		switch {
		case s == cdataMarker:
			p.tagBuf.Reset()
			p.state = stateCDATA
		case strings.HasPrefix(cdataMarker, s):
			// still a candidate prefix of "[CDATA[", keep accumulating
		default:
			// not CDATA: treat <!-- --> and <!DOCTYPE alike, skip to '>'
			p.tagBuf.Reset()
			p.state = stateComment
		}

	case stateDecl:
		if b == '>' {
			p.state = stateText
		}

	case stateComment:
		if b == '>' {
			p.state = stateText
		}

	case stateTagName:
		switch {
		case b == '>':
			p.finishTag()
		case b == '/':
			p.selfClose = true
		case isSpace(b):
			p.pendingTag = p.tagBuf.String()
			p.tagBuf.Reset()
			p.attrBuf.Reset()
			p.attrs = make(map[string]string)
			p.state = stateAttrs
		default:
			p.tagBuf.WriteByte(b)
		}

	case stateAttrs:
		if b != '>' {
			p.attrBuf.WriteByte(b)
			return
		}
		// A '/' is only a self-close marker when it is the last non-space
		// byte before '>'; elsewhere it belongs to an attribute value.
		raw := strings.TrimRight(p.attrBuf.String(), " \t\r\n")
		if strings.HasSuffix(raw, "/") {
			p.selfClose = true
			p.attrBuf.Reset()
			p.attrBuf.WriteString(strings.TrimSuffix(raw, "/"))
		}
		p.finishTag()

	case stateCDATA:
		p.feedCDATAByte(b)
	}
}

func (p *Parser) feedCDATAByte(b byte) {
	// Simple CDATA handling: accumulate into current text until "]]>" is
	// seen. We look back at the tail of the buffer to detect the closer.
	cur := p.currentText()
	cur.WriteByte(b)
	s := cur.String()
	if strings.HasSuffix(s, "]]>") {
		trimmed := strings.TrimSuffix(s, "]]>")
		cur.Reset()
		cur.WriteString(trimmed)
		p.state = stateText
	}
}

func (p *Parser) finishTag() {
	name := p.pendingTag
	if name == "" {
		name = p.tagBuf.String()
	}
	p.tagBuf.Reset()

	if attrRaw := p.attrBuf.String(); attrRaw != "" && p.attrs != nil {
		parseAttrs(attrRaw, p.attrs, p.expandEntities)
	}
	p.attrBuf.Reset()

	switch {
	case p.closing:
		p.popFrame(name)
	case p.selfClose:
		p.pushFrame(name)
		p.popFrame(name)
	default:
		p.pushFrame(name)
	}
	p.state = stateText
	p.pendingTag = ""
	p.closing = false
	p.selfClose = false
	p.attrs = nil
}

func (p *Parser) pushFrame(name string) {
	p.stack = append(p.stack, frame{name: name, text: &strings.Builder{}, attrs: p.attrs})
	p.path = append(p.path, name)
	p.attrs = nil
}

func (p *Parser) popFrame(name string) {
	if len(p.stack) == 0 {
		return
	}
	top := p.stack[len(p.stack)-1]
	text := top.text.String()
	if p.expandEntities {
		text = unescape(text)
	}

	// Path still includes this element's own name (appended at push time)
	// so report the ancestor-inclusive path before popping it off.
	fullPath := strings.Join(p.path, "/")

	p.stack = p.stack[:len(p.stack)-1]
	p.path = p.path[:len(p.path)-1]

	if p.onElement != nil {
		p.onElement(Element{
			Name:       top.name,
			Path:       fullPath,
			Text:       text,
			Attributes: top.attrs,
		})
	}
}

func (p *Parser) currentText() *strings.Builder {
	if len(p.stack) == 0 {
		// text outside any element: discard into a scratch builder
		p.scratch.Reset()
		return &p.scratch
	}
	return p.stack[len(p.stack)-1].text
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func parseAttrs(raw string, into map[string]string, expand bool) {
	i := 0
	n := len(raw)
	for i < n {
		for i < n && isSpace(raw[i]) {
			i++
		}
		start := i
		for i < n && raw[i] != '=' && !isSpace(raw[i]) {
			i++
		}
		if start == i {
			break
		}
		key := raw[start:i]
		for i < n && isSpace(raw[i]) {
			i++
		}
		if i >= n || raw[i] != '=' {
			continue
		}
		i++ // skip '='
		for i < n && isSpace(raw[i]) {
			i++
		}
		if i >= n {
			break
		}
		quote := raw[i]
		if quote != '"' && quote != '\'' {
			continue
		}
		i++
		valStart := i
		for i < n && raw[i] != quote {
			i++
		}
		val := raw[valStart:i]
		if expand {
			val = unescape(val)
		}
		into[key] = val
		if i < n {
			i++ // skip closing quote
		}
	}
}

var entityReplacer = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&amp;", "&",
)

func unescape(s string) string {
	if !strings.ContainsRune(s, '&') {
		return s
	}
	return entityReplacer.Replace(s)
}
