package soap

import (
	"fmt"
	"io"
	"strings"

	"github.com/loopcast/updpnp/internal/xmlstream"
)

// Reply is the result of invoking one action (spec.md §3 ActionReply).
type Reply struct {
	Valid bool
	Args  []Arg
}

// Get returns the value of the first argument named name, and whether it
// was present.
func (r *Reply) Get(name string) (string, bool) {
	for _, a := range r.Args {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// Processor lets a caller take over response-stream consumption instead
// of the default argument-extracting parse, for large payloads the
// caller wants to avoid buffering (spec.md §4.5 "optional caller-supplied
// XML processor").
type Processor func(io.Reader) error

// ParseReply streams r and records one argument per terminal element
// (non-empty text or attributes). The "Result" element's text is
// preserved verbatim as embedded DIDL-Lite XML: the streaming parser's
// entity unescaping already reduces its escaped markup back to literal
// XML text without attempting to interpret it structurally.
//
// The parser emits elements in closing order (post-order), so a wrapper
// element's own children are always emitted immediately before it. Seeing
// the previously emitted element's path nested under the current one's
// path is therefore enough to tell a wrapper (s:Envelope, s:Body, the
// u:Action/u:ActionResponse tag) apart from a true terminal argument,
// without naming any of those wrappers explicitly.
func ParseReply(r io.Reader) (*Reply, error) {
	reply := &Reply{Valid: true}

	var lastPath string
	p := xmlstream.New(func(e xmlstream.Element) {
		hasChildren := lastPath != "" && strings.HasPrefix(lastPath, e.Path+"/")
		lastPath = e.Path
		if hasChildren {
			return
		}
		if e.Text == "" && len(e.Attributes) == 0 {
			return
		}
		reply.Args = append(reply.Args, Arg{Name: e.Name, Value: e.Text})
	})

	buf := make([]byte, xmlstream.DefaultBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			p.Feed(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read soap reply: %w", err)
		}
	}
	return reply, nil
}

// ParseReplyWith defers to processor when non-nil, otherwise falls back to
// ParseReply.
func ParseReplyWith(r io.Reader, processor Processor) (*Reply, error) {
	if processor != nil {
		if err := processor(r); err != nil {
			return nil, err
		}
		return &Reply{Valid: true}, nil
	}
	return ParseReply(r)
}

// Invalid returns a Reply with Valid=false and no arguments, used when an
// action's HTTP status was not 200 (spec.md §4.5).
func Invalid() *Reply {
	return &Reply{Valid: false}
}
