// Package soap builds SOAP 1.1 action request envelopes and parses their
// replies, preserving an embedded DIDL-Lite Result verbatim (spec.md §4.5).
package soap

import (
	"fmt"
	"io"
	"strings"

	"github.com/loopcast/updpnp/internal/xmlstream"
)

// Arg is one ordered (name, value) action argument (spec.md §3).
type Arg struct {
	Name  string
	Value string
}

// Request is the target and payload of one SOAP action invocation
// (spec.md §3 ActionRequest).
type Request struct {
	ServiceType string
	ActionName  string
	Args        []Arg
}

// SOAPAction returns the `SOAPACTION` header value, quotes included
// (spec.md §4.5, §6).
func (r Request) SOAPAction() string {
	return fmt.Sprintf(`"%s#%s"`, r.ServiceType, r.ActionName)
}

const (
	envelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"
	encodingNS = "http://schemas.xmlsoap.org/soap/encoding/"
)

// renderEnvelope streams the envelope body via the given printer, shared
// between the counting and writing passes so they always agree on length
// (spec.md §9 testable property 6).
func renderEnvelope(p *xmlstream.Printer, r Request) {
	renderNamedEnvelope(p, r.ServiceType, "u:"+r.ActionName, r.Args)
}

// renderNamedEnvelope is shared by request envelopes (action name) and
// device-side response envelopes (action name + "Response").
func renderNamedEnvelope(p *xmlstream.Printer, serviceType, tag string, args []Arg) {
	p.Header()
	p.Node("s:Envelope", func(p *xmlstream.Printer) {
		p.Node("s:Body", func(p *xmlstream.Printer) {
			p.Node(tag, func(p *xmlstream.Printer) {
				for _, a := range args {
					p.TextElement(a.Name, a.Value)
				}
			}, xmlstream.Attr{Name: "xmlns:u", Value: serviceType})
		})
	},
		xmlstream.Attr{Name: "xmlns:s", Value: envelopeNS},
		xmlstream.Attr{Name: "s:encodingStyle", Value: encodingNS},
	)
}

// EnvelopeBytes returns the exact byte length of r's rendered envelope, for
// precomputing Content-Length before the real write (spec.md §4.5).
func EnvelopeBytes(r Request) int {
	return xmlstream.CountBytes(func(p *xmlstream.Printer) { renderEnvelope(p, r) })
}

// WriteEnvelope writes r's SOAP envelope to w.
func WriteEnvelope(w io.Writer, r Request) error {
	return xmlstream.Render(w, func(p *xmlstream.Printer) { renderEnvelope(p, r) })
}

// WriteActionResponse writes a device-side SOAP response envelope:
// "<u:ActionNameResponse xmlns:u=serviceType>" wrapping args.
func WriteActionResponse(w io.Writer, serviceType, actionName string, args []Arg) error {
	tag := "u:" + actionName + "Response"
	return xmlstream.Render(w, func(p *xmlstream.Printer) { renderNamedEnvelope(p, serviceType, tag, args) })
}

// ActionResponseBytes precomputes the byte length WriteActionResponse
// would write.
func ActionResponseBytes(serviceType, actionName string, args []Arg) int {
	tag := "u:" + actionName + "Response"
	return xmlstream.CountBytes(func(p *xmlstream.Printer) { renderNamedEnvelope(p, serviceType, tag, args) })
}

// ParseSOAPActionHeader splits a `"<serviceType>#<actionName>"` SOAPACTION
// header value (quotes included) back into its parts (spec.md §4.5, §6).
func ParseSOAPActionHeader(h string) (serviceType, actionName string, ok bool) {
	h = strings.Trim(h, `"`)
	idx := strings.LastIndex(h, "#")
	if idx == -1 {
		return "", "", false
	}
	return h[:idx], h[idx+1:], true
}
