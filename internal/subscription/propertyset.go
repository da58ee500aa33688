package subscription

import (
	"fmt"
	"io"
	"strings"

	"github.com/loopcast/updpnp/internal/xmlstream"
)

// Property is one changed state variable carried in a NOTIFY body
// (spec.md §4.6).
type Property struct {
	Name  string
	Value string
}

const propertySetNS = "urn:schemas-upnp-org:event-1-0"

// BuildPropertySet renders an e:propertyset NOTIFY body with one
// e:property per changed variable (spec.md §4.6).
func BuildPropertySet(props []Property) []byte {
	var b strings.Builder
	_ = xmlstream.Render(&b, func(p *xmlstream.Printer) {
		p.Node("e:propertyset", func(p *xmlstream.Printer) {
			for _, prop := range props {
				p.Node("e:property", func(p *xmlstream.Printer) {
					p.TextElement(prop.Name, prop.Value)
				})
			}
		}, xmlstream.Attr{Name: "xmlns:e", Value: propertySetNS})
	})
	return []byte(b.String())
}

// ParsePropertySet streams r and emits one Property per element with
// non-empty text nested at any depth under an e:property wrapper (spec.md §4.6
// "entering an active state when the opening e:property element is seen").
func ParsePropertySet(r io.Reader) ([]Property, error) {
	var props []Property

	p := xmlstream.New(func(e xmlstream.Element) {
		if e.Name == "e:property" || e.Name == "e:propertyset" {
			return
		}
		if !strings.Contains(e.Path, "e:property/") {
			return
		}
		if e.Text == "" {
			return
		}
		props = append(props, Property{Name: e.Name, Value: e.Text})
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
			return nil, fmt.Errorf("read propertyset: %w", err)
		}
	}
	return props, nil
}
