package description

import (
	"fmt"
	"io"

	"github.com/loopcast/updpnp/internal/xmlstream"
)

// Render writes d's full device description document to w, in the field
// order spec.md §4.8 specifies: specVersion, URLBase, device (with its
// metadata), iconList, serviceList.
func Render(w io.Writer, d *Device) error {
	return xmlstream.Render(w, func(p *xmlstream.Printer) { renderRoot(p, d) })
}

// CountBytes returns the exact byte length Render would write, via the
// xmlstream counting pass (spec.md §4.7, §9 testable property 6).
func CountBytes(d *Device) int {
	return xmlstream.CountBytes(func(p *xmlstream.Printer) { renderRoot(p, d) })
}

func renderRoot(p *xmlstream.Printer, d *Device) {
	p.Header()
	p.Node("root", func(p *xmlstream.Printer) {
		renderSpecVersion(p, d.SpecVersion)
		p.TextElement("URLBase", d.BaseURL)
		p.Node("device", func(p *xmlstream.Printer) {
			renderDevice(p, d)
		})
	}, xmlstream.Attr{Name: "xmlns", Value: "urn:schemas-upnp-org:device-1-0"})
}

func renderSpecVersion(p *xmlstream.Printer, v SpecVersion) {
	p.Node("specVersion", func(p *xmlstream.Printer) {
		p.TextElement("major", fmt.Sprintf("%d", v.Major))
		p.TextElement("minor", fmt.Sprintf("%d", v.Minor))
	})
}

func renderDevice(p *xmlstream.Printer, d *Device) {
	p.TextElement("deviceType", d.DeviceType)
	p.TextElement("friendlyName", d.FriendlyName)
	p.TextElement("manufacturer", d.Manufacturer.Name)
	p.TextElement("manufacturerURL", d.Manufacturer.URL)
	p.TextElement("modelDescription", d.Model.Description)
	p.TextElement("modelName", d.Model.Name)
	p.TextElement("modelNumber", d.Model.Number)
	p.TextElement("modelURL", d.Model.URL)
	p.TextElement("serialNumber", d.Serial)
	p.TextElement("UDN", d.UDN)
	p.TextElement("UPC", d.UPC)

	p.Node("iconList", func(p *xmlstream.Printer) {
		for _, icon := range d.Icons {
			renderIcon(p, icon)
		}
	})

	p.Node("serviceList", func(p *xmlstream.Printer) {
		for _, svc := range d.Services {
			renderService(p, svc, d.SubscriptionsEnabled)
		}
	})
}

func renderIcon(p *xmlstream.Printer, icon Icon) {
	p.Node("icon", func(p *xmlstream.Printer) {
		p.TextElement("mimetype", icon.Mimetype)
		p.TextElement("width", fmt.Sprintf("%d", icon.Width))
		p.TextElement("height", fmt.Sprintf("%d", icon.Height))
		p.TextElement("depth", fmt.Sprintf("%d", icon.Depth))
		p.TextElement("url", icon.URL)
	})
}

func renderService(p *xmlstream.Printer, svc Service, subscriptionsEnabled bool) {
	p.Node("service", func(p *xmlstream.Printer) {
		p.TextElement("serviceType", svc.ServiceType)
		p.TextElement("serviceId", svc.ServiceID)
		p.TextElement("SCPDURL", svc.SCPDURL)
		p.TextElement("controlURL", svc.ControlURL)
		if subscriptionsEnabled {
			p.TextElement("eventSubURL", svc.EventSubURL)
		} else {
			p.SelfClosingTag("eventSubURL")
		}
	})
}
