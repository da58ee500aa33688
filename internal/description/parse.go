package description

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/loopcast/updpnp/internal/xmlstream"
)

// ParseBufferSize matches the XML parser's configured chunk size
// (spec.md §6 "XML-parser buffer size (default 2048)").
const ParseBufferSize = xmlstream.DefaultBufferSize

const (
	servicePrefix = "root/device/serviceList/service/"
	serviceClose  = "root/device/serviceList/service"
	iconPrefix    = "root/device/iconList/icon/"
	iconClose     = "root/device/iconList/icon"
)

// Parse streams r through the XML parser and builds a Device from the
// completed elements, matching the field layout Render emits. Unknown
// elements are ignored so a description carrying vendor extensions still
// parses (spec.md §4.7 "control point must stream the parse").
func Parse(r io.Reader) (*Device, error) {
	d := &Device{SpecVersion: DefaultSpecVersion}
	var draftService Service
	var draftIcon Icon

	p := xmlstream.New(func(e xmlstream.Element) {
		switch {
		case e.Path == "root/specVersion/major":
			d.SpecVersion.Major = atoiOr(e.Text, 1)
		case e.Path == "root/specVersion/minor":
			d.SpecVersion.Minor = atoiOr(e.Text, 0)
		case e.Path == "root/URLBase":
			d.BaseURL = e.Text
		case e.Path == "root/device/deviceType":
			d.DeviceType = e.Text
		case e.Path == "root/device/friendlyName":
			d.FriendlyName = e.Text
		case e.Path == "root/device/manufacturer":
			d.Manufacturer.Name = e.Text
		case e.Path == "root/device/manufacturerURL":
			d.Manufacturer.URL = e.Text
		case e.Path == "root/device/modelDescription":
			d.Model.Description = e.Text
		case e.Path == "root/device/modelName":
			d.Model.Name = e.Text
		case e.Path == "root/device/modelNumber":
			d.Model.Number = e.Text
		case e.Path == "root/device/modelURL":
			d.Model.URL = e.Text
		case e.Path == "root/device/serialNumber":
			d.Serial = e.Text
		case e.Path == "root/device/UDN":
			d.UDN = e.Text
		case e.Path == "root/device/UPC":
			d.UPC = e.Text

		case strings.HasPrefix(e.Path, servicePrefix):
			switch e.Name {
			case "serviceType":
				draftService.ServiceType = e.Text
			case "serviceId":
				draftService.ServiceID = e.Text
			case "SCPDURL":
				draftService.SCPDURL = e.Text
			case "controlURL":
				draftService.ControlURL = e.Text
			case "eventSubURL":
				draftService.EventSubURL = e.Text
			}
		case e.Path == serviceClose:
			d.Services = append(d.Services, draftService)
			draftService = Service{}

		case strings.HasPrefix(e.Path, iconPrefix):
			switch e.Name {
			case "mimetype":
				draftIcon.Mimetype = e.Text
			case "width":
				draftIcon.Width = atoiOr(e.Text, 0)
			case "height":
				draftIcon.Height = atoiOr(e.Text, 0)
			case "depth":
				draftIcon.Depth = atoiOr(e.Text, 0)
			case "url":
				draftIcon.URL = e.Text
			}
		case e.Path == iconClose:
			d.Icons = append(d.Icons, draftIcon)
			draftIcon = Icon{}
		}
	})

	buf := make([]byte, ParseBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			p.Feed(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read device description: %w", err)
		}
	}

	if d.UDN == "" {
		return nil, fmt.Errorf("device description missing UDN")
	}
	return d, nil
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
