// Package description models a device's description document and its
// constituent services and icons (spec.md §3), and renders them to XML
// via internal/xmlstream.
package description

import "strings"

// Manufacturer identifies who built a device.
type Manufacturer struct {
	Name string
	URL  string
}

// Model identifies what a device is.
type Model struct {
	Name        string
	Number      string
	URL         string
	Description string
}

// Icon is one image a device offers alongside its description (spec.md §3).
type Icon struct {
	Mimetype string
	Width    int
	Height   int
	Depth    int
	URL      string
	Data     []byte
}

// Service is one service a device exposes (spec.md §3).
type Service struct {
	ServiceType string
	ServiceID   string
	SCPDURL     string
	ControlURL  string
	EventSubURL string

	// NamespaceAbbrev is the short prefix used for this service's event
	// property names (spec.md §3 "Optional short namespace abbreviation").
	NamespaceAbbrev string
}

// Device is what a device presents to the network (spec.md §3).
type Device struct {
	UDN          string
	FriendlyName string
	Manufacturer Manufacturer
	Model        Model
	Serial       string
	UPC          string

	// BaseURL is protocol://host:port/prefix. It must never contain the
	// literal "localhost" at runtime; callers rewrite it to the resolved
	// local address before constructing a Device (spec.md §3 invariant).
	BaseURL string

	// DescriptionPath defaults to "/device.xml" (spec.md §3).
	DescriptionPath string

	DeviceType   string
	SpecVersion  SpecVersion
	Services     []Service
	Icons        []Icon

	// SubscriptionsEnabled controls whether eventSubURL renders as a
	// populated or self-closing element (spec.md §4.8).
	SubscriptionsEnabled bool

	// Live/LastSeen are control-point-only bookkeeping fields; a device
	// rendering its own description never reads them.
	Live     bool
	LastSeen int64
}

// SpecVersion is the UPnP Device Architecture version a description
// declares; defaults to 1.0 (spec.md §3).
type SpecVersion struct {
	Major int
	Minor int
}

// DefaultSpecVersion is UPnP Device Architecture 1.0.
var DefaultSpecVersion = SpecVersion{Major: 1, Minor: 0}

// NewDevice builds a Device with spec.md §3 defaults applied.
func NewDevice(udn, deviceType, baseURL string) *Device {
	return &Device{
		UDN:             udn,
		DeviceType:      deviceType,
		BaseURL:         baseURL,
		DescriptionPath: "/device.xml",
		SpecVersion:     DefaultSpecVersion,
	}
}

// JoinURL appends suffix to base with exactly one slash at the join,
// never producing a double slash (spec.md §3 invariant, §8 property 5).
func JoinURL(base, suffix string) string {
	if base == "" {
		return suffix
	}
	if suffix == "" {
		return base
	}
	baseHasSlash := strings.HasSuffix(base, "/")
	suffixHasSlash := strings.HasPrefix(suffix, "/")
	switch {
	case baseHasSlash && suffixHasSlash:
		return base + suffix[1:]
	case !baseHasSlash && !suffixHasSlash:
		return base + "/" + suffix
	default:
		return base + suffix
	}
}

// DescriptionURL returns the absolute URL of this device's description
// document.
func (d *Device) DescriptionURL() string {
	return JoinURL(d.BaseURL, d.DescriptionPath)
}

// ContainsLocalhost reports whether BaseURL contains the literal
// "localhost", which spec.md §3 forbids at runtime.
func (d *Device) ContainsLocalhost() bool {
	return strings.Contains(d.BaseURL, "localhost")
}
