package description

import (
	"io"
	"strings"
	"testing"
)

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()
	original := sampleDevice()
	original.Icons = []Icon{{Mimetype: "image/png", Width: 48, Height: 48, Depth: 24, URL: "/icon.png"}}

	var b strings.Builder
	if err := Render(&b, original); err != nil {
		t.Fatalf("render: %v", err)
	}

	parsed, err := Parse(strings.NewReader(b.String()))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if parsed.UDN != original.UDN {
		t.Errorf("UDN mismatch: got %q, want %q", parsed.UDN, original.UDN)
	}
	if parsed.FriendlyName != original.FriendlyName {
		t.Errorf("FriendlyName mismatch: got %q, want %q", parsed.FriendlyName, original.FriendlyName)
	}
	if parsed.BaseURL != original.BaseURL {
		t.Errorf("BaseURL mismatch: got %q, want %q", parsed.BaseURL, original.BaseURL)
	}
	if len(parsed.Services) != len(original.Services) {
		t.Fatalf("expected %d services, got %d", len(original.Services), len(parsed.Services))
	}
	if parsed.Services[0].ServiceType != original.Services[0].ServiceType {
		t.Errorf("service type mismatch: got %q, want %q", parsed.Services[0].ServiceType, original.Services[0].ServiceType)
	}
	if len(parsed.Icons) != 1 || parsed.Icons[0].Width != 48 {
		t.Fatalf("expected one icon with width 48, got %+v", parsed.Icons)
	}
}

func TestParseMultipleServicesDoNotBleedFields(t *testing.T) {
	t.Parallel()
	d := sampleDevice()
	d.Services = append(d.Services, Service{
		ServiceType: "urn:schemas-upnp-org:service:ConnectionManager:1",
		ServiceID:   "urn:upnp-org:serviceId:ConnectionManager",
		SCPDURL:     "/cm.xml",
		ControlURL:  "/cm/control",
		EventSubURL: "/cm/event",
	})

	var b strings.Builder
	if err := Render(&b, d); err != nil {
		t.Fatalf("render: %v", err)
	}

	parsed, err := Parse(strings.NewReader(b.String()))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(parsed.Services) != 2 {
		t.Fatalf("expected 2 services, got %d: %+v", len(parsed.Services), parsed.Services)
	}
	if parsed.Services[0].ControlURL != "/cd/control" || parsed.Services[1].ControlURL != "/cm/control" {
		t.Fatalf("service fields bled across entries: %+v", parsed.Services)
	}
}

func TestParseMissingUDNErrors(t *testing.T) {
	t.Parallel()
	_, err := Parse(strings.NewReader(`<?xml version="1.0"?><root><device><friendlyName>x</friendlyName></device></root>`))
	if err == nil {
		t.Fatal("expected error for missing UDN")
	}
}

func TestParseFedInSmallChunks(t *testing.T) {
	t.Parallel()
	d := sampleDevice()
	var b strings.Builder
	if err := Render(&b, d); err != nil {
		t.Fatalf("render: %v", err)
	}

	parsed, err := Parse(&chunkedReader{data: b.String(), chunk: 7})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.UDN != d.UDN {
		t.Fatalf("expected UDN %q, got %q", d.UDN, parsed.UDN)
	}
}

type chunkedReader struct {
	data  string
	chunk int
	pos   int
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if c.pos >= len(c.data) {
		return 0, io.EOF
	}
	n := c.chunk
	if n > len(p) {
		n = len(p)
	}
	if c.pos+n > len(c.data) {
		n = len(c.data) - c.pos
	}
	copy(p, c.data[c.pos:c.pos+n])
	c.pos += n
	return n, nil
}
