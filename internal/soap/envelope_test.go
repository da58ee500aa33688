package soap

import (
	"bytes"
	"strings"
	"testing"
)

func TestSOAPAction(t *testing.T) {
	t.Parallel()
	r := Request{ServiceType: "urn:schemas-upnp-org:service:ContentDirectory:1", ActionName: "Browse"}
	want := `"urn:schemas-upnp-org:service:ContentDirectory:1#Browse"`
	if got := r.SOAPAction(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestWriteEnvelopeStructure(t *testing.T) {
	t.Parallel()
	r := Request{
		ServiceType: "urn:schemas-upnp-org:service:ContentDirectory:1",
		ActionName:  "Browse",
		Args: []Arg{
			{Name: "ObjectID", Value: "0"},
			{Name: "BrowseFlag", Value: "BrowseDirectChildren"},
		},
	}

	var b bytes.Buffer
	if err := WriteEnvelope(&b, r); err != nil {
		t.Fatalf("write envelope: %v", err)
	}
	out := b.String()

	if !strings.Contains(out, `xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"`) {
		t.Fatalf("missing envelope namespace: %s", out)
	}
	if !strings.Contains(out, `s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/"`) {
		t.Fatalf("missing encodingStyle: %s", out)
	}
	if !strings.Contains(out, `<u:Browse xmlns:u="urn:schemas-upnp-org:service:ContentDirectory:1">`) {
		t.Fatalf("missing action element with service namespace: %s", out)
	}
	if !strings.Contains(out, "<ObjectID>0</ObjectID>") {
		t.Fatalf("missing ObjectID argument: %s", out)
	}
}

func TestParseSOAPActionHeader(t *testing.T) {
	t.Parallel()
	svc, action, ok := ParseSOAPActionHeader(`"urn:schemas-upnp-org:service:ContentDirectory:1#Browse"`)
	if !ok {
		t.Fatal("expected ok")
	}
	if svc != "urn:schemas-upnp-org:service:ContentDirectory:1" || action != "Browse" {
		t.Fatalf("got svc=%q action=%q", svc, action)
	}
}

func TestWriteActionResponse(t *testing.T) {
	t.Parallel()
	var b bytes.Buffer
	args := []Arg{{Name: "NumberReturned", Value: "0"}}
	if err := WriteActionResponse(&b, "urn:schemas-upnp-org:service:ContentDirectory:1", "Browse", args); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(b.String(), "<u:BrowseResponse") {
		t.Fatalf("expected BrowseResponse wrapper, got %s", b.String())
	}
	if ActionResponseBytes("urn:schemas-upnp-org:service:ContentDirectory:1", "Browse", args) != b.Len() {
		t.Fatal("ActionResponseBytes mismatch with actual write")
	}
}

func TestEnvelopeBytesMatchesWrite(t *testing.T) {
	t.Parallel()
	r := Request{
		ServiceType: "urn:schemas-upnp-org:service:ContentDirectory:1",
		ActionName:  "Browse",
		Args:        []Arg{{Name: "ObjectID", Value: "0"}},
	}

	counted := EnvelopeBytes(r)

	var b bytes.Buffer
	if err := WriteEnvelope(&b, r); err != nil {
		t.Fatalf("write: %v", err)
	}
	if counted != b.Len() {
		t.Fatalf("counted %d, actual %d", counted, b.Len())
	}
}
