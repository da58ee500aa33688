package soap

import (
	"io"
	"strings"
	"testing"
)

func TestParseReplyExtractsArgs(t *testing.T) {
	t.Parallel()
	body := `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
<s:Body>
<u:BrowseResponse xmlns:u="urn:schemas-upnp-org:service:ContentDirectory:1">
<NumberReturned>1</NumberReturned>
<TotalMatches>1</TotalMatches>
<UpdateID>0</UpdateID>
</u:BrowseResponse>
</s:Body>
</s:Envelope>`

	reply, err := ParseReply(strings.NewReader(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if v, ok := reply.Get("NumberReturned"); !ok || v != "1" {
		t.Fatalf("expected NumberReturned=1, got %q ok=%v", v, ok)
	}
	if v, ok := reply.Get("TotalMatches"); !ok || v != "1" {
		t.Fatalf("expected TotalMatches=1, got %q ok=%v", v, ok)
	}
}

func TestParseReplyExcludesWrapperElementsFromArgs(t *testing.T) {
	t.Parallel()
	body := `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
<s:Body>
<u:BrowseResponse xmlns:u="urn:schemas-upnp-org:service:ContentDirectory:1">
<NumberReturned>1</NumberReturned>
<TotalMatches>1</TotalMatches>
<UpdateID>0</UpdateID>
</u:BrowseResponse>
</s:Body>
</s:Envelope>`

	reply, err := ParseReply(strings.NewReader(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []Arg{
		{Name: "NumberReturned", Value: "1"},
		{Name: "TotalMatches", Value: "1"},
		{Name: "UpdateID", Value: "0"},
	}
	if len(reply.Args) != len(want) {
		t.Fatalf("expected exactly the 3 action arguments, got %d: %+v", len(reply.Args), reply.Args)
	}
	for i, a := range want {
		if reply.Args[i] != a {
			t.Fatalf("arg %d: got %+v, want %+v", i, reply.Args[i], a)
		}
	}
}

func TestParseReplyPreservesResultVerbatim(t *testing.T) {
	t.Parallel()
	body := `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
<s:Body>
<u:BrowseResponse xmlns:u="urn:schemas-upnp-org:service:ContentDirectory:1">
<Result>&lt;DIDL-Lite xmlns="urn:schemas-upnp-org:didl-lite"&gt;&lt;item id="1"&gt;&lt;dc:title&gt;Song&lt;/dc:title&gt;&lt;/item&gt;&lt;/DIDL-Lite&gt;</Result>
<NumberReturned>1</NumberReturned>
</u:BrowseResponse>
</s:Body>
</s:Envelope>`

	reply, err := ParseReply(strings.NewReader(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	result, ok := reply.Get("Result")
	if !ok {
		t.Fatal("expected Result argument present")
	}
	want := `<DIDL-Lite xmlns="urn:schemas-upnp-org:didl-lite"><item id="1"><dc:title>Song</dc:title></item></DIDL-Lite>`
	if result != want {
		t.Fatalf("got %q, want %q", result, want)
	}
}

func TestParseReplyWithProcessorOverride(t *testing.T) {
	t.Parallel()
	body := `<Result>raw</Result>`

	var seen string
	reply, err := ParseReplyWith(strings.NewReader(body), func(r io.Reader) error {
		buf := make([]byte, 64)
		n, _ := r.Read(buf)
		seen = string(buf[:n])
		return nil
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !reply.Valid {
		t.Fatal("expected processor-handled reply to be marked valid")
	}
	if !strings.Contains(seen, "Result") {
		t.Fatalf("expected processor to see raw body, got %q", seen)
	}
}

func TestInvalidReply(t *testing.T) {
	t.Parallel()
	r := Invalid()
	if r.Valid {
		t.Fatal("expected Invalid() to produce Valid=false")
	}
	if len(r.Args) != 0 {
		t.Fatal("expected no args on invalid reply")
	}
}
