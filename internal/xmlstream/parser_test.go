package xmlstream

import "testing"

func TestParserSimpleElement(t *testing.T) {
	t.Parallel()
	var got []Element
	p := New(func(e Element) { got = append(got, e) })
	p.Feed([]byte(`<root><name>hello</name></root>`))

	if len(got) != 2 {
		t.Fatalf("expected 2 elements, got %d: %+v", len(got), got)
	}
	if got[0].Name != "name" || got[0].Text != "hello" {
		t.Fatalf("unexpected first element: %+v", got[0])
	}
	if got[0].Path != "root/name" {
		t.Fatalf("expected path root/name, got %q", got[0].Path)
	}
	if got[1].Name != "root" {
		t.Fatalf("expected second element root, got %+v", got[1])
	}
}

func TestParserAttributes(t *testing.T) {
	t.Parallel()
	var got Element
	p := New(func(e Element) {
		if e.Name == "icon" {
			got = e
		}
	})
	p.Feed([]byte(`<icon width="48" height="48" mimetype="image/png"/>`))

	if got.Attributes["width"] != "48" || got.Attributes["mimetype"] != "image/png" {
		t.Fatalf("unexpected attributes: %+v", got.Attributes)
	}
}

func TestParserSelfClosingHasNoCrossTalk(t *testing.T) {
	t.Parallel()
	var got []Element
	p := New(func(e Element) { got = append(got, e) })
	p.Feed([]byte(`<a x="1"/><b>text</b>`))

	for _, e := range got {
		if e.Name == "b" && len(e.Attributes) != 0 {
			t.Fatalf("expected b to have no attributes, got %+v", e.Attributes)
		}
		if e.Name == "a" && e.Attributes["x"] != "1" {
			t.Fatalf("expected a to carry x=1, got %+v", e.Attributes)
		}
	}
}

func TestParserEntities(t *testing.T) {
	t.Parallel()
	var got Element
	p := New(func(e Element) { got = e })
	p.Feed([]byte(`<msg>A &amp; B &lt;tag&gt; &quot;q&quot;</msg>`))

	want := `A & B <tag> "q"`
	if got.Text != want {
		t.Fatalf("expected %q, got %q", want, got.Text)
	}
}

func TestParserEntitiesDisabled(t *testing.T) {
	t.Parallel()
	var got Element
	p := New(func(e Element) { got = e }, WithEntityExpansion(false))
	p.Feed([]byte(`<msg>A &amp; B</msg>`))

	if got.Text != "A &amp; B" {
		t.Fatalf("expected raw entities preserved, got %q", got.Text)
	}
}

func TestParserCDATA(t *testing.T) {
	t.Parallel()
	var got Element
	p := New(func(e Element) { got = e })
	p.Feed([]byte(`<res><![CDATA[<DIDL-Lite>&raw&</DIDL-Lite>]]></res>`))

	want := `<DIDL-Lite>&raw&</DIDL-Lite>`
	if got.Text != want {
		t.Fatalf("expected CDATA body verbatim, got %q", got.Text)
	}
}

func TestParserFeedAcrossChunks(t *testing.T) {
	t.Parallel()
	var got []Element
	p := New(func(e Element) { got = append(got, e) })

	full := `<root><UDN>uuid:abc-123</UDN></root>`
	for i := 0; i < len(full); i++ {
		p.Feed([]byte{full[i]})
	}

	if len(got) != 2 || got[0].Text != "uuid:abc-123" {
		t.Fatalf("expected incremental feed to still produce UDN element, got %+v", got)
	}
}

func TestParserNestedPaths(t *testing.T) {
	t.Parallel()
	var paths []string
	p := New(func(e Element) { paths = append(paths, e.Path) })
	p.Feed([]byte(`<root><device><UDN>x</UDN></device></root>`))

	want := []string{"root/device/UDN", "root/device", "root"}
	if len(paths) != len(want) {
		t.Fatalf("expected %d paths, got %v", len(want), paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("path[%d] = %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestParserSkipsCommentsAndDecl(t *testing.T) {
	t.Parallel()
	var got Element
	p := New(func(e Element) { got = e })
	p.Feed([]byte(`<?xml version="1.0"?><!-- a comment --><root>ok</root>`))

	if got.Name != "root" || got.Text != "ok" {
		t.Fatalf("expected root/ok after skipping prolog/comment, got %+v", got)
	}
}
