package subscription

import (
	"bytes"
	"testing"
)

func TestBuildAndParsePropertySet(t *testing.T) {
	t.Parallel()
	body := BuildPropertySet([]Property{{Name: "SystemUpdateID", Value: "1"}})

	props, err := ParsePropertySet(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(props) != 1 || props[0].Name != "SystemUpdateID" || props[0].Value != "1" {
		t.Fatalf("unexpected props: %+v", props)
	}
}

func TestParsePropertySetMatchesSpecExample(t *testing.T) {
	t.Parallel()
	body := `<e:propertyset xmlns:e="urn:schemas-upnp-org:event-1-0"><e:property><SystemUpdateID>1</SystemUpdateID></e:property></e:propertyset>`

	props, err := ParsePropertySet(bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(props) != 1 || props[0].Name != "SystemUpdateID" || props[0].Value != "1" {
		t.Fatalf("unexpected props: %+v", props)
	}
}

func TestParsePropertySetMultipleProperties(t *testing.T) {
	t.Parallel()
	body := BuildPropertySet([]Property{
		{Name: "SystemUpdateID", Value: "2"},
		{Name: "ContainerUpdateIDs", Value: "0,1"},
	})

	props, err := ParsePropertySet(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(props) != 2 {
		t.Fatalf("expected 2 properties, got %d: %+v", len(props), props)
	}
}
