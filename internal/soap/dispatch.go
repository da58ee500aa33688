package soap

import (
	"bytes"
	"context"
	"fmt"

	"github.com/loopcast/updpnp/internal/description"
	"github.com/loopcast/updpnp/internal/transport"
)

// BuildControlURL composes a service's absolute control URL from the
// device's base URL and the service's controlURL, joining with exactly one
// slash (spec.md §4.5, §9 testable property 5). There is no
// protocol://host:port fallback: with an empty BaseURL the result is
// whatever JoinURL makes of the bare controlURL.
func BuildControlURL(d *description.Device, svc description.Service) string {
	base := d.BaseURL
	return description.JoinURL(base, svc.ControlURL)
}

// Dispatch POSTs req to svc's control URL over client and parses the
// reply. HTTP 200 is success; any other status yields an invalid Reply
// (spec.md §4.5).
func Dispatch(ctx context.Context, client transport.HTTPClient, d *description.Device, svc description.Service, req Request) (*Reply, error) {
	return DispatchWith(ctx, client, d, svc, req, nil)
}

// DispatchWith is Dispatch with an optional response Processor override.
func DispatchWith(ctx context.Context, client transport.HTTPClient, d *description.Device, svc description.Service, req Request, processor Processor) (*Reply, error) {
	var body bytes.Buffer
	if err := WriteEnvelope(&body, req); err != nil {
		return nil, fmt.Errorf("build soap envelope: %w", err)
	}

	url := BuildControlURL(d, svc)
	headers := map[string]string{
		"SOAPACTION":   req.SOAPAction(),
		"Content-Type": "text/xml",
	}

	status, _, respBody, err := client.Post(ctx, url, headers, &body)
	if err != nil {
		return nil, fmt.Errorf("post soap action %s: %w", req.ActionName, err)
	}
	defer respBody.Close()

	if status != 200 {
		return Invalid(), nil
	}
	return ParseReplyWith(respBody, processor)
}
