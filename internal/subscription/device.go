// Package subscription implements the device-side and control-point-side
// halves of GENA eventing (spec.md §4.6): SID issuance, lease tracking,
// renewal, and NOTIFY propertyset dispatch/ingress.
package subscription

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofrs/uuid/v5"

	"github.com/loopcast/updpnp/internal/transport"
)

// DefaultLeaseSec is used when a SUBSCRIBE request carries no TIMEOUT
// header (spec.md §4.6 "default 1800").
const DefaultLeaseSec = 1800

// Subscription is one device-side subscriber record (spec.md §3).
type Subscription struct {
	SID         string
	ServiceKey  string
	CallbackURL string
	ExpiresAt   int64 // absolute ms
	seq         int64
}

// NextSeq returns the next outbound SEQ for this subscription and
// advances it. SEQ starts at 0 and is strictly increasing (spec.md §9
// testable property 4).
func (s *Subscription) NextSeq() int64 {
	v := s.seq
	s.seq++
	return v
}

// Manager tracks device-side subscriptions per service key and sends
// NOTIFY bodies to live subscribers.
type Manager struct {
	subs map[string]*Subscription // keyed by SID
}

func NewManager() *Manager {
	return &Manager{subs: make(map[string]*Subscription)}
}

// Subscribe issues a new SID for serviceKey/callbackURL with a lease of
// timeoutSec seconds (spec.md §4.6).
func (m *Manager) Subscribe(serviceKey, callbackURL string, timeoutSec int, now int64) (*Subscription, error) {
	if timeoutSec <= 0 {
		timeoutSec = DefaultLeaseSec
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("mint subscription id: %w", err)
	}
	sub := &Subscription{
		SID:         "uuid:" + id.String(),
		ServiceKey:  serviceKey,
		CallbackURL: callbackURL,
		ExpiresAt:   now + int64(timeoutSec)*1000,
	}
	m.subs[sub.SID] = sub
	return sub, nil
}

// Renew updates an existing subscription's lease (spec.md §4.6 "On
// renewal... update expiresAt").
func (m *Manager) Renew(sid string, timeoutSec int, now int64) (*Subscription, error) {
	sub, ok := m.subs[sid]
	if !ok {
		return nil, fmt.Errorf("subscription %s not found", sid)
	}
	if timeoutSec <= 0 {
		timeoutSec = DefaultLeaseSec
	}
	sub.ExpiresAt = now + int64(timeoutSec)*1000
	return sub, nil
}

// Unsubscribe removes a subscription by SID.
func (m *Manager) Unsubscribe(sid string) error {
	if _, ok := m.subs[sid]; !ok {
		return fmt.Errorf("subscription %s not found", sid)
	}
	delete(m.subs, sid)
	return nil
}

// Get looks up a subscription by SID.
func (m *Manager) Get(sid string) (*Subscription, bool) {
	sub, ok := m.subs[sid]
	return sub, ok
}

// Count returns the number of subscriptions currently tracked.
func (m *Manager) Count() int { return len(m.subs) }

// ForService returns every live subscriber of serviceKey.
func (m *Manager) ForService(serviceKey string) []*Subscription {
	var out []*Subscription
	for _, sub := range m.subs {
		if sub.ServiceKey == serviceKey {
			out = append(out, sub)
		}
	}
	return out
}

// ExpireOlderThan removes every subscription whose lease has passed now,
// returning the SIDs removed.
func (m *Manager) ExpireOlderThan(now int64) []string {
	var removed []string
	for sid, sub := range m.subs {
		if now >= sub.ExpiresAt {
			removed = append(removed, sid)
			delete(m.subs, sid)
		}
	}
	return removed
}

// NotifyAll sends a NOTIFY with the given properties to every live
// subscriber of serviceKey, advancing each subscriber's own SEQ
// independently (spec.md §4.6, §9 testable property 4).
func (m *Manager) NotifyAll(ctx context.Context, client transport.HTTPClient, serviceKey string, props []Property) error {
	body := BuildPropertySet(props)
	var firstErr error
	for _, sub := range m.ForService(serviceKey) {
		headers := map[string]string{
			"NT":           "upnp:event",
			"NTS":          "upnp:propchange",
			"SID":          sub.SID,
			"SEQ":          strconv.FormatInt(sub.NextSeq(), 10),
			"Content-Type": "text/xml",
		}
		status, _, respBody, err := client.Post(ctx, sub.CallbackURL, headers, bytes.NewReader(body))
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("notify %s: %w", sub.SID, err)
			}
			continue
		}
		respBody.Close()
		if status != 200 && firstErr == nil {
			firstErr = fmt.Errorf("notify %s: subscriber returned status %d", sub.SID, status)
		}
	}
	return firstErr
}

// ParseTimeoutHeader extracts n from a "Second-<n>" TIMEOUT header value,
// returning DefaultLeaseSec if absent or malformed (spec.md §4.6).
func ParseTimeoutHeader(v string) int {
	const prefix = "Second-"
	if !strings.HasPrefix(v, prefix) {
		return DefaultLeaseSec
	}
	n, err := strconv.Atoi(strings.TrimPrefix(v, prefix))
	if err != nil || n <= 0 {
		return DefaultLeaseSec
	}
	return n
}

// FirstCallback extracts the first "<url>" entry from a CALLBACK header
// value, which may list more than one URL (spec.md §4.6).
func FirstCallback(v string) string {
	start := strings.Index(v, "<")
	end := strings.Index(v, ">")
	if start == -1 || end == -1 || end < start {
		return ""
	}
	return v[start+1 : end]
}
