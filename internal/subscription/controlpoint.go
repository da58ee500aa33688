package subscription

import (
	"context"
	"fmt"
	"strconv"

	"github.com/loopcast/updpnp/internal/transport"
)

// State is a control-point-side subscription's lifecycle stage
// (spec.md §3).
type State int

const (
	Unsubscribed State = iota
	Subscribing
	Subscribed
	Expiring
)

func (s State) String() string {
	switch s {
	case Unsubscribed:
		return "Unsubscribed"
	case Subscribing:
		return "Subscribing"
	case Subscribed:
		return "Subscribed"
	case Expiring:
		return "Expiring"
	default:
		return "Unknown"
	}
}

// renewalFraction is the fraction of a lease at which renewal must begin
// (spec.md §4.6 "80% of lease", §9 testable property 3: "before now +
// 0.2 * leaseMs").
const renewalFraction = 0.8

// ClientSubscription is one control-point-side subscription (spec.md §3).
type ClientSubscription struct {
	EventSubURL string
	SID         string
	State       State
	ExpiresAt   int64
	RenewAt     int64
	leaseMs     int64
}

// ClientManager drives control-point-side subscription lifecycles keyed
// by event-sub URL.
type ClientManager struct {
	subs map[string]*ClientSubscription
}

func NewClientManager() *ClientManager {
	return &ClientManager{subs: make(map[string]*ClientSubscription)}
}

// Subscribe POSTs a SUBSCRIBE to eventSubURL with localCallbackURL and
// the requested lease, then records the resulting subscription
// (spec.md §4.6 "Unsubscribed -> Subscribing").
func (m *ClientManager) Subscribe(ctx context.Context, client transport.HTTPClient, eventSubURL, localCallbackURL string, leaseSec int, now int64) (*ClientSubscription, error) {
	sub := &ClientSubscription{EventSubURL: eventSubURL, State: Subscribing}
	m.subs[eventSubURL] = sub

	headers := map[string]string{
		"CALLBACK": "<" + localCallbackURL + ">",
		"NT":       "upnp:event",
		"TIMEOUT":  "Second-" + strconv.Itoa(leaseSec),
	}
	status, respHeaders, respBody, err := client.Request(ctx, "SUBSCRIBE", eventSubURL, headers)
	if err != nil {
		sub.State = Unsubscribed
		return sub, fmt.Errorf("subscribe %s: %w", eventSubURL, err)
	}
	if respBody != nil {
		respBody.Close()
	}
	if status != 200 {
		sub.State = Unsubscribed
		return sub, fmt.Errorf("subscribe %s: status %d", eventSubURL, status)
	}

	sub.SID = respHeaders["SID"]
	m.applyLease(sub, ParseTimeoutHeader(respHeaders["TIMEOUT"]), now)
	sub.State = Subscribed
	return sub, nil
}

func (m *ClientManager) applyLease(sub *ClientSubscription, leaseSec int, now int64) {
	sub.leaseMs = int64(leaseSec) * 1000
	sub.ExpiresAt = now + sub.leaseMs
	sub.RenewAt = now + int64(float64(sub.leaseMs)*renewalFraction)
}

// DueForRenewal returns every subscription whose RenewAt has passed
// (spec.md §4.6 "when now >= renewAt, resend SUBSCRIBE").
func (m *ClientManager) DueForRenewal(now int64) []*ClientSubscription {
	var due []*ClientSubscription
	for _, sub := range m.subs {
		if sub.State == Subscribed && now >= sub.RenewAt {
			due = append(due, sub)
		}
	}
	return due
}

// Renew resends SUBSCRIBE with the existing SID. On failure it marks the
// subscription Unsubscribed and clears its SID, leaving the caller to
// start a fresh Subscribe (spec.md §4.6, §7 "Subscription errors").
func (m *ClientManager) Renew(ctx context.Context, client transport.HTTPClient, sub *ClientSubscription, leaseSec int, now int64) error {
	headers := map[string]string{
		"SID":     sub.SID,
		"TIMEOUT": "Second-" + strconv.Itoa(leaseSec),
	}
	status, respHeaders, respBody, err := client.Request(ctx, "SUBSCRIBE", sub.EventSubURL, headers)
	if respBody != nil {
		respBody.Close()
	}
	if err != nil || status != 200 {
		sub.State = Unsubscribed
		sub.SID = ""
		if err != nil {
			return fmt.Errorf("renew %s: %w", sub.EventSubURL, err)
		}
		return fmt.Errorf("renew %s: status %d", sub.EventSubURL, status)
	}
	m.applyLease(sub, ParseTimeoutHeader(respHeaders["TIMEOUT"]), now)
	sub.State = Subscribed
	return nil
}

// Unsubscribe POSTs UNSUBSCRIBE and removes the local record.
func (m *ClientManager) Unsubscribe(ctx context.Context, client transport.HTTPClient, eventSubURL string) error {
	sub, ok := m.subs[eventSubURL]
	if !ok {
		return nil
	}
	headers := map[string]string{"SID": sub.SID}
	_, _, respBody, err := client.Request(ctx, "UNSUBSCRIBE", eventSubURL, headers)
	if respBody != nil {
		respBody.Close()
	}
	delete(m.subs, eventSubURL)
	return err
}

// Get looks up a subscription by event-sub URL.
func (m *ClientManager) Get(eventSubURL string) (*ClientSubscription, bool) {
	sub, ok := m.subs[eventSubURL]
	return sub, ok
}

// BySID finds the subscription whose SID matches, used to route inbound
// NOTIFY requests at the local callback URL (spec.md §4.6).
func (m *ClientManager) BySID(sid string) (*ClientSubscription, bool) {
	for _, sub := range m.subs {
		if sub.SID == sid {
			return sub, true
		}
	}
	return nil, false
}
