// Package controlpoint implements the control-point half of the system:
// active discovery, the device registry, action invocation, and outbound
// subscription management (spec.md §4.4, §4.6).
package controlpoint

import (
	"slices"

	"github.com/loopcast/updpnp/internal/description"
)

// entry holds one parsed device description; its liveness is tracked on
// the Device itself (Live, LastSeen).
type entry struct {
	dev *description.Device
}

// Registry holds every device discovered so far, keyed by UDN, the same
// dual-index idiom as the teacher's media.Registry (byUUID/byPath here
// narrowed to the single key the control point actually needs).
type Registry struct {
	byUDN map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{byUDN: make(map[string]*entry)}
}

// Add records dev as newly discovered and returns true. If its UDN is
// already present, Add keeps the existing description, marks it live,
// refreshes its LastSeen, and returns false (spec.md §8 property 1,
// scenario 2 "duplicate LOCATION suppression").
func (r *Registry) Add(dev *description.Device, now int64) bool {
	if existing, ok := r.byUDN[dev.UDN]; ok {
		existing.dev.Live = true
		existing.dev.LastSeen = now
		return false
	}
	dev.Live = true
	dev.LastSeen = now
	r.byUDN[dev.UDN] = &entry{dev: dev}
	return true
}

// MarkActive refreshes LastSeen and Live for an already-registered UDN,
// used when a duplicate discovery reply or alive NOTIFY arrives.
func (r *Registry) MarkActive(udn string, now int64) {
	if e, ok := r.byUDN[udn]; ok {
		e.dev.Live = true
		e.dev.LastSeen = now
	}
}

// MarkInactiveByUDN marks a registered device inactive (spec.md §4.4
// byebye handling; DESIGN.md resolves the source's dead inner-branch
// ambiguity as a single non-redundant assignment here).
func (r *Registry) MarkInactiveByUDN(udn string) {
	if e, ok := r.byUDN[udn]; ok {
		e.dev.Live = false
	}
}

// Get looks up a device by UDN.
func (r *Registry) Get(udn string) (*description.Device, bool) {
	e, ok := r.byUDN[udn]
	if !ok {
		return nil, false
	}
	return e.dev, true
}

// Len returns the number of registered devices, live or not.
func (r *Registry) Len() int { return len(r.byUDN) }

// List returns every registered device, sorted by UDN for deterministic
// iteration (same predictable-order concern as media.Registry.List).
func (r *Registry) List() []*description.Device {
	out := make([]*description.Device, 0, len(r.byUDN))
	for _, e := range r.byUDN {
		out = append(out, e.dev)
	}
	slices.SortFunc(out, func(a, b *description.Device) int {
		switch {
		case a.UDN < b.UDN:
			return -1
		case a.UDN > b.UDN:
			return 1
		default:
			return 0
		}
	})
	return out
}
