package subscription

import (
	"github.com/loopcast/updpnp/internal/transport"
)

// EventCallback is invoked once per changed state variable delivered by a
// NOTIFY (spec.md §4.6 "the application callback is invoked with
// (sid, var, value)").
type EventCallback func(sid, varName, value string)

// HandleNotify implements the control point's local callback endpoint: it
// streams the NOTIFY body through the property-set parser and invokes
// onEvent once per property, then replies 200 OK (spec.md §4.6 "NOTIFY
// ingress"). sid identifies the originating subscription via the SID
// header already extracted by the caller's router.
func HandleNotify(w transport.ResponseWriter, r *transport.Request, onEvent EventCallback) error {
	sid := r.Headers["SID"]

	props, err := ParsePropertySet(r.Body)
	if err != nil {
		w.WriteHeader(400)
		return err
	}

	for _, prop := range props {
		if onEvent != nil {
			onEvent(sid, prop.Name, prop.Value)
		}
	}

	w.WriteHeader(200)
	return nil
}
