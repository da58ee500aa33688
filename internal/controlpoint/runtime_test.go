package controlpoint

import (
	"bytes"
	"context"
	"testing"

	"github.com/loopcast/updpnp/internal/description"
	"github.com/loopcast/updpnp/internal/soap"
	"github.com/loopcast/updpnp/internal/ssdp"
	"github.com/loopcast/updpnp/internal/subscription"
	"github.com/loopcast/updpnp/internal/transport"
	"github.com/loopcast/updpnp/internal/transport/memory"
)

// testRecorder is a minimal transport.ResponseWriter for exercising a
// handler directly without a Router round trip.
type testRecorder struct {
	status  int
	headers map[string]string
	body    bytes.Buffer
}

func newTestRecorder() *testRecorder { return &testRecorder{status: 200, headers: map[string]string{}} }

func (r *testRecorder) Header() map[string]string  { return r.headers }
func (r *testRecorder) WriteHeader(status int)      { r.status = status }
func (r *testRecorder) Write(p []byte) (int, error) { return r.body.Write(p) }

const (
	cpIP     = "10.0.0.9"
	deviceIP = "10.0.0.5"
	offnetIP = "172.16.0.5"
)

func sampleDevice(baseURL string) *description.Device {
	return &description.Device{
		UDN:             "uuid:device-1",
		FriendlyName:    "Test Media Server",
		BaseURL:         baseURL,
		DescriptionPath: "/device.xml",
		DeviceType:      "urn:schemas-upnp-org:device:MediaServer:1",
		SpecVersion:     description.DefaultSpecVersion,
		Services: []description.Service{
			{
				ServiceType: "urn:schemas-upnp-org:service:ContentDirectory:1",
				ServiceID:   "urn:upnp-org:serviceId:ContentDirectory",
				SCPDURL:     "/cd/scpd.xml",
				ControlURL:  "/cd/control",
				EventSubURL: "/cd/event",
			},
		},
	}
}

// registerDescription serves dev's rendered description at its own
// DescriptionURL, the exact string a discovery reply's LOCATION carries.
func registerDescription(router *memory.Router, dev *description.Device, getCount *int) {
	router.Handle("GET", dev.DescriptionURL(), func(w transport.ResponseWriter, req *transport.Request) {
		if getCount != nil {
			*getCount++
		}
		w.Header()["Content-Type"] = "text/xml"
		w.WriteHeader(200)
		description.Render(testWriter{w}, dev)
	})
}

type testWriter struct{ w transport.ResponseWriter }

func (t testWriter) Write(p []byte) (int, error) { return t.w.Write(p) }

func newHarness() (*Runtime, *memory.Bus, *memory.Endpoint, *memory.Router) {
	bus := memory.NewBus()
	cpUDP := bus.Attach(transport.Address{IP: cpIP, Port: 4000})
	peerUDP := bus.Attach(transport.Address{IP: deviceIP, Port: 1900})
	deviceRouter := memory.NewRouter()
	client := memory.NewClient(deviceRouter)

	cfg := DefaultConfig()
	cfg.MinWaitMs = 0
	cfg.MaxWaitMs = 5000
	cfg.MX = 1
	cp := NewRuntime(cpUDP, nil, client, cfg, nil)
	return cp, bus, peerUDP, deviceRouter
}

func sendDiscoveryReply(t *testing.T, peerUDP *memory.Endpoint, cpAddr transport.Address, dev *description.Device) {
	t.Helper()
	usn := ssdp.JoinUSN(dev.UDN, "upnp:rootdevice")
	frame := ssdp.BuildMSearchReply("upnp:rootdevice", usn, dev.DescriptionURL(), "test/1.0", 1800)
	if err := peerUDP.SendTo(cpAddr, frame); err != nil {
		t.Fatalf("send reply: %v", err)
	}
}

func drainMSearch(t *testing.T, cp *Runtime, peerUDP *memory.Endpoint) {
	t.Helper()
	// The bus loops multicast back to the sender, so the control point's
	// own M-SEARCH sits in its queue ahead of any reply; Loop reads one
	// datagram per call, so discard that copy first.
	if _, _, ok, err := cp.udp.ReceiveFrom(); err != nil || !ok {
		t.Fatalf("expected the control point's own M-SEARCH to loop back: ok=%v err=%v", ok, err)
	}
	payload, _, ok, err := peerUDP.ReceiveFrom()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !ok {
		t.Fatal("expected the control point to have sent an M-SEARCH")
	}
	msg, err := ssdp.Parse(payload)
	if err != nil {
		t.Fatalf("parse m-search: %v", err)
	}
	if msg.Kind != ssdp.KindMSearchRequest {
		t.Fatalf("expected an M-SEARCH request, got kind %v", msg.Kind)
	}
}

func TestDiscoveryAddsDeviceToRegistry(t *testing.T) {
	t.Parallel()
	cp, _, peerUDP, deviceRouter := newHarness()
	dev := sampleDevice("http://" + deviceIP + ":8080")
	registerDescription(deviceRouter, dev, nil)

	cp.Begin(0)
	if _, err := cp.Loop(0); err != nil {
		t.Fatalf("loop: %v", err)
	}
	drainMSearch(t, cp, peerUDP)

	sendDiscoveryReply(t, peerUDP, cp.udp.LocalAddr(), dev)
	if _, err := cp.Loop(100); err != nil {
		t.Fatalf("loop: %v", err)
	}

	if cp.Registry().Len() != 1 {
		t.Fatalf("expected 1 registered device, got %d", cp.Registry().Len())
	}
	got, ok := cp.Registry().Get(dev.UDN)
	if !ok {
		t.Fatal("expected device to be registered by UDN")
	}
	if !got.Live {
		t.Fatal("expected newly discovered device to be marked live")
	}
}

func TestDuplicateLocationSuppressed(t *testing.T) {
	t.Parallel()
	cp, _, peerUDP, deviceRouter := newHarness()
	dev := sampleDevice("http://" + deviceIP + ":8080")
	var gets int
	registerDescription(deviceRouter, dev, &gets)

	cp.Begin(0)
	cp.Loop(0)
	drainMSearch(t, cp, peerUDP)

	sendDiscoveryReply(t, peerUDP, cp.udp.LocalAddr(), dev)
	cp.Loop(100)
	sendDiscoveryReply(t, peerUDP, cp.udp.LocalAddr(), dev)
	cp.Loop(200)

	if cp.Registry().Len() != 1 {
		t.Fatalf("expected duplicate LOCATION to be suppressed, got %d devices", cp.Registry().Len())
	}
	if gets != 1 {
		t.Fatalf("expected exactly one description GET, got %d", gets)
	}
}

func TestByebyeMarksDeviceInactiveAndRejectsDispatch(t *testing.T) {
	t.Parallel()
	cp, _, peerUDP, deviceRouter := newHarness()
	dev := sampleDevice("http://" + deviceIP + ":8080")
	registerDescription(deviceRouter, dev, nil)

	cp.Begin(0)
	cp.Loop(0)
	drainMSearch(t, cp, peerUDP)
	sendDiscoveryReply(t, peerUDP, cp.udp.LocalAddr(), dev)
	cp.Loop(100)

	if _, ok := cp.Registry().Get(dev.UDN); !ok {
		t.Fatal("expected device to be registered before byebye")
	}

	byebye := ssdp.BuildNotifyByebye("upnp:rootdevice", ssdp.JoinUSN(dev.UDN, "upnp:rootdevice"))
	if err := peerUDP.SendTo(cp.udp.LocalAddr(), byebye); err != nil {
		t.Fatalf("send byebye: %v", err)
	}
	cp.Loop(200)

	got, ok := cp.Registry().Get(dev.UDN)
	if !ok {
		t.Fatal("expected device to remain registered after byebye")
	}
	if got.Live {
		t.Fatal("expected byebye to mark the device inactive")
	}

	_, err := cp.InvokeAction(context.Background(), dev.UDN, dev.Services[0].ServiceType, "Browse", nil)
	if err == nil {
		t.Fatal("expected action dispatch to a byebye'd device to be rejected")
	}
}

func TestInvokeActionDispatchesSOAP(t *testing.T) {
	t.Parallel()
	cp, _, peerUDP, deviceRouter := newHarness()
	dev := sampleDevice("http://" + deviceIP + ":8080")
	registerDescription(deviceRouter, dev, nil)

	svc := dev.Services[0]
	controlURL := soap.BuildControlURL(dev, svc)
	deviceRouter.Handle("POST", controlURL, func(w transport.ResponseWriter, req *transport.Request) {
		serviceType, actionName, ok := soap.ParseSOAPActionHeader(req.Headers["SOAPACTION"])
		if !ok || actionName != "Browse" {
			w.WriteHeader(500)
			return
		}
		reqArgs, err := soap.ParseReply(req.Body)
		if err != nil {
			w.WriteHeader(400)
			return
		}
		objectID, _ := reqArgs.Get("ObjectID")
		w.Header()["Content-Type"] = "text/xml"
		w.WriteHeader(200)
		soap.WriteActionResponse(testWriter{w}, serviceType, actionName, []soap.Arg{
			{Name: "NumberReturned", Value: "1"},
			{Name: "Echo", Value: objectID},
		})
	})

	cp.Begin(0)
	cp.Loop(0)
	drainMSearch(t, cp, peerUDP)
	sendDiscoveryReply(t, peerUDP, cp.udp.LocalAddr(), dev)
	cp.Loop(100)

	reply, err := cp.InvokeAction(context.Background(), dev.UDN, svc.ServiceType, "Browse",
		[]soap.Arg{{Name: "ObjectID", Value: "0"}})
	if err != nil {
		t.Fatalf("invoke action: %v", err)
	}
	if !reply.Valid {
		t.Fatal("expected a valid reply")
	}
	if v, _ := reply.Get("Echo"); v != "0" {
		t.Fatalf("expected echoed ObjectID 0, got %q", v)
	}
}

func TestSubscribeAndReceiveEvent(t *testing.T) {
	t.Parallel()
	cp, _, peerUDP, deviceRouter := newHarness()
	dev := sampleDevice("http://" + deviceIP + ":8080")
	registerDescription(deviceRouter, dev, nil)

	svc := dev.Services[0]
	eventSubURL := description.JoinURL(dev.BaseURL, svc.EventSubURL)
	const sid = "uuid:sub-1"
	deviceRouter.Handle("SUBSCRIBE", eventSubURL, func(w transport.ResponseWriter, req *transport.Request) {
		w.Header()["SID"] = sid
		w.Header()["TIMEOUT"] = "Second-120"
		w.WriteHeader(200)
	})

	var gotVar, gotValue string
	cp.OnEvent(func(gotSID, varName, value string) {
		if gotSID == sid {
			gotVar, gotValue = varName, value
		}
	})

	cp.Begin(0)
	cp.Loop(0)
	drainMSearch(t, cp, peerUDP)
	sendDiscoveryReply(t, peerUDP, cp.udp.LocalAddr(), dev)
	cp.Loop(100)

	sub, err := cp.Subscribe(context.Background(), dev.UDN, svc.ServiceType, 120)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if sub.SID != sid {
		t.Fatalf("expected SID %q, got %q", sid, sub.SID)
	}

	var body bytes.Buffer
	body.WriteString(`<e:propertyset xmlns:e="urn:schemas-upnp-org:event-1-0">` +
		`<e:property><SystemUpdateID>7</SystemUpdateID></e:property></e:propertyset>`)
	req := &transport.Request{
		Method:  "NOTIFY",
		Path:    cp.cfg.CallbackPath,
		Headers: map[string]string{"SID": sid, "SEQ": "0", "NT": "upnp:event", "NTS": "upnp:propchange"},
		Body:    &body,
	}
	rec := newTestRecorder()
	cp.handleEventNotify(rec, req)
	if rec.status != 200 {
		t.Fatalf("expected 200 from notify ingress, got %d", rec.status)
	}

	if gotVar != "SystemUpdateID" || gotValue != "7" {
		t.Fatalf("expected onEvent(SystemUpdateID, 7), got (%q, %q)", gotVar, gotValue)
	}
}

func TestSubnetFilterRejectsOffSubnetDevice(t *testing.T) {
	t.Parallel()
	cp, bus, _, deviceRouter := newHarness()
	offnetPeer := bus.Attach(transport.Address{IP: offnetIP, Port: 1900})
	dev := sampleDevice("http://" + offnetIP + ":8080")
	registerDescription(deviceRouter, dev, nil)

	cp.Begin(0)
	cp.Loop(0)

	// drain the M-SEARCH off the off-subnet peer too, then reply from it.
	drainMSearch(t, cp, offnetPeer)

	sendDiscoveryReply(t, offnetPeer, cp.udp.LocalAddr(), dev)
	cp.Loop(100)

	if cp.Registry().Len() != 0 {
		t.Fatalf("expected off-subnet device to be filtered out, got %d devices", cp.Registry().Len())
	}
}

var _ subscription.EventCallback = func(string, string, string) {}
