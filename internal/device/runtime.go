// Package device implements the device-side half of the system: discovery
// replies and periodic announcements (spec.md §4.3), description/SCPD/
// control/eventing HTTP handlers, and the cooperative main loop that
// drives them all (spec.md §5).
package device

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"strconv"
	"time"

	"github.com/loopcast/updpnp/internal/description"
	"github.com/loopcast/updpnp/internal/observability"
	"github.com/loopcast/updpnp/internal/schedule"
	"github.com/loopcast/updpnp/internal/soap"
	"github.com/loopcast/updpnp/internal/ssdp"
	"github.com/loopcast/updpnp/internal/subscription"
	"github.com/loopcast/updpnp/internal/transport"
)

// replyStaggerMs separates successive identities within one MSearchReply
// burst, small enough to finish well inside a realistic MX window while
// still avoiding back-to-back packet loss on the requester (spec.md §4.3).
const replyStaggerMs = 80

// postAliveStaggerMs separates the two startup PostAlive schedules.
const postAliveStaggerMs = 100

// discoveryMaxAgeSec is the CACHE-CONTROL max-age advertised on discovery
// traffic, independent of any subscription lease.
const discoveryMaxAgeSec = 1800

// ActionHandler serves one SOAP action invocation, returning the response
// arguments in order or an error (the dispatcher replies 500 on error;
// spec.md §4.5 only defines the success path in wire terms, client
// behavior on non-200 is covered by soap.Invalid).
type ActionHandler func(args []soap.Arg) ([]soap.Arg, error)

// Config holds the device runtime's tunable knobs (spec.md §6).
type Config struct {
	// PostAliveRepeatMs is the repeat cadence for the two startup PostAlive
	// schedules; 0 means one-shot.
	PostAliveRepeatMs int64

	// DiscoveryNetmask gates which peers receive M-SEARCH replies. Empty
	// resolves to DefaultNetmask(localIP) at construction time.
	DiscoveryNetmask string

	// MSearchReplyRPS/MSearchReplyBurst bound how often a single peer's
	// M-SEARCH is answered.
	MSearchReplyRPS   float64
	MSearchReplyBurst int
}

// DefaultConfig returns the knob values spec.md §6 names as defaults.
func DefaultConfig() Config {
	return Config{
		PostAliveRepeatMs: 0,
		MSearchReplyRPS:   1,
		MSearchReplyBurst: 4,
	}
}

// Runtime owns one device's discovery, description, control, and eventing
// surface, advanced one loop() call at a time (spec.md §5).
type Runtime struct {
	dev *description.Device

	udp  transport.UDPTransport
	http transport.HTTPServer

	scheduler *schedule.Scheduler
	subs      *subscription.Manager
	limiter   *peerLimiter
	netmask   string

	actions map[string]ActionHandler

	logger *slog.Logger
	rng    *rand.Rand

	// now is the logical clock from the most recent Loop call, giving
	// request handlers a notion of "now" without their own clock source
	// (spec.md §5: the loop thread owns all timekeeping).
	now int64
}

// NewRuntime wires a Runtime for dev, registering the description, SCPD,
// control, and eventing HTTP routes and installing the startup PostAlive
// schedules. udp and http are already bound/listening; the caller drives
// discovery and serving by calling Loop repeatedly.
func NewRuntime(dev *description.Device, udp transport.UDPTransport, httpSrv transport.HTTPServer, cfg Config, logger *slog.Logger, now int64) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	netmask := cfg.DiscoveryNetmask
	if netmask == "" {
		netmask = DefaultNetmask(udp.LocalAddr().IP)
	}

	r := &Runtime{
		dev:       dev,
		udp:       udp,
		http:      httpSrv,
		scheduler: schedule.NewScheduler(logger),
		subs:      subscription.NewManager(),
		limiter:   newPeerLimiter(cfg.MSearchReplyRPS, cfg.MSearchReplyBurst),
		netmask:   netmask,
		actions:   make(map[string]ActionHandler),
		logger:    logger.With("component", "device"),
		rng:       rand.New(rand.NewSource(now + 1)),
	}

	r.registerRoutes()
	r.installPostAlive(now, cfg.PostAliveRepeatMs)
	return r
}

// RegisterAction binds an ActionHandler for one service's action, keyed
// the same way SOAPACTION identifies it (spec.md §4.5).
func (r *Runtime) RegisterAction(serviceType, actionName string, handler ActionHandler) {
	r.actions[serviceType+"#"+actionName] = handler
}

// Loop performs one non-blocking UDP receive, one scheduler sweep, and one
// HTTP step (spec.md §5). now is the runtime's logical clock in
// milliseconds.
func (r *Runtime) Loop(now int64) error {
	r.now = now

	payload, src, ok, err := r.udp.ReceiveFrom()
	if err != nil {
		r.logger.Warn("udp receive failed", "error", err)
	} else if ok {
		r.handleDatagram(now, payload, src)
	}

	observability.ScheduleQueueDepth.Set(float64(r.scheduler.Size()))
	r.scheduler.Execute(now, r.udp)

	if err := r.http.Step(); err != nil {
		r.logger.Warn("http step failed", "error", err)
	}

	for range r.subs.ExpireOlderThan(now) {
		observability.SubscriptionsActive.Dec()
	}
	r.limiter.Cleanup(time.UnixMilli(now), 10*time.Minute)
	return nil
}

// handleDatagram implements spec.md §4.3's per-datagram state machine.
func (r *Runtime) handleDatagram(now int64, payload []byte, src transport.Address) {
	msg, err := ssdp.Parse(payload)
	if err != nil {
		r.logger.Debug("discarding malformed ssdp datagram", "error", err)
		return
	}
	if msg.Kind != ssdp.KindMSearchRequest {
		return
	}
	if !r.matchesSearchTarget(msg.ST) {
		observability.MSearchRepliesTotal.WithLabelValues("filtered").Inc()
		return
	}
	if !SameSubnet(r.udp.LocalAddr().IP, src.IP, r.netmask) {
		observability.MSearchRepliesTotal.WithLabelValues("filtered").Inc()
		return
	}
	if !r.limiter.Allow(src.IP, time.UnixMilli(now)) {
		observability.MSearchRepliesTotal.WithLabelValues("throttled").Inc()
		return
	}

	mx := msg.MX
	if mx <= 0 {
		mx = 1
	}
	r.scheduleReplies(now, mx, src)
}

// matchesSearchTarget reports whether st matches any identity this device
// answers for (spec.md §4.3 step 2).
func (r *Runtime) matchesSearchTarget(st string) bool {
	if st == "ssdp:all" || st == "upnp:rootdevice" || st == r.dev.UDN || st == r.dev.DeviceType {
		return true
	}
	for _, svc := range r.dev.Services {
		if svc.ServiceType == st {
			return true
		}
	}
	return false
}

// replyIdentities lists the announcement identities a reply burst covers,
// in the order spec.md §4.3 step 3 requires: rootdevice, device type, then
// each service type.
func (r *Runtime) replyIdentities() []string {
	identities := make([]string, 0, 2+len(r.dev.Services))
	identities = append(identities, "upnp:rootdevice", r.dev.DeviceType)
	for _, svc := range r.dev.Services {
		identities = append(identities, svc.ServiceType)
	}
	return identities
}

// scheduleReplies installs one one-shot MSearchReply schedule per identity,
// due at now+random(0,mx*1000) and staggered by replyStaggerMs thereafter.
// The random draw reserves enough headroom for the stagger so that even the
// last identity's dueAt never exceeds now+mx*1000 (spec.md §8 property 2).
func (r *Runtime) scheduleReplies(now int64, mx int, peer transport.Address) {
	identities := r.replyIdentities()
	window := mx*1000 - (len(identities)-1)*replyStaggerMs + 1
	if window < 1 {
		window = 1
	}
	base := now + int64(r.rng.Intn(window))
	for i, identity := range identities {
		identity := identity
		dueAt := base + int64(i)*replyStaggerMs
		sch := schedule.New(schedule.KindMSearchReply, dueAt, 0, 0, &peer, func(now int64, udp transport.UDPTransport) error {
			return r.sendMSearchReply(now, udp, identity, peer)
		})
		r.scheduler.Add(sch)
	}
}

func (r *Runtime) sendMSearchReply(now int64, udp transport.UDPTransport, identity string, peer transport.Address) error {
	usn := ssdp.JoinUSN(r.dev.UDN, identity)
	frame := ssdp.BuildMSearchReply(identity, usn, r.dev.DescriptionURL(), serverHeader(), discoveryMaxAgeSec)
	if err := udp.SendTo(peer, frame); err != nil {
		observability.MSearchRepliesTotal.WithLabelValues("sent_error").Inc()
		return fmt.Errorf("send msearch reply: %w", err)
	}
	observability.MSearchRepliesTotal.WithLabelValues("sent").Inc()
	return nil
}

// installPostAlive installs the two staggered startup PostAlive schedules
// (spec.md §4.3 "two PostAlive schedules are installed at startup").
func (r *Runtime) installPostAlive(now int64, repeatEveryMs int64) {
	for i := 0; i < 2; i++ {
		dueAt := now + int64(i)*postAliveStaggerMs
		sch := schedule.New(schedule.KindPostAlive, dueAt, repeatEveryMs, 0, nil, r.postAlive)
		r.scheduler.Add(sch)
	}
}

func (r *Runtime) postAlive(now int64, udp transport.UDPTransport) error {
	multicast := transport.Address{IP: ssdp.MulticastAddr, Port: ssdp.MulticastPort}
	for _, identity := range r.replyIdentities() {
		usn := ssdp.JoinUSN(r.dev.UDN, identity)
		frame := ssdp.BuildNotifyAlive(identity, usn, r.dev.DescriptionURL(), serverHeader(), discoveryMaxAgeSec)
		if err := udp.SendTo(multicast, frame); err != nil {
			return fmt.Errorf("send notify alive: %w", err)
		}
		observability.NotifySentTotal.WithLabelValues("alive").Inc()
	}
	return nil
}

// Shutdown emits the byebye NOTIFYs spec.md §4.3/§5 call for, drains the
// scheduler, and leaves the UDP/HTTP collaborators for the caller to close.
func (r *Runtime) Shutdown(now int64) {
	multicast := transport.Address{IP: ssdp.MulticastAddr, Port: ssdp.MulticastPort}
	for pass := 0; pass < 2; pass++ {
		for _, identity := range r.replyIdentities() {
			usn := ssdp.JoinUSN(r.dev.UDN, identity)
			frame := ssdp.BuildNotifyByebye(identity, usn)
			if err := r.udp.SendTo(multicast, frame); err != nil {
				r.logger.Warn("send notify byebye failed", "error", err)
				continue
			}
			observability.NotifySentTotal.WithLabelValues("byebye").Inc()
		}
	}
	r.scheduler.SetActive(false)
	r.scheduler.Drain(now, r.udp)
}

func serverHeader() string {
	return "Go/updpnp UPnP/1.0 loopcast/1.0"
}

// registerRoutes installs the device's description, SCPD, control, and
// eventing HTTP handlers (spec.md §6).
func (r *Runtime) registerRoutes() {
	r.http.Handle("GET", r.dev.DescriptionPath, r.handleDescription)
	for i := range r.dev.Services {
		svc := r.dev.Services[i]
		r.http.Handle("GET", svc.SCPDURL, r.handleSCPD(svc))
		r.http.Handle("POST", svc.ControlURL, r.handleControl(svc))
		r.http.Handle("SUBSCRIBE", svc.EventSubURL, r.handleSubscribe(svc))
		r.http.Handle("UNSUBSCRIBE", svc.EventSubURL, r.handleUnsubscribe(svc))
	}
}

func (r *Runtime) handleDescription(w transport.ResponseWriter, req *transport.Request) {
	w.Header()["Content-Type"] = "text/xml"
	w.WriteHeader(200)
	if err := description.Render(writerAdapter{w}, r.dev); err != nil {
		r.logger.Warn("render description failed", "error", err)
	}
}

// handleSCPD serves a minimal valid SCPD stub: action and state-variable
// modeling is out of scope (spec.md §1), so every service publishes the
// same empty-but-well-formed document.
func (r *Runtime) handleSCPD(svc description.Service) transport.HandlerFunc {
	body := []byte(`<?xml version="1.0"?>` +
		`<scpd xmlns="urn:schemas-upnp-org:service-1-0">` +
		`<specVersion><major>1</major><minor>0</minor></specVersion>` +
		`<actionList/><serviceStateTable/></scpd>`)
	return func(w transport.ResponseWriter, req *transport.Request) {
		w.Header()["Content-Type"] = "text/xml"
		w.WriteHeader(200)
		w.Write(body)
	}
}

func (r *Runtime) handleControl(svc description.Service) transport.HandlerFunc {
	return func(w transport.ResponseWriter, req *transport.Request) {
		serviceType, actionName, ok := soap.ParseSOAPActionHeader(req.Headers["SOAPACTION"])
		if !ok {
			w.WriteHeader(400)
			return
		}
		reqBody, err := soap.ParseReply(req.Body)
		if err != nil {
			w.WriteHeader(400)
			return
		}
		handler, ok := r.actions[serviceType+"#"+actionName]
		if !ok {
			observability.SOAPActionsTotal.WithLabelValues(serviceType, actionName, "not_implemented").Inc()
			w.WriteHeader(500)
			return
		}
		respArgs, err := handler(reqBody.Args)
		if err != nil {
			observability.SOAPActionsTotal.WithLabelValues(serviceType, actionName, "error").Inc()
			w.WriteHeader(500)
			return
		}
		observability.SOAPActionsTotal.WithLabelValues(serviceType, actionName, "ok").Inc()
		w.Header()["Content-Type"] = "text/xml"
		w.WriteHeader(200)
		if err := soap.WriteActionResponse(writerAdapter{w}, serviceType, actionName, respArgs); err != nil {
			r.logger.Warn("write action response failed", "error", err)
		}
	}
}

func (r *Runtime) handleSubscribe(svc description.Service) transport.HandlerFunc {
	return func(w transport.ResponseWriter, req *transport.Request) {
		timeoutSec := subscription.ParseTimeoutHeader(req.Headers["TIMEOUT"])
		callback := subscription.FirstCallback(req.Headers["CALLBACK"])

		if sid := req.Headers["SID"]; sid != "" {
			sub, err := r.subs.Renew(sid, timeoutSec, r.now)
			if err != nil {
				w.WriteHeader(412)
				return
			}
			w.Header()["SID"] = sub.SID
			w.Header()["TIMEOUT"] = "Second-" + strconv.Itoa(timeoutSec)
			w.WriteHeader(200)
			return
		}

		if callback == "" {
			w.WriteHeader(412)
			return
		}
		sub, err := r.subs.Subscribe(svc.ServiceType, callback, timeoutSec, r.now)
		if err != nil {
			w.WriteHeader(500)
			return
		}
		observability.SubscriptionsActive.Inc()
		w.Header()["SID"] = sub.SID
		w.Header()["TIMEOUT"] = "Second-" + strconv.Itoa(timeoutSec)
		w.WriteHeader(200)
	}
}

func (r *Runtime) handleUnsubscribe(svc description.Service) transport.HandlerFunc {
	return func(w transport.ResponseWriter, req *transport.Request) {
		sid := req.Headers["SID"]
		if sid == "" {
			w.WriteHeader(412)
			return
		}
		if err := r.subs.Unsubscribe(sid); err != nil {
			w.WriteHeader(412)
			return
		}
		observability.SubscriptionsActive.Dec()
		w.WriteHeader(200)
	}
}

// NotifyPropertyChange publishes new variable values to every live
// subscriber of serviceType, as spec.md §4.6 requires when state changes.
func (r *Runtime) NotifyPropertyChange(ctx context.Context, client transport.HTTPClient, serviceType string, props []subscription.Property) error {
	return r.subs.NotifyAll(ctx, client, serviceType, props)
}

// writerAdapter lets an xmlstream/description Render target a
// transport.ResponseWriter via the plain io.Writer they expect.
type writerAdapter struct{ w transport.ResponseWriter }

func (a writerAdapter) Write(p []byte) (int, error) { return a.w.Write(p) }

var _ io.Writer = writerAdapter{}
