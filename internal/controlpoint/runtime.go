package controlpoint

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/loopcast/updpnp/internal/description"
	"github.com/loopcast/updpnp/internal/device"
	"github.com/loopcast/updpnp/internal/observability"
	"github.com/loopcast/updpnp/internal/schedule"
	"github.com/loopcast/updpnp/internal/soap"
	"github.com/loopcast/updpnp/internal/ssdp"
	"github.com/loopcast/updpnp/internal/subscription"
	"github.com/loopcast/updpnp/internal/transport"
)

// Config holds the control point's discovery and eventing knobs
// (spec.md §6).
type Config struct {
	SearchTarget string // default "ssdp:all"
	MinWaitMs    int64
	MaxWaitMs    int64

	MSearchRepeatMs int64 // default 10000
	MX              int   // MX advertised on our own M-SEARCH, default 3

	DiscoveryNetmask string
	AllowLocalhost   bool

	// LocalCallbackURL is this control point's own NOTIFY ingress URL,
	// advertised to devices in the CALLBACK header on SUBSCRIBE.
	LocalCallbackURL string
	CallbackPath     string // default "/events"

	// MaxDescriptionBytes bounds how much of a fetched description
	// document is read before parsing gives up, guarding against a
	// misbehaving or hostile LOCATION response.
	MaxDescriptionBytes int64
}

// DefaultConfig returns the knob values spec.md §6 names as defaults.
func DefaultConfig() Config {
	return Config{
		SearchTarget:    "ssdp:all",
		MinWaitMs:       500,
		MaxWaitMs:       5000,
		MSearchRepeatMs:     10000,
		MX:                  3,
		CallbackPath:        "/events",
		MaxDescriptionBytes: 1 << 20,
	}
}

// Runtime drives discovery, the device registry, action invocation, and
// outbound subscriptions for one control point (spec.md §4.4).
type Runtime struct {
	cfg Config

	udp    transport.UDPTransport
	http   transport.HTTPServer
	client transport.HTTPClient

	scheduler *schedule.Scheduler
	registry  *Registry
	subs      *subscription.ClientManager

	netmask string
	logger  *slog.Logger

	beganAt int64
	now     int64

	onEvent subscription.EventCallback
}

// NewRuntime wires a Runtime. udp/http/client are already bound
// collaborators; the caller drives the run by calling Begin once and Loop
// repeatedly.
func NewRuntime(udp transport.UDPTransport, httpSrv transport.HTTPServer, client transport.HTTPClient, cfg Config, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	netmask := cfg.DiscoveryNetmask
	if netmask == "" {
		netmask = DefaultNetmaskFor(udp)
	}

	r := &Runtime{
		cfg:       cfg,
		udp:       udp,
		http:      httpSrv,
		client:    client,
		scheduler: schedule.NewScheduler(logger),
		registry:  NewRegistry(),
		subs:      subscription.NewClientManager(),
		netmask:   netmask,
		logger:    logger.With("component", "controlpoint"),
	}
	if httpSrv != nil {
		httpSrv.Handle("NOTIFY", cfg.CallbackPath, r.handleEventNotify)
	}
	return r
}

// DefaultNetmaskFor resolves the discovery netmask from the UDP
// transport's own bound address, matching the device side's default.
func DefaultNetmaskFor(udp transport.UDPTransport) string {
	return device.DefaultNetmask(udp.LocalAddr().IP)
}

// OnEvent registers the application-level callback invoked for every
// state-variable change delivered to the local NOTIFY ingress
// (spec.md §8 scenario 5).
func (r *Runtime) OnEvent(cb subscription.EventCallback) { r.onEvent = cb }

// Begin installs the repeating MSearchSchedule and starts the discovery
// window (spec.md §4.4 "begin(searchTarget, minWaitMs, maxWaitMs)").
func (r *Runtime) Begin(now0 int64) {
	r.beganAt = now0
	target := r.cfg.SearchTarget
	if target == "" {
		target = "ssdp:all"
	}
	repeat := r.cfg.MSearchRepeatMs
	if repeat <= 0 {
		repeat = 10000
	}
	endAt := now0 + r.cfg.MaxWaitMs
	sch := schedule.New(schedule.KindMSearch, now0, repeat, endAt, nil, func(now int64, udp transport.UDPTransport) error {
		frame := ssdp.BuildMSearch(target, r.cfg.MX)
		multicast := transport.Address{IP: ssdp.MulticastAddr, Port: ssdp.MulticastPort}
		return udp.SendTo(multicast, frame)
	})
	r.scheduler.Add(sch)
}

// Loop performs one discovery-window iteration (spec.md §4.4 step 3):
// process inbound UDP, execute due schedules, step the HTTP server. done
// reports whether the discovery window should end.
func (r *Runtime) Loop(now int64) (done bool, err error) {
	r.now = now

	payload, src, ok, recvErr := r.udp.ReceiveFrom()
	if recvErr != nil {
		r.logger.Warn("udp receive failed", "error", recvErr)
	} else if ok {
		r.handleDatagram(now, payload, src)
	}

	observability.ScheduleQueueDepth.Set(float64(r.scheduler.Size()))
	r.scheduler.Execute(now, r.udp)

	if r.http != nil {
		if err := r.http.Step(); err != nil {
			r.logger.Warn("http step failed", "error", err)
		}
	}

	elapsed := now - r.beganAt
	if r.registry.Len() > 0 && elapsed >= r.cfg.MinWaitMs {
		return true, nil
	}
	if elapsed >= r.cfg.MaxWaitMs {
		return true, nil
	}
	return false, nil
}

// End stops the search schedule, drains the scheduler, and releases the
// UDP listener (spec.md §5 "end()... drains it... releases the UDP
// listener"). The HTTP server and client are owned by the caller.
func (r *Runtime) End(now int64) error {
	r.scheduler.SetActive(false)
	r.scheduler.Drain(now, r.udp)
	return r.udp.Close()
}

// Registry exposes the device registry for read access.
func (r *Runtime) Registry() *Registry { return r.registry }

func (r *Runtime) handleDatagram(now int64, payload []byte, src transport.Address) {
	msg, err := ssdp.Parse(payload)
	if err != nil {
		r.logger.Debug("discarding malformed ssdp datagram", "error", err)
		return
	}
	switch msg.Kind {
	case ssdp.KindMSearchReply:
		if r.scheduler.IsSearchActive() {
			r.handleDiscoveryReply(now, msg.USN, msg.Location)
		}
	case ssdp.KindNotify:
		switch msg.NTS {
		case "ssdp:byebye":
			parts := ssdp.SplitUSN(msg.USN)
			r.registry.MarkInactiveByUDN(parts.UDN)
			observability.RegistryEventsTotal.WithLabelValues("byebye").Inc()
		case "ssdp:alive":
			if r.matchesActiveSearchTarget(msg.USN) {
				r.handleDiscoveryReply(now, msg.USN, msg.Location)
			}
		}
	}
}

// matchesActiveSearchTarget implements spec.md §4.4's alive-NOTIFY gate:
// "ssdp:all matches anything; otherwise the USN must contain the target
// string".
func (r *Runtime) matchesActiveSearchTarget(usn string) bool {
	target := r.cfg.SearchTarget
	return target == "" || target == "ssdp:all" || strings.Contains(usn, target)
}

// handleDiscoveryReply implements spec.md §4.4's shared 200-OK/alive
// handling: dedupe by UDN, subnet-check LOCATION, fetch and parse the
// description, and register it.
func (r *Runtime) handleDiscoveryReply(now int64, usn, location string) {
	parts := ssdp.SplitUSN(usn)
	if parts.UDN == "" {
		return
	}
	if _, ok := r.registry.Get(parts.UDN); ok {
		r.registry.MarkActive(parts.UDN, now)
		return
	}

	host := hostOf(location)
	if host == "" || !device.SameSubnet(r.udp.LocalAddr().IP, host, r.netmask) {
		return
	}

	ctx := context.Background()
	status, _, body, err := r.client.Get(ctx, location)
	if err != nil {
		r.logger.Info("description fetch failed", "location", location, "error", err)
		return
	}
	defer body.Close()
	if status != 200 {
		r.logger.Info("description fetch non-200", "location", location, "status", status)
		return
	}

	var boundedReader io.Reader = body
	if r.cfg.MaxDescriptionBytes > 0 {
		boundedReader = io.LimitReader(body, r.cfg.MaxDescriptionBytes)
	}

	dev, err := description.Parse(boundedReader)
	if err != nil {
		r.logger.Info("description parse failed", "location", location, "error", err)
		return
	}
	if dev.ContainsLocalhost() && !r.cfg.AllowLocalhost {
		r.logger.Info("discarding device with localhost base url", "udn", dev.UDN)
		return
	}

	if r.registry.Add(dev, now) {
		observability.RegistryEventsTotal.WithLabelValues("added").Inc()
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// InvokeAction dispatches a SOAP action to a registered, active device
// (spec.md §8 scenario 3: "subsequent action dispatch is rejected" once a
// device is marked inactive).
func (r *Runtime) InvokeAction(ctx context.Context, udn, serviceType, actionName string, args []soap.Arg) (*soap.Reply, error) {
	dev, ok := r.registry.Get(udn)
	if !ok {
		return soap.Invalid(), fmt.Errorf("device %s not registered", udn)
	}
	if !dev.Live {
		return soap.Invalid(), fmt.Errorf("device %s is not active", udn)
	}
	svc, ok := findService(dev, serviceType)
	if !ok {
		return soap.Invalid(), fmt.Errorf("device %s has no service %s", udn, serviceType)
	}

	req := soap.Request{ServiceType: serviceType, ActionName: actionName, Args: args}
	start := time.Now()
	reply, err := soap.Dispatch(ctx, r.client, dev, svc, req)
	observability.SOAPActionDuration.WithLabelValues(serviceType, actionName).Observe(time.Since(start).Seconds())

	status := "dispatched"
	if err != nil {
		status = "error"
	} else if !reply.Valid {
		status = "invalid"
	}
	observability.SOAPActionsTotal.WithLabelValues(serviceType, actionName, status).Inc()
	return reply, err
}

func findService(dev *description.Device, serviceType string) (description.Service, bool) {
	for _, svc := range dev.Services {
		if svc.ServiceType == serviceType {
			return svc, true
		}
	}
	return description.Service{}, false
}

// Subscribe starts a GENA subscription to a registered device's service
// (spec.md §4.6 control-point side).
func (r *Runtime) Subscribe(ctx context.Context, udn, serviceType string, leaseSec int) (*subscription.ClientSubscription, error) {
	dev, ok := r.registry.Get(udn)
	if !ok {
		return nil, fmt.Errorf("device %s not registered", udn)
	}
	svc, ok := findService(dev, serviceType)
	if !ok {
		return nil, fmt.Errorf("device %s has no service %s", udn, serviceType)
	}
	eventSubURL := description.JoinURL(dev.BaseURL, svc.EventSubURL)
	return r.subs.Subscribe(ctx, r.client, eventSubURL, r.cfg.LocalCallbackURL, leaseSec, r.now)
}

// RenewDueSubscriptions resends SUBSCRIBE for every subscription past its
// 80%-of-lease renewal point (spec.md §4.6, §8 property 3). A failed
// renewal is followed at once by a fresh SUBSCRIBE to the same event URL;
// if that fails too, the subscription stays Unsubscribed.
func (r *Runtime) RenewDueSubscriptions(ctx context.Context, leaseSec int) {
	for _, sub := range r.subs.DueForRenewal(r.now) {
		err := r.subs.Renew(ctx, r.client, sub, leaseSec, r.now)
		if err == nil {
			continue
		}
		r.logger.Info("subscription renewal failed, resubscribing", "eventSubURL", sub.EventSubURL, "error", err)
		if _, err := r.subs.Subscribe(ctx, r.client, sub.EventSubURL, r.cfg.LocalCallbackURL, leaseSec, r.now); err != nil {
			r.logger.Info("resubscribe failed", "eventSubURL", sub.EventSubURL, "error", err)
		}
	}
}

// handleEventNotify dispatches inbound HTTP NOTIFY requests at the local
// callback path to the subscription state machine (spec.md §4.6 "NOTIFY
// ingress").
func (r *Runtime) handleEventNotify(w transport.ResponseWriter, req *transport.Request) {
	if err := subscription.HandleNotify(w, req, r.onEvent); err != nil {
		r.logger.Info("notify ingress failed", "error", err)
	}
}
