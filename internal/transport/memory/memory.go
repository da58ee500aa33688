// Package memory provides small, real, in-process stand-ins for the
// transport interfaces, used by tests and by cmd/upnpdemo. It plays the
// same role the teacher's temp-file fixtures play for
// internal/media/buffered_file_resource_test.go: a concrete instance
// exercising real read/seek/close semantics rather than a mock framework.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"

	"github.com/loopcast/updpnp/internal/transport"
)

// Bus is a shared in-memory medium that UDP endpoints attach to. It
// emulates IPv4 multicast UDP closely enough for the core's SSDP state
// machine: datagrams sent to the well-known multicast address are
// delivered to every attached endpoint (including the sender, matching
// SetMulticastLoopback(true) in gcastel-gossdp.createSocket); unicast
// datagrams are delivered only to the endpoint whose LocalAddr matches.
type Bus struct {
	mu        sync.Mutex
	endpoints map[*Endpoint]struct{}
}

const MulticastAddr = "239.255.255.250"

func NewBus() *Bus {
	return &Bus{endpoints: make(map[*Endpoint]struct{})}
}

func (b *Bus) Attach(addr transport.Address) *Endpoint {
	ep := &Endpoint{bus: b, addr: addr, queue: make(chan datagram, 256)}
	b.mu.Lock()
	b.endpoints[ep] = struct{}{}
	b.mu.Unlock()
	return ep
}

func (b *Bus) detach(ep *Endpoint) {
	b.mu.Lock()
	delete(b.endpoints, ep)
	b.mu.Unlock()
}

type datagram struct {
	payload []byte
	src     transport.Address
}

// Endpoint implements transport.UDPTransport against a Bus.
type Endpoint struct {
	bus    *Bus
	addr   transport.Address
	queue  chan datagram
	closed bool
	mu     sync.Mutex
}

func (e *Endpoint) LocalAddr() transport.Address { return e.addr }

func (e *Endpoint) SendTo(addr transport.Address, payload []byte) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("endpoint closed")
	}
	e.mu.Unlock()

	cp := append([]byte(nil), payload...)

	e.bus.mu.Lock()
	defer e.bus.mu.Unlock()
	for ep := range e.bus.endpoints {
		if addr.IP == MulticastAddr {
			e.deliver(ep, cp)
			continue
		}
		if ep.addr.IP == addr.IP && (addr.Port == 0 || ep.addr.Port == addr.Port) {
			e.deliver(ep, cp)
		}
	}
	return nil
}

func (e *Endpoint) deliver(ep *Endpoint, payload []byte) {
	select {
	case ep.queue <- datagram{payload: payload, src: e.addr}:
	default:
		// queue full: drop, same as a lossy UDP link
	}
}

func (e *Endpoint) ReceiveFrom() ([]byte, transport.Address, bool, error) {
	select {
	case d := <-e.queue:
		return d.payload, d.src, true, nil
	default:
		return nil, transport.Address{}, false, nil
	}
}

func (e *Endpoint) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.bus.detach(e)
	return nil
}

// Router is a minimal in-memory HTTPServer: registered handlers are
// invoked synchronously from Step against whatever request was queued by
// a paired Client.
type Router struct {
	mu       sync.Mutex
	handlers map[string]transport.HandlerFunc
	pending  chan pendingRequest
}

type pendingRequest struct {
	req  *transport.Request
	resp chan *recordedResponse
}

func NewRouter() *Router {
	return &Router{
		handlers: make(map[string]transport.HandlerFunc),
		pending:  make(chan pendingRequest, 64),
	}
}

func routeKey(method, path string) string { return method + " " + path }

func (r *Router) Handle(method, path string, fn transport.HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[routeKey(method, path)] = fn
}

// Step serves at most one pending request to completion.
func (r *Router) Step() error {
	select {
	case p := <-r.pending:
		r.serve(p)
		return nil
	default:
		return nil
	}
}

func (r *Router) serve(p pendingRequest) {
	r.mu.Lock()
	fn, ok := r.handlers[routeKey(p.req.Method, p.req.Path)]
	if !ok {
		// Clients pass absolute URLs; a handler registered by bare path
		// (as a device's own server does) matches on the URL's path.
		if u, err := url.Parse(p.req.Path); err == nil && u.Path != p.req.Path {
			fn, ok = r.handlers[routeKey(p.req.Method, u.Path)]
		}
	}
	r.mu.Unlock()

	rec := &recordedResponse{status: 200, headers: make(map[string]string)}
	if !ok {
		rec.status = 404
		p.resp <- rec
		return
	}
	fn(rec, p.req)
	p.resp <- rec
}

type recordedResponse struct {
	status  int
	headers map[string]string
	body    bytes.Buffer
}

func (r *recordedResponse) Header() map[string]string  { return r.headers }
func (r *recordedResponse) WriteHeader(status int)      { r.status = status }
func (r *recordedResponse) Write(p []byte) (int, error) { return r.body.Write(p) }

// Client implements transport.HTTPClient by submitting requests directly
// to a Router's pending queue.
type Client struct {
	router *Router
}

func NewClient(router *Router) *Client { return &Client{router: router} }

func (c *Client) do(ctx context.Context, method, url string, headers map[string]string, body io.Reader) (int, map[string]string, io.ReadCloser, error) {
	req := &transport.Request{Method: method, Path: url, Headers: headers, Body: body}
	p := pendingRequest{req: req, resp: make(chan *recordedResponse, 1)}

	select {
	case c.router.pending <- p:
	case <-ctx.Done():
		return 0, nil, nil, ctx.Err()
	}

	if err := c.router.Step(); err != nil {
		return 0, nil, nil, err
	}

	select {
	case resp := <-p.resp:
		return resp.status, resp.headers, io.NopCloser(bytes.NewReader(resp.body.Bytes())), nil
	case <-ctx.Done():
		return 0, nil, nil, ctx.Err()
	}
}

func (c *Client) Get(ctx context.Context, url string) (int, map[string]string, io.ReadCloser, error) {
	return c.do(ctx, "GET", url, nil, nil)
}

func (c *Client) Post(ctx context.Context, url string, headers map[string]string, body io.Reader) (int, map[string]string, io.ReadCloser, error) {
	return c.do(ctx, "POST", url, headers, body)
}

func (c *Client) Request(ctx context.Context, method, url string, headers map[string]string) (int, map[string]string, io.ReadCloser, error) {
	return c.do(ctx, method, url, headers, nil)
}
