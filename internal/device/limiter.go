package device

import (
	"time"

	"golang.org/x/time/rate"
)

// peerLimiter tracks one per-source-IP rate.Limiter, the same shape as
// the teacher's internal/middleware/limiter.go IPRateLimiter, adapted to
// the cooperative loop: cleanup runs as an explicit step the runtime
// calls on its own cadence instead of a background goroutine ticker,
// since the runtime never starts goroutines of its own (spec.md §5).
type peerLimiter struct {
	peers map[string]*peerEntry
	rate  rate.Limit
	burst int
}

type peerEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newPeerLimiter(rps float64, burst int) *peerLimiter {
	return &peerLimiter{
		peers: make(map[string]*peerEntry),
		rate:  rate.Limit(rps),
		burst: burst,
	}
}

// Allow reports whether a reply to ip is currently permitted, consuming
// one token if so (spec.md §4.3 M-SEARCH throttling is an addition beyond
// the distilled spec, grounded on the teacher's IPRateLimiter).
func (pl *peerLimiter) Allow(ip string, now time.Time) bool {
	e, ok := pl.peers[ip]
	if !ok {
		e = &peerEntry{limiter: rate.NewLimiter(pl.rate, pl.burst)}
		pl.peers[ip] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Cleanup drops peers not seen within inactiveLimit.
func (pl *peerLimiter) Cleanup(now time.Time, inactiveLimit time.Duration) {
	for ip, e := range pl.peers {
		if now.Sub(e.lastSeen) > inactiveLimit {
			delete(pl.peers, ip)
		}
	}
}
