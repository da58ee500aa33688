// Package schedule drives all outbound UDP traffic as repeating,
// time-bounded tasks on a single logical timeline (spec.md §4.1). The
// Scheduler owns every Schedule it is given exclusively: callers never hold
// a reference into the queue after Add returns.
package schedule

import (
	"log/slog"

	"github.com/loopcast/updpnp/internal/transport"
)

// Kind tags the behavior a Schedule carries, matching the Schedule
// subclasses the source models as a tagged-variant family (spec.md §9).
type Kind int

const (
	KindMSearch Kind = iota
	KindMSearchReply
	KindMSearchReplyCP
	KindNotifyReplyCP
	KindPostAlive
	KindPostBye
	KindPostSubscribe
	KindCallback
)

func (k Kind) String() string {
	switch k {
	case KindMSearch:
		return "MSearch"
	case KindMSearchReply:
		return "MSearchReply"
	case KindMSearchReplyCP:
		return "MSearchReplyCP"
	case KindNotifyReplyCP:
		return "NotifyReplyCP"
	case KindPostAlive:
		return "PostAlive"
	case KindPostBye:
		return "PostBye"
	case KindPostSubscribe:
		return "PostSubscribe"
	case KindCallback:
		return "Callback"
	default:
		return "Unknown"
	}
}

// ProcessFunc performs one due execution of a Schedule against the UDP
// transport. now is the logical time in milliseconds, matching DueAt/EndAt.
type ProcessFunc func(now int64, udp transport.UDPTransport) error

// Schedule is a unit of deferred/repeated UDP work (spec.md §3).
type Schedule struct {
	Kind          Kind
	DueAt         int64 // absolute ms; 0 means "as soon as possible"
	RepeatEveryMs int64 // 0 = one-shot
	EndAt         int64 // 0 = forever or until explicit deactivation
	Active        bool
	Peer          *transport.Address

	process ProcessFunc
}

// New builds a Schedule. It starts inactive; Add activates it.
func New(kind Kind, dueAt, repeatEveryMs, endAt int64, peer *transport.Address, process ProcessFunc) *Schedule {
	return &Schedule{
		Kind:          kind,
		DueAt:         dueAt,
		RepeatEveryMs: repeatEveryMs,
		EndAt:         endAt,
		Peer:          peer,
		process:       process,
	}
}

// Scheduler holds every active Schedule and advances them on demand.
type Scheduler struct {
	schedules []*Schedule
	logger    *slog.Logger
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{logger: logger}
}

// Add marks the schedule active and enqueues it. The scheduler owns it
// from this point on.
func (s *Scheduler) Add(sch *Schedule) {
	sch.Active = true
	s.schedules = append(s.schedules, sch)
}

// Size returns the number of schedules still tracked, active or not yet
// swept.
func (s *Scheduler) Size() int { return len(s.schedules) }

// Schedules returns the schedules currently tracked, for introspection and
// tests. Callers must not mutate the returned slice's schedules.
func (s *Scheduler) Schedules() []*Schedule { return s.schedules }

// IsSearchActive reports whether any active schedule is of kind MSearch,
// used by the control-point main loop to gate parsing of discovery
// replies (spec.md §4.1).
func (s *Scheduler) IsSearchActive() bool {
	for _, sch := range s.schedules {
		if sch.Active && sch.Kind == KindMSearch {
			return true
		}
	}
	return false
}

// Execute iterates the queue once: due, active schedules are processed;
// schedules whose EndAt has passed are deactivated first; after a
// successful execution, repeating schedules are rescheduled and one-shots
// deactivated. At most one inactive schedule is removed per sweep, bounding
// per-tick work (spec.md §4.1).
func (s *Scheduler) Execute(now int64, udp transport.UDPTransport) {
	for _, sch := range s.schedules {
		if !sch.Active {
			continue
		}

		if sch.EndAt != 0 && now > sch.EndAt {
			sch.Active = false
			continue
		}

		if now < sch.DueAt {
			continue
		}

		if err := sch.process(now, udp); err != nil {
			s.logger.Warn("schedule execution failed, will retry on cadence",
				"kind", sch.Kind, "error", err)
			continue
		}

		if sch.RepeatEveryMs > 0 {
			sch.DueAt = now + sch.RepeatEveryMs
		} else {
			sch.Active = false
		}
	}

	// Bound per-tick work: remove at most one inactive schedule per sweep.
	for i, sch := range s.schedules {
		if !sch.Active {
			s.schedules = append(s.schedules[:i], s.schedules[i+1:]...)
			break
		}
	}
}

// SetActive force-deactivates (or reactivates) every tracked schedule,
// used when draining the scheduler on shutdown.
func (s *Scheduler) SetActive(active bool) {
	for _, sch := range s.schedules {
		sch.Active = active
	}
}

// IsActive reports whether the scheduler currently tracks any active
// schedule.
func (s *Scheduler) IsActive() bool {
	for _, sch := range s.schedules {
		if sch.Active {
			return true
		}
	}
	return false
}

// Drain executes every remaining active schedule once regardless of
// DueAt, then clears the queue. Used by runtime shutdown to flush
// final byebye/unsubscribe traffic (spec.md §5 "end()... drains it").
func (s *Scheduler) Drain(now int64, udp transport.UDPTransport) {
	for _, sch := range s.schedules {
		if sch.Active {
			if err := sch.process(now, udp); err != nil {
				s.logger.Warn("schedule drain execution failed", "kind", sch.Kind, "error", err)
			}
		}
	}
	s.schedules = nil
}
