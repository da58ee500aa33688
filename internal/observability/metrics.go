package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counter: M-SEARCH replies, labeled by outcome (sent/throttled/filtered)
	MSearchRepliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upnp_msearch_replies_total",
			Help: "Total M-SEARCH replies by outcome",
		},
		[]string{"outcome"},
	)

	// Counter: discovery NOTIFY datagrams sent, labeled by kind (alive/byebye)
	NotifySentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upnp_notify_sent_total",
			Help: "Total discovery NOTIFY datagrams sent",
		},
		[]string{"kind"},
	)

	// Counter: SOAP actions dispatched, labeled by service/action/status
	SOAPActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upnp_soap_actions_total",
			Help: "Total SOAP actions dispatched",
		},
		[]string{"service", "action", "status"},
	)

	// Histogram: SOAP action dispatch latency
	SOAPActionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upnp_soap_action_duration_seconds",
			Help:    "SOAP action dispatch latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "action"},
	)

	// Gauge: live device-side subscriptions
	SubscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "upnp_subscriptions_active",
			Help: "Current number of live device-side subscriptions",
		},
	)

	// Gauge: schedules currently tracked by a runtime's scheduler
	ScheduleQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "upnp_schedule_queue_depth",
			Help: "Current number of schedules tracked by the scheduler",
		},
	)

	// Counter: control-point registry additions and removals
	RegistryEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upnp_registry_events_total",
			Help: "Total control-point registry additions and removals",
		},
		[]string{"event"},
	)
)
