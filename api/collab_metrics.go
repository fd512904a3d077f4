package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the collaboration core. Registered once on the
// default registry and exposed via the /metrics endpoint.
var (
	sessionsActiveGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collab_sessions_active",
		Help: "Number of live file editing sessions",
	})

	connectionsActiveGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collab_connections_active",
		Help: "Number of open collaboration websocket connections",
	})

	broadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collab_broadcasts_total",
		Help: "Events fanned out to room members, by event type",
	}, []string{"event"})

	rateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collab_rate_limited_total",
		Help: "Events refused by the sliding window rate limiter, by event type",
	}, []string{"event"})

	joinDeniedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collab_join_denied_total",
		Help: "Join attempts refused by the access gate",
	})

	sessionEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collab_session_evictions_total",
		Help: "Non-empty sessions evicted by LRU capacity pressure",
	})

	reapedMembersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collab_reaped_members_total",
		Help: "Idle members removed by the reap sweeper",
	})

	slowClientDisconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collab_slow_client_disconnects_total",
		Help: "Connections dropped because their outbound queue overflowed",
	})
)
