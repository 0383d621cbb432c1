package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WaveDispatches tracks escalation waves dispatched, by wave number.
	WaveDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nexshift_wave_dispatches_total",
		Help: "Total number of escalation waves dispatched",
	}, []string{"wave"})

	// WaveSkips tracks escalation steps that produced no notification.
	WaveSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nexshift_wave_skips_total",
		Help: "Escalation steps skipped without dispatching",
	}, []string{"reason"}) // empty_wave, night_pause, delay_not_elapsed, version_conflict

	// WaveCandidates tracks the size of notified pools per dispatch.
	WaveCandidates = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nexshift_wave_candidates",
		Help:    "Number of candidates notified per wave dispatch",
		Buckets: prometheus.ExponentialBuckets(1, 2, 8), // 1 to 128
	})

	// RequestsCompleted tracks requests resolved, by outcome.
	RequestsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nexshift_requests_completed_total",
		Help: "Replacement requests resolved, by terminal status",
	}, []string{"status"}) // accepted, expired, cancelled

	// PendingRequests tracks open requests per station.
	PendingRequests = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nexshift_pending_requests",
		Help: "Current number of pending replacement requests",
	}, []string{"station"})

	// SweepDuration tracks how long a full sweep tick takes, by sweep kind.
	SweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nexshift_sweep_duration_seconds",
		Help:    "Duration of a sweep iteration across all stations",
		Buckets: prometheus.DefBuckets,
	}, []string{"sweep"}) // wave, night_resume, expiry, alerts, cleanup

	// NightResumes tracks requests re-armed after a night pause.
	NightResumes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nexshift_night_resumes_total",
		Help: "Requests whose escalation timer was re-armed after a night pause",
	})

	// IntentsEmitted tracks notification intents handed to the dispatcher.
	IntentsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nexshift_intents_emitted_total",
		Help: "Notification intents appended for the external dispatcher",
	}, []string{"type"})

	// IntentsSuppressed tracks intents dropped by the duplicate guard.
	IntentsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nexshift_intents_suppressed_total",
		Help: "Notification intents suppressed as duplicates",
	})

	// VersionConflicts tracks optimistic-lock failures on request writes.
	VersionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nexshift_version_conflicts_total",
		Help: "Request updates rejected because the record version changed",
	})

	// LeaderStatus tracks the sweep leadership of this replica.
	LeaderStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nexshift_leader_status",
		Help: "Sweep leader status of this replica (1 = leader, 0 = follower)",
	})

	// LeadershipTransitions tracks leadership acquisition and loss events.
	LeadershipTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nexshift_leader_transitions_total",
		Help: "Total number of leadership transitions",
	}, []string{"node_id", "event"})

	// RedisLatency tracks Redis operation roundtrip latency.
	RedisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nexshift_redis_roundtrip_latency_seconds",
		Help:    "Redis operation latency (coordination spine health)",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
	})

	// APIRateLimited tracks API requests rejected by rate limiter.
	APIRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nexshift_api_rate_limited_total",
		Help: "API requests rejected by rate limiter (storm protection)",
	}, []string{"endpoint"})

	// ConnectedWatchers tracks live websocket intent subscribers.
	ConnectedWatchers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nexshift_connected_watchers",
		Help: "Current number of connected intent-stream websocket clients",
	})

	// AlertsEmitted tracks reminder alert intents, by type.
	AlertsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nexshift_alerts_emitted_total",
		Help: "Shift-reminder and anomaly alert intents emitted",
	}, []string{"type"}) // personal, chief, anomaly

	// PurgedRecords tracks records removed by the retention sweep.
	PurgedRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nexshift_purged_records_total",
		Help: "Aged records deleted by the retention sweep",
	})
)
