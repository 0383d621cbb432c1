package main

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nexshift/waveengine/wave_engine/observability"
	"github.com/nexshift/waveengine/wave_engine/store"
	"github.com/nexshift/waveengine/wave_engine/streaming"
)

// dedupeTTL bounds how long a duplicate-suppression record outlives the
// request it guards. Requests expire after 24h, so 48h is comfortably past
// any legitimate re-emission window.
const dedupeTTL = 48 * time.Hour

// Notifier is the single emission point for notification intents. Every
// intent passes the duplicate guard, the per-station rate limiter, the store
// append, the event publisher and the websocket hub, in that order.
type Notifier struct {
	store       store.Store
	coordinator store.Coordinator
	publisher   streaming.Publisher
	hub         *IntentHub

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewNotifier(s store.Store, c store.Coordinator, p streaming.Publisher, hub *IntentHub) *Notifier {
	return &Notifier{
		store:       s,
		coordinator: c,
		publisher:   p,
		hub:         hub,
		limiters:    make(map[string]*rate.Limiter),
	}
}

// stationLimiter returns the token bucket for a station: 1 intent/second
// sustained, bursts of 10. A backstop against flooding a station's agents if
// a sweep misbehaves; the wave algorithm is the primary throttle.
func (n *Notifier) stationLimiter(stationID string) *rate.Limiter {
	n.mu.Lock()
	defer n.mu.Unlock()
	lim, ok := n.limiters[stationID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Second), 10)
		n.limiters[stationID] = lim
	}
	return lim
}

// Emit records and fans out one intent. dedupeKey guards against double
// emission across replicas and retries; an already-set key drops the intent
// silently. Returns nil on suppression.
func (n *Notifier) Emit(ctx context.Context, dedupeKey string, intent *store.NotificationIntent) error {
	if intent.IntentID == "" {
		intent.IntentID = generateID("int")
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = time.Now()
	}

	fresh, err := n.coordinator.SetNX(ctx, dedupeKey, intent.IntentID, dedupeTTL)
	if err != nil {
		// Guard unavailable: emit anyway. A duplicate push beats a missed
		// replacement request.
		log.Printf("Notifier: dedupe check failed for %s: %v", dedupeKey, err)
	} else if !fresh {
		observability.IntentsSuppressed.Inc()
		log.Printf("Notifier: suppressed duplicate intent %s", dedupeKey)
		return nil
	}

	if err := n.stationLimiter(intent.StationID).Wait(ctx); err != nil {
		return err
	}

	if err := n.store.AppendIntent(ctx, intent); err != nil {
		return err
	}

	observability.IntentsEmitted.WithLabelValues(intent.Type).Inc()
	log.Printf("Notifier: intent %s type=%s request=%s wave=%d recipients=%d",
		intent.IntentID, intent.Type, intent.RequestID, intent.Wave, len(intent.RecipientIDs))

	if n.publisher != nil {
		go n.publishAsync(intent)
	}
	if n.hub != nil {
		n.hub.Broadcast(intent)
	}
	return nil
}

// publishAsync pushes the intent to the event bus, best-effort. Bus outages
// must not block or fail escalation.
func (n *Notifier) publishAsync(intent *store.NotificationIntent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := n.publisher.Publish(ctx, "nexshift.events.intent", intent); err != nil {
		log.Printf("Notifier: event publish failed (non-critical): %v", err)
	}
}
