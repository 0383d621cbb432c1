package main

import (
	"context"
	"errors"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/nexshift/waveengine/wave_engine/observability"
	"github.com/nexshift/waveengine/wave_engine/store"
	"github.com/nexshift/waveengine/wave_engine/timeline"
	"github.com/nexshift/waveengine/wave_engine/wave"
)

// Escalator is the wave escalation state machine. AdvanceWave moves one
// request to its next non-empty wave and hands the recipients to the
// notifier.
type Escalator struct {
	store    store.Store
	notifier *Notifier
	timeline *timeline.Store

	// activeRequests tracks requests currently being advanced.
	// One writer per request id within this process.
	activeRequests map[string]bool
	mu             sync.Mutex
}

func NewEscalator(s store.Store, n *Notifier, tl *timeline.Store) *Escalator {
	return &Escalator{
		store:          s,
		notifier:       n,
		timeline:       tl,
		activeRequests: make(map[string]bool),
	}
}

// IsRequestBusy reports whether a request is currently being advanced.
func (e *Escalator) IsRequestBusy(requestID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeRequests[requestID]
}

// AdvanceWave escalates one request. Empty waves are skipped in the same
// call: the wave counter is persisted past them (without touching the delay
// timer) and the next wave is attempted immediately, so a wave number is
// never current with zero recipients. A version conflict on the write aborts
// the call; the next sweep tick re-evaluates from fresh state.
func (e *Escalator) AdvanceWave(ctx context.Context, requestID string) error {
	if !e.acquireLock(requestID) {
		log.Printf("Escalator: request %s is busy, skipping", requestID)
		return nil
	}
	defer e.releaseLock(requestID)

	for {
		advanced, err := e.advanceOnce(ctx, requestID)
		if err != nil || !advanced {
			return err
		}
	}
}

// advanceOnce performs a single escalation step. It returns true when an
// empty wave was skipped and the caller should attempt the next one.
func (e *Escalator) advanceOnce(ctx context.Context, requestID string) (bool, error) {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return false, err
	}
	if req == nil {
		log.Printf("Escalator: request %s not found, skipping", requestID)
		return false, nil
	}
	if req.Status != store.StatusPending {
		return false, nil
	}
	if req.CurrentWave >= wave.MaxWave {
		return false, nil
	}

	requester, err := e.store.GetAgent(ctx, req.RequesterID)
	if err != nil {
		return false, err
	}
	if requester == nil {
		log.Printf("Escalator: requester %s missing for request %s, skipping", req.RequesterID, requestID)
		return false, nil
	}

	duty, err := e.store.GetDutyAssignment(ctx, req.AssignmentID)
	if err != nil {
		return false, err
	}
	if duty == nil {
		log.Printf("Escalator: assignment %s missing for request %s, skipping", req.AssignmentID, requestID)
		return false, nil
	}

	agents, err := e.store.ListStationAgents(ctx, req.StationID)
	if err != nil {
		return false, err
	}

	// Rarity weights are computed once over the whole station population.
	members := make([]wave.Candidate, 0, len(agents))
	for _, a := range agents {
		members = append(members, wave.Candidate{ID: a.AgentID, Team: a.Team, Skills: a.Skills})
	}
	weights := wave.RarityWeights(members, requester.Skills)

	onDutySameTeam := make(map[string]bool)
	for _, id := range duty.AgentIDs {
		onDutySameTeam[id] = true
	}

	pool := make([]wave.Candidate, 0, len(agents))
	for _, a := range agents {
		if a.AgentID == req.RequesterID || req.WasNotified(a.AgentID) {
			continue
		}
		if onDutySameTeam[a.AgentID] && a.Team == req.Team {
			continue
		}
		pool = append(pool, wave.Candidate{ID: a.AgentID, Team: a.Team, Skills: a.Skills})
	}
	if len(pool) == 0 {
		return false, nil
	}

	nextWave := req.CurrentWave + 1
	if nextWave > wave.MaxWave {
		return false, nil
	}

	requesterCand := wave.Candidate{ID: requester.AgentID, Team: requester.Team, Skills: requester.Skills}
	var recipients []string
	for _, c := range pool {
		if wave.Calculate(requesterCand, c, duty.Team, duty.AgentIDs, weights) == nextWave {
			recipients = append(recipients, c.ID)
		}
	}

	if len(recipients) == 0 {
		// Empty wave: advance the counter without re-arming the delay timer
		// and let the caller try the next wave immediately.
		patch := store.RequestPatch{CurrentWave: &nextWave}
		if err := e.store.UpdateRequest(ctx, requestID, req.Version, patch); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				observability.VersionConflicts.Inc()
				observability.WaveSkips.WithLabelValues("version_conflict").Inc()
				log.Printf("Escalator: version conflict on request %s, deferring to next tick", requestID)
				return false, nil
			}
			return false, err
		}
		observability.WaveSkips.WithLabelValues("empty_wave").Inc()
		e.timeline.Record(timeline.RequestEvent{
			RequestID: requestID,
			Stage:     "WAVE_SKIPPED",
			StationID: req.StationID,
			Wave:      nextWave,
		})
		log.Printf("Escalator: wave %d empty for request %s, advancing", nextWave, requestID)
		return true, nil
	}

	now := time.Now()
	patch := store.RequestPatch{
		CurrentWave:    &nextWave,
		AppendNotified: recipients,
		LastWaveSentAt: &now,
	}
	if err := e.store.UpdateRequest(ctx, requestID, req.Version, patch); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			observability.VersionConflicts.Inc()
			observability.WaveSkips.WithLabelValues("version_conflict").Inc()
			log.Printf("Escalator: version conflict on request %s, deferring to next tick", requestID)
			return false, nil
		}
		return false, err
	}

	observability.WaveDispatches.WithLabelValues(strconv.Itoa(nextWave)).Inc()
	observability.WaveCandidates.Observe(float64(len(recipients)))
	e.timeline.Record(timeline.RequestEvent{
		RequestID: requestID,
		Stage:     "WAVE_SENT",
		StationID: req.StationID,
		Wave:      nextWave,
		Metadata:  map[string]string{"recipients": strconv.Itoa(len(recipients))},
	})
	log.Printf("Escalator: request %s wave %d -> %d recipients", requestID, nextWave, len(recipients))

	intent := &store.NotificationIntent{
		Type:         store.IntentReplacementRequest,
		RequestID:    requestID,
		StationID:    req.StationID,
		Team:         req.Team,
		Wave:         nextWave,
		RecipientIDs: recipients,
		StartsAt:     req.StartsAt,
		EndsAt:       req.EndsAt,
		Data: map[string]string{
			"requester_id": req.RequesterID,
		},
	}
	if err := e.notifier.Emit(ctx, store.WaveIntentKey(requestID, nextWave), intent); err != nil {
		// The wave state is already committed; a lost intent surfaces as a
		// delayed notification, recovered by the dispatcher polling the
		// intent queue.
		log.Printf("Escalator: intent emission failed for request %s wave %d: %v", requestID, nextWave, err)
	}
	return false, nil
}

func (e *Escalator) acquireLock(requestID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activeRequests[requestID] {
		return false
	}
	e.activeRequests[requestID] = true
	return true
}

func (e *Escalator) releaseLock(requestID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.activeRequests, requestID)
}
