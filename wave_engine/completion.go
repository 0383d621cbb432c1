package main

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"github.com/nexshift/waveengine/wave_engine/observability"
	"github.com/nexshift/waveengine/wave_engine/store"
	"github.com/nexshift/waveengine/wave_engine/timeline"
	"github.com/nexshift/waveengine/wave_engine/wave"
)

// CompletionDetector reacts to newly-recorded sub-assignments: when the union
// of sub-assignments covers a pending request's full time range, the request
// is accepted and the requester (and their team lead) are told who stepped in.
type CompletionDetector struct {
	store    store.Store
	notifier *Notifier
	timeline *timeline.Store
}

func NewCompletionDetector(s store.Store, n *Notifier, tl *timeline.Store) *CompletionDetector {
	return &CompletionDetector{store: s, notifier: n, timeline: tl}
}

// HandleSubAssignment checks every pending request the new sub-assignment
// could complete. Failures on one request never abort the others.
func (d *CompletionDetector) HandleSubAssignment(ctx context.Context, sub *store.SubAssignment) error {
	requests, err := d.store.ListPendingRequestsFor(ctx, sub.ReplacedID, sub.AssignmentID)
	if err != nil {
		return err
	}

	for _, req := range requests {
		if err := d.checkRequest(ctx, req); err != nil {
			log.Printf("CompletionDetector: request %s check failed: %v", req.RequestID, err)
		}
	}
	return nil
}

func (d *CompletionDetector) checkRequest(ctx context.Context, req *store.ReplacementRequest) error {
	subs, err := d.store.ListSubAssignments(ctx, req.RequesterID, req.AssignmentID)
	if err != nil {
		return err
	}

	intervals := make([]wave.Interval, 0, len(subs))
	replacerSet := make(map[string]bool)
	for _, sub := range subs {
		intervals = append(intervals, wave.Interval{Start: sub.StartsAt, End: sub.EndsAt})
		replacerSet[sub.ReplacerID] = true
	}

	target := wave.Interval{Start: req.StartsAt, End: req.EndsAt}
	if !wave.IsFullyCovered(target, intervals) {
		return nil
	}

	now := time.Now()
	accepted := store.StatusAccepted
	patch := store.RequestPatch{Status: &accepted, AcceptedAt: &now}
	if err := d.store.UpdateRequest(ctx, req.RequestID, req.Version, patch); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			observability.VersionConflicts.Inc()
			log.Printf("CompletionDetector: version conflict on request %s, deferring", req.RequestID)
			return nil
		}
		return err
	}

	observability.RequestsCompleted.WithLabelValues(store.StatusAccepted).Inc()
	d.timeline.Record(timeline.RequestEvent{
		RequestID: req.RequestID,
		Stage:     "COMPLETED",
		StationID: req.StationID,
		Wave:      req.CurrentWave,
	})
	log.Printf("CompletionDetector: request %s fully covered by %d sub-assignments, accepted", req.RequestID, len(subs))

	replacers := make([]string, 0, len(replacerSet))
	for id := range replacerSet {
		replacers = append(replacers, id)
	}
	sort.Strings(replacers)

	intent := &store.NotificationIntent{
		Type:         store.IntentReplacementCompleted,
		RequestID:    req.RequestID,
		StationID:    req.StationID,
		Team:         req.Team,
		RecipientIDs: []string{req.RequesterID},
		ReplacerIDs:  replacers,
		StartsAt:     req.StartsAt,
		EndsAt:       req.EndsAt,
	}
	if err := d.notifier.Emit(ctx, store.CompletionIntentKey(store.IntentReplacementCompleted, req.RequestID), intent); err != nil {
		log.Printf("CompletionDetector: requester intent failed for %s: %v", req.RequestID, err)
	}

	// Team lead gets a separate intent, but only when one exists and is not
	// the requester: never emit two intents at the same target. The lead is
	// resolved from the duty assignment's team, which is authoritative over
	// whatever team the request was created with.
	leadTeam := req.Team
	duty, err := d.store.GetDutyAssignment(ctx, req.AssignmentID)
	if err != nil {
		log.Printf("CompletionDetector: assignment lookup failed for %s: %v", req.RequestID, err)
	} else if duty != nil {
		leadTeam = duty.Team
	}
	lead, err := d.store.FindTeamLead(ctx, req.StationID, leadTeam, req.RequesterID)
	if err != nil {
		log.Printf("CompletionDetector: lead lookup failed for %s: %v", req.RequestID, err)
		return nil
	}
	if lead == "" {
		return nil
	}

	chiefIntent := &store.NotificationIntent{
		Type:         store.IntentReplacementCompletedChief,
		RequestID:    req.RequestID,
		StationID:    req.StationID,
		Team:         leadTeam,
		RecipientIDs: []string{lead},
		ReplacerIDs:  replacers,
		StartsAt:     req.StartsAt,
		EndsAt:       req.EndsAt,
		Data: map[string]string{
			"replaced_id": req.RequesterID,
		},
	}
	if err := d.notifier.Emit(ctx, store.CompletionIntentKey(store.IntentReplacementCompletedChief, req.RequestID), chiefIntent); err != nil {
		log.Printf("CompletionDetector: chief intent failed for %s: %v", req.RequestID, err)
	}
	return nil
}
