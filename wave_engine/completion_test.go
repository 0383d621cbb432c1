package main

import (
	"context"
	"testing"
	"time"

	"github.com/nexshift/waveengine/wave_engine/store"
)

func completionEngine(t *testing.T, withLead bool) *testEngine {
	e := newTestEngine()
	e.addAgent(t, "A", "st", "Red", "agent", "X")
	if withLead {
		e.addAgent(t, "chief", "st", "Red", "chief")
	}

	start, end := shift(12)
	e.addDuty(t, "duty-1", "st", "Red", start, end, "A")
	e.addRequest(t, &store.ReplacementRequest{
		RequestID:    "req-1",
		RequesterID:  "A",
		StationID:    "st",
		Team:         "Red",
		AssignmentID: "duty-1",
		StartsAt:     start,
		EndsAt:       end,
	})
	return e
}

func addSub(t *testing.T, e *testEngine, id, replacer string, start, end time.Time) *store.SubAssignment {
	t.Helper()
	sub := &store.SubAssignment{
		SubAssignmentID: id,
		AssignmentID:    "duty-1",
		StationID:       "st",
		ReplacedID:      "A",
		ReplacerID:      replacer,
		StartsAt:        start,
		EndsAt:          end,
		CreatedAt:       time.Now(),
	}
	if err := e.store.CreateSubAssignment(context.Background(), sub); err != nil {
		t.Fatalf("create sub %s: %v", id, err)
	}
	return sub
}

func TestCompletionPartialCoverageKeepsPending(t *testing.T) {
	e := completionEngine(t, true)
	ctx := context.Background()

	start, _ := shift(12)
	sub := addSub(t, e, "sub-1", "R1", start, start.Add(6*time.Hour))
	if err := e.detector.HandleSubAssignment(ctx, sub); err != nil {
		t.Fatalf("HandleSubAssignment: %v", err)
	}

	req := e.getRequest(t, "req-1")
	if req.Status != store.StatusPending {
		t.Errorf("status = %s, want pending after partial coverage", req.Status)
	}
	if got := len(e.listIntents(t)); got != 0 {
		t.Errorf("partial coverage emitted %d intents", got)
	}
}

func TestCompletionWithOverlapAcceptsAndNotifies(t *testing.T) {
	e := completionEngine(t, true)
	ctx := context.Background()

	start, end := shift(12)
	sub1 := addSub(t, e, "sub-1", "R1", start, start.Add(6*time.Hour))
	e.detector.HandleSubAssignment(ctx, sub1)

	// Second half starts one minute before the first half ends.
	sub2 := addSub(t, e, "sub-2", "R2", start.Add(6*time.Hour-time.Minute), end)
	if err := e.detector.HandleSubAssignment(ctx, sub2); err != nil {
		t.Fatalf("HandleSubAssignment: %v", err)
	}

	req := e.getRequest(t, "req-1")
	if req.Status != store.StatusAccepted {
		t.Fatalf("status = %s, want accepted", req.Status)
	}
	if req.AcceptedAt == nil {
		t.Error("acceptedAt must be set")
	}

	intents := e.listIntents(t)
	if len(intents) != 2 {
		t.Fatalf("got %d intents, want requester + chief", len(intents))
	}

	byType := map[string]*store.NotificationIntent{}
	for _, in := range intents {
		byType[in.Type] = in
	}
	requester := byType[store.IntentReplacementCompleted]
	if requester == nil || len(requester.RecipientIDs) != 1 || requester.RecipientIDs[0] != "A" {
		t.Fatalf("requester intent = %+v", requester)
	}
	if len(requester.ReplacerIDs) != 2 {
		t.Errorf("replacers = %v, want R1 and R2", requester.ReplacerIDs)
	}
	chief := byType[store.IntentReplacementCompletedChief]
	if chief == nil || len(chief.RecipientIDs) != 1 || chief.RecipientIDs[0] != "chief" {
		t.Fatalf("chief intent = %+v", chief)
	}
}

func TestCompletionWithoutLeadEmitsSingleIntent(t *testing.T) {
	e := completionEngine(t, false)
	ctx := context.Background()

	start, end := shift(12)
	sub := addSub(t, e, "sub-1", "R1", start, end)
	if err := e.detector.HandleSubAssignment(ctx, sub); err != nil {
		t.Fatalf("HandleSubAssignment: %v", err)
	}

	req := e.getRequest(t, "req-1")
	if req.Status != store.StatusAccepted {
		t.Fatalf("status = %s, want accepted", req.Status)
	}

	intents := e.listIntents(t)
	if len(intents) != 1 {
		t.Fatalf("got %d intents, want 1 (no duplicate target without a lead)", len(intents))
	}
	if intents[0].Type != store.IntentReplacementCompleted {
		t.Errorf("intent type = %s", intents[0].Type)
	}
}

func TestCompletionRerunDoesNotDoubleNotify(t *testing.T) {
	e := completionEngine(t, true)
	ctx := context.Background()

	start, end := shift(12)
	sub := addSub(t, e, "sub-1", "R1", start, end)
	if err := e.detector.HandleSubAssignment(ctx, sub); err != nil {
		t.Fatalf("first run: %v", err)
	}
	// Re-running against the now-accepted request finds nothing pending.
	if err := e.detector.HandleSubAssignment(ctx, sub); err != nil {
		t.Fatalf("second run: %v", err)
	}

	if got := len(e.listIntents(t)); got != 2 {
		t.Errorf("got %d intents, want 2", got)
	}
}

func TestCompletionChiefFollowsAssignmentTeam(t *testing.T) {
	// The request carries a stale team; the duty assignment's team is
	// authoritative for the lead lookup.
	e := newTestEngine()
	e.addAgent(t, "A", "st", "Red", "agent", "X")
	e.addAgent(t, "blue-chief", "st", "Blue", "chief")
	e.addAgent(t, "red-chief", "st", "Red", "chief")

	start, end := shift(12)
	e.addDuty(t, "duty-1", "st", "Blue", start, end, "A")
	e.addRequest(t, &store.ReplacementRequest{
		RequestID:    "req-1",
		RequesterID:  "A",
		StationID:    "st",
		Team:         "Red",
		AssignmentID: "duty-1",
		StartsAt:     start,
		EndsAt:       end,
	})

	ctx := context.Background()
	sub := addSub(t, e, "sub-1", "R1", start, end)
	if err := e.detector.HandleSubAssignment(ctx, sub); err != nil {
		t.Fatalf("HandleSubAssignment: %v", err)
	}

	var chief *store.NotificationIntent
	for _, in := range e.listIntents(t) {
		if in.Type == store.IntentReplacementCompletedChief {
			chief = in
		}
	}
	if chief == nil {
		t.Fatal("no chief intent emitted")
	}
	if len(chief.RecipientIDs) != 1 || chief.RecipientIDs[0] != "blue-chief" {
		t.Errorf("chief intent went to %v, want the assignment team's lead [blue-chief]", chief.RecipientIDs)
	}
	if chief.Team != "Blue" {
		t.Errorf("chief intent team = %s, want Blue", chief.Team)
	}
}

func TestCompletionGapKeepsPending(t *testing.T) {
	e := completionEngine(t, true)
	ctx := context.Background()

	start, end := shift(12)
	addSub(t, e, "sub-1", "R1", start, start.Add(5*time.Hour))
	sub2 := addSub(t, e, "sub-2", "R2", start.Add(6*time.Hour), end)
	if err := e.detector.HandleSubAssignment(ctx, sub2); err != nil {
		t.Fatalf("HandleSubAssignment: %v", err)
	}

	req := e.getRequest(t, "req-1")
	if req.Status != store.StatusPending {
		t.Errorf("status = %s, hour-long gap must keep the request pending", req.Status)
	}
}
