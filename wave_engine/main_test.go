package main

import (
	"context"
	"testing"
	"time"

	"github.com/nexshift/waveengine/wave_engine/store"
	"github.com/nexshift/waveengine/wave_engine/timeline"
)

// testEngine bundles the wired engine components over a memory store.
type testEngine struct {
	store     *store.MemoryStore
	notifier  *Notifier
	escalator *Escalator
	detector  *CompletionDetector
	alerts    *AlertEngine
	sweeper   *Sweeper
	timeline  *timeline.Store
}

func newTestEngine() *testEngine {
	s := store.NewMemoryStore()
	tl := timeline.NewStore()
	notifier := NewNotifier(s, s, nil, nil)
	escalator := NewEscalator(s, notifier, tl)
	detector := NewCompletionDetector(s, notifier, tl)
	alerts := NewAlertEngine(s, notifier)
	sweeper := NewSweeper(s, escalator, detector, alerts, tl, notifier)
	return &testEngine{
		store:     s,
		notifier:  notifier,
		escalator: escalator,
		detector:  detector,
		alerts:    alerts,
		sweeper:   sweeper,
		timeline:  tl,
	}
}

func (e *testEngine) addAgent(t *testing.T, id, station, team, role string, skills ...string) {
	t.Helper()
	err := e.store.UpsertAgent(context.Background(), &store.Agent{
		AgentID:   id,
		StationID: station,
		Team:      team,
		Role:      role,
		Skills:    skills,
	})
	if err != nil {
		t.Fatalf("upsert agent %s: %v", id, err)
	}
}

func (e *testEngine) addDuty(t *testing.T, id, station, team string, start, end time.Time, agentIDs ...string) {
	t.Helper()
	err := e.store.UpsertDutyAssignment(context.Background(), &store.DutyAssignment{
		AssignmentID: id,
		StationID:    station,
		Team:         team,
		StartsAt:     start,
		EndsAt:       end,
		AgentIDs:     agentIDs,
	})
	if err != nil {
		t.Fatalf("upsert duty %s: %v", id, err)
	}
}

func (e *testEngine) addRequest(t *testing.T, req *store.ReplacementRequest) {
	t.Helper()
	if req.Status == "" {
		req.Status = store.StatusPending
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	if err := e.store.CreateRequest(context.Background(), req); err != nil {
		t.Fatalf("create request %s: %v", req.RequestID, err)
	}
}

func (e *testEngine) listIntents(t *testing.T) []*store.NotificationIntent {
	t.Helper()
	intents, err := e.store.ListIntentsSince(context.Background(), "", time.Now().Add(-time.Hour), 100)
	if err != nil {
		t.Fatalf("list intents: %v", err)
	}
	return intents
}

func (e *testEngine) getRequest(t *testing.T, id string) *store.ReplacementRequest {
	t.Helper()
	req, err := e.store.GetRequest(context.Background(), id)
	if err != nil {
		t.Fatalf("get request %s: %v", id, err)
	}
	if req == nil {
		t.Fatalf("request %s not found", id)
	}
	return req
}
