package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreRequestLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	req := &ReplacementRequest{
		RequestID:    "req-1",
		RequesterID:  "agent-1",
		StationID:    "station-1",
		Team:         "Red",
		AssignmentID: "duty-1",
		Status:       StatusPending,
		CreatedAt:    time.Now(),
	}
	if err := s.CreateRequest(ctx, req); err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}

	got, err := s.GetRequest(ctx, "req-1")
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if got.Version != 1 {
		t.Errorf("fresh request version = %d, want 1", got.Version)
	}

	wave := 1
	now := time.Now()
	patch := RequestPatch{CurrentWave: &wave, AppendNotified: []string{"a", "b"}, LastWaveSentAt: &now}
	if err := s.UpdateRequest(ctx, "req-1", 1, patch); err != nil {
		t.Fatalf("UpdateRequest: %v", err)
	}

	got, _ = s.GetRequest(ctx, "req-1")
	if got.Version != 2 || got.CurrentWave != 1 || len(got.NotifiedAgentIDs) != 2 {
		t.Errorf("unexpected state after patch: version=%d wave=%d notified=%v",
			got.Version, got.CurrentWave, got.NotifiedAgentIDs)
	}
}

func TestMemoryStoreVersionConflict(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	req := &ReplacementRequest{RequestID: "req-1", Status: StatusPending, CreatedAt: time.Now()}
	if err := s.CreateRequest(ctx, req); err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}

	wave := 1
	if err := s.UpdateRequest(ctx, "req-1", 1, RequestPatch{CurrentWave: &wave}); err != nil {
		t.Fatalf("first update: %v", err)
	}

	// Stale version must be rejected.
	wave = 2
	err := s.UpdateRequest(ctx, "req-1", 1, RequestPatch{CurrentWave: &wave})
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	got, _ := s.GetRequest(ctx, "req-1")
	if got.CurrentWave != 1 {
		t.Errorf("conflicting write applied: wave = %d", got.CurrentWave)
	}
}

func TestMemoryStoreNotifiedSetUnion(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	req := &ReplacementRequest{RequestID: "req-1", Status: StatusPending, CreatedAt: time.Now()}
	s.CreateRequest(ctx, req)

	if err := s.UpdateRequest(ctx, "req-1", 1, RequestPatch{AppendNotified: []string{"a", "b"}}); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := s.UpdateRequest(ctx, "req-1", 2, RequestPatch{AppendNotified: []string{"b", "c"}}); err != nil {
		t.Fatalf("second append: %v", err)
	}

	got, _ := s.GetRequest(ctx, "req-1")
	if len(got.NotifiedAgentIDs) != 3 {
		t.Errorf("notified set = %v, want union of size 3", got.NotifiedAgentIDs)
	}
	for _, id := range []string{"a", "b", "c"} {
		if !got.WasNotified(id) {
			t.Errorf("id %s missing from notified set", id)
		}
	}
}

func TestMemoryStoreListPendingStationIDs(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.CreateRequest(ctx, &ReplacementRequest{RequestID: "r1", StationID: "st2", Status: StatusPending, CreatedAt: time.Now()})
	s.CreateRequest(ctx, &ReplacementRequest{RequestID: "r2", StationID: "st1", Status: StatusPending, CreatedAt: time.Now()})
	s.CreateRequest(ctx, &ReplacementRequest{RequestID: "r3", StationID: "st1", Status: StatusPending, CreatedAt: time.Now()})
	s.CreateRequest(ctx, &ReplacementRequest{RequestID: "r4", StationID: "st3", Status: StatusAccepted, CreatedAt: time.Now()})

	ids, err := s.ListPendingStationIDs(ctx)
	if err != nil {
		t.Fatalf("ListPendingStationIDs: %v", err)
	}
	if len(ids) != 2 || ids[0] != "st1" || ids[1] != "st2" {
		t.Errorf("ids = %v, want [st1 st2]", ids)
	}
}

func TestMemoryStoreCopyOnRead(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.CreateRequest(ctx, &ReplacementRequest{
		RequestID:        "req-1",
		Status:           StatusPending,
		NotifiedAgentIDs: []string{"a"},
		CreatedAt:        time.Now(),
	})

	got, _ := s.GetRequest(ctx, "req-1")
	got.NotifiedAgentIDs[0] = "mutated"
	got.Status = StatusCancelled

	fresh, _ := s.GetRequest(ctx, "req-1")
	if fresh.NotifiedAgentIDs[0] != "a" || fresh.Status != StatusPending {
		t.Error("mutating a read result leaked into the store")
	}
}

func TestMemoryStoreExpirePendingBefore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	old := time.Now().Add(-25 * time.Hour)
	s.CreateRequest(ctx, &ReplacementRequest{RequestID: "old", Status: StatusPending, CreatedAt: old})
	s.CreateRequest(ctx, &ReplacementRequest{RequestID: "new", Status: StatusPending, CreatedAt: time.Now()})
	s.CreateRequest(ctx, &ReplacementRequest{RequestID: "done", Status: StatusAccepted, CreatedAt: old})

	count, err := s.ExpirePendingBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("ExpirePendingBefore: %v", err)
	}
	if count != 1 {
		t.Fatalf("expired %d requests, want 1", count)
	}

	got, _ := s.GetRequest(ctx, "old")
	if got.Status != StatusExpired {
		t.Errorf("old request status = %s, want expired", got.Status)
	}
	got, _ = s.GetRequest(ctx, "done")
	if got.Status != StatusAccepted {
		t.Errorf("accepted request flipped to %s", got.Status)
	}
}

func TestMemoryStoreFindTeamLead(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.UpsertAgent(ctx, &Agent{AgentID: "a1", StationID: "st", Team: "Red", Role: "agent"})
	s.UpsertAgent(ctx, &Agent{AgentID: "a2", StationID: "st", Team: "Red", Role: "leader"})
	s.UpsertAgent(ctx, &Agent{AgentID: "a3", StationID: "st", Team: "Red", Role: "chief"})
	s.UpsertAgent(ctx, &Agent{AgentID: "a4", StationID: "st", Team: "Blue", Role: "chief"})

	lead, err := s.FindTeamLead(ctx, "st", "Red", "")
	if err != nil {
		t.Fatalf("FindTeamLead: %v", err)
	}
	if lead != "a3" {
		t.Errorf("lead = %s, want chief a3", lead)
	}

	// Excluding the chief falls back to the leader.
	lead, _ = s.FindTeamLead(ctx, "st", "Red", "a3")
	if lead != "a2" {
		t.Errorf("lead = %s, want leader a2", lead)
	}

	// No lead in team.
	s.UpsertAgent(ctx, &Agent{AgentID: "b1", StationID: "st", Team: "Green", Role: "agent"})
	lead, _ = s.FindTeamLead(ctx, "st", "Green", "")
	if lead != "" {
		t.Errorf("lead = %q, want empty", lead)
	}
}

func TestMemoryStoreLeases(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	ok, err := s.AcquireLease(ctx, "lock", "n1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}

	ok, _ = s.AcquireLease(ctx, "lock", "n2", time.Minute)
	if ok {
		t.Error("second acquire should fail while lease held")
	}

	ok, _ = s.RenewLease(ctx, "lock", "n1", time.Minute)
	if !ok {
		t.Error("holder renew should succeed")
	}
	ok, _ = s.RenewLease(ctx, "lock", "n2", time.Minute)
	if ok {
		t.Error("non-holder renew should fail")
	}

	if err := s.ReleaseLease(ctx, "lock", "n1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, _ = s.AcquireLease(ctx, "lock", "n2", time.Minute)
	if !ok {
		t.Error("acquire after release should succeed")
	}
}

func TestMemoryStoreIntents(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Now()
	s.AppendIntent(ctx, &NotificationIntent{IntentID: "i1", StationID: "st1", CreatedAt: base})
	s.AppendIntent(ctx, &NotificationIntent{IntentID: "i2", StationID: "st2", CreatedAt: base.Add(time.Second)})

	all, err := s.ListIntentsSince(ctx, "", base.Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("ListIntentsSince: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d intents, want 2", len(all))
	}

	st1, _ := s.ListIntentsSince(ctx, "st1", base.Add(-time.Minute), 10)
	if len(st1) != 1 || st1[0].IntentID != "i1" {
		t.Errorf("station filter returned %v", st1)
	}

	if err := s.MarkIntentProcessed(ctx, "i1"); err != nil {
		t.Fatalf("MarkIntentProcessed: %v", err)
	}
	got, _ := s.ListIntentsSince(ctx, "st1", base.Add(-time.Minute), 10)
	if !got[0].Processed || got[0].ProcessedAt == nil {
		t.Error("intent not marked processed")
	}
}
