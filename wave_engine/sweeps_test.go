package main

import (
	"context"
	"testing"
	"time"

	"github.com/nexshift/waveengine/wave_engine/store"
)

func sweepEngine(t *testing.T, cfg *store.StationConfig) *testEngine {
	e := newTestEngine()
	if err := e.store.UpsertStationConfig(context.Background(), cfg); err != nil {
		t.Fatalf("upsert station: %v", err)
	}
	e.addAgent(t, "A", cfg.StationID, "Red", "agent", "X")
	e.addAgent(t, "C", cfg.StationID, "Red", "agent", "Z")

	start, end := shift(12)
	e.addDuty(t, "duty-1", cfg.StationID, "Red", start, end)
	return e
}

func pendingRequest(sentAt *time.Time, currentWave int) *store.ReplacementRequest {
	start, end := shift(12)
	return &store.ReplacementRequest{
		RequestID:      "req-1",
		RequesterID:    "A",
		StationID:      "st",
		Team:           "Red",
		AssignmentID:   "duty-1",
		StartsAt:       start,
		EndsAt:         end,
		CurrentWave:    currentWave,
		LastWaveSentAt: sentAt,
	}
}

func TestWaveSweepAdvancesAfterDelay(t *testing.T) {
	e := sweepEngine(t, &store.StationConfig{StationID: "st", Timezone: "UTC"})

	sent := time.Now().Add(-31 * time.Minute)
	req := pendingRequest(&sent, 0)
	e.addRequest(t, req)

	e.sweeper.WaveSweep(context.Background(), time.Now())

	got := e.getRequest(t, "req-1")
	if got.CurrentWave != 1 {
		t.Errorf("current wave = %d, want 1", got.CurrentWave)
	}
	if len(e.listIntents(t)) != 1 {
		t.Error("expected one wave intent")
	}
}

func TestWaveSweepAdvancesUnconfiguredStation(t *testing.T) {
	e := newTestEngine()
	// No UpsertStationConfig call: the station only exists through its
	// agents, duty and request.
	e.addAgent(t, "A", "st", "Red", "agent", "X")
	e.addAgent(t, "C", "st", "Red", "agent", "Z")
	start, end := shift(12)
	e.addDuty(t, "duty-1", "st", "Red", start, end)

	sent := time.Now().Add(-2 * time.Hour)
	e.addRequest(t, pendingRequest(&sent, 0))

	e.sweeper.WaveSweep(context.Background(), time.Now())

	got := e.getRequest(t, "req-1")
	if got.CurrentWave != 1 {
		t.Errorf("current wave = %d, want 1 (missing config row must fall back to defaults, not strand the request)", got.CurrentWave)
	}
	if len(e.listIntents(t)) != 1 {
		t.Error("expected one wave intent for the unconfigured station")
	}
}

func TestWaveSweepRespectsDelay(t *testing.T) {
	e := sweepEngine(t, &store.StationConfig{StationID: "st", Timezone: "UTC"})

	sent := time.Now().Add(-10 * time.Minute)
	e.addRequest(t, pendingRequest(&sent, 0))

	e.sweeper.WaveSweep(context.Background(), time.Now())

	got := e.getRequest(t, "req-1")
	if got.CurrentWave != 0 {
		t.Errorf("request advanced before the 30m delay elapsed (wave %d)", got.CurrentWave)
	}
}

func TestWaveSweepSkipsUninitializedRequests(t *testing.T) {
	e := sweepEngine(t, &store.StationConfig{StationID: "st", Timezone: "UTC"})

	// No lastWaveSentAt: belongs to the initial-dispatch path.
	e.addRequest(t, pendingRequest(nil, 0))

	e.sweeper.WaveSweep(context.Background(), time.Now())

	got := e.getRequest(t, "req-1")
	if got.CurrentWave != 0 || len(e.listIntents(t)) != 0 {
		t.Error("sweep must not touch requests without a lastWaveSentAt")
	}
}

func TestWaveSweepSkipsQuietStations(t *testing.T) {
	e := sweepEngine(t, &store.StationConfig{
		StationID:         "st",
		Timezone:          "UTC",
		NightPauseEnabled: true,
		NightPauseStart:   "23:00",
		NightPauseEnd:     "06:00",
	})

	sent := time.Now().Add(-2 * time.Hour)
	e.addRequest(t, pendingRequest(&sent, 1))

	night := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	e.sweeper.WaveSweep(context.Background(), night)

	got := e.getRequest(t, "req-1")
	if got.CurrentWave != 1 {
		t.Errorf("wave advanced during quiet hours (wave %d)", got.CurrentWave)
	}
	if len(e.listIntents(t)) != 0 {
		t.Error("no intent may be emitted during quiet hours")
	}
}

func TestNightResumeRearmsTimer(t *testing.T) {
	e := sweepEngine(t, &store.StationConfig{
		StationID:         "st",
		Timezone:          "UTC",
		NightPauseEnabled: true,
		NightPauseStart:   "23:00",
		NightPauseEnd:     "06:00",
	})

	// Last wave went out at 02:00, inside the pause.
	sentDuringNight := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	e.addRequest(t, pendingRequest(&sentDuringNight, 2))

	morning := time.Date(2026, 3, 10, 6, 5, 0, 0, time.UTC)
	e.sweeper.NightResumeSweep(context.Background(), morning)

	got := e.getRequest(t, "req-1")
	if got.LastWaveSentAt == nil || !got.LastWaveSentAt.Equal(morning) {
		t.Errorf("lastWaveSentAt = %v, want re-armed to %v", got.LastWaveSentAt, morning)
	}
	if got.CurrentWave != 2 {
		t.Errorf("resume must not advance the wave, got %d", got.CurrentWave)
	}
	if got.NightResumedAt == nil {
		t.Error("nightResumedAt should record the resume")
	}
	if len(e.listIntents(t)) != 0 {
		t.Error("resume must not dispatch a wave itself")
	}
}

func TestNightResumeIsIdempotent(t *testing.T) {
	e := sweepEngine(t, &store.StationConfig{
		StationID:         "st",
		Timezone:          "UTC",
		NightPauseEnabled: true,
		NightPauseStart:   "23:00",
		NightPauseEnd:     "06:00",
	})

	sentDuringNight := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	e.addRequest(t, pendingRequest(&sentDuringNight, 2))

	morning := time.Date(2026, 3, 10, 6, 5, 0, 0, time.UTC)
	e.sweeper.NightResumeSweep(context.Background(), morning)
	first := e.getRequest(t, "req-1")

	// Second pass: the timestamp is now outside the window.
	e.sweeper.NightResumeSweep(context.Background(), morning.Add(time.Minute))
	second := e.getRequest(t, "req-1")

	if second.Version != first.Version {
		t.Error("re-running the resume sweep mutated an already-resumed request")
	}
}

func TestNightResumeIgnoresDaytimeWaves(t *testing.T) {
	e := sweepEngine(t, &store.StationConfig{
		StationID:         "st",
		Timezone:          "UTC",
		NightPauseEnabled: true,
		NightPauseStart:   "23:00",
		NightPauseEnd:     "06:00",
	})

	// Last wave went out well before the pause started.
	sentDaytime := time.Date(2026, 3, 9, 15, 0, 0, 0, time.UTC)
	e.addRequest(t, pendingRequest(&sentDaytime, 2))

	morning := time.Date(2026, 3, 10, 6, 5, 0, 0, time.UTC)
	e.sweeper.NightResumeSweep(context.Background(), morning)

	got := e.getRequest(t, "req-1")
	if !got.LastWaveSentAt.Equal(sentDaytime) {
		t.Error("daytime wave timestamp must not be re-armed")
	}
}

func TestNightResumeSkipsFinalWave(t *testing.T) {
	e := sweepEngine(t, &store.StationConfig{
		StationID:         "st",
		Timezone:          "UTC",
		NightPauseEnabled: true,
		NightPauseStart:   "23:00",
		NightPauseEnd:     "06:00",
	})

	sentDuringNight := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	e.addRequest(t, pendingRequest(&sentDuringNight, 5))

	morning := time.Date(2026, 3, 10, 6, 5, 0, 0, time.UTC)
	e.sweeper.NightResumeSweep(context.Background(), morning)

	got := e.getRequest(t, "req-1")
	if !got.LastWaveSentAt.Equal(sentDuringNight) {
		t.Error("a request already at the final wave must not be re-armed")
	}
}

func TestExpirySweep(t *testing.T) {
	e := sweepEngine(t, &store.StationConfig{StationID: "st", Timezone: "UTC"})

	req := pendingRequest(nil, 0)
	req.CreatedAt = time.Now().Add(-25 * time.Hour)
	e.addRequest(t, req)

	e.sweeper.ExpirySweep(context.Background(), time.Now())

	got := e.getRequest(t, "req-1")
	if got.Status != store.StatusExpired {
		t.Errorf("status = %s, want expired after 24h", got.Status)
	}
}

func TestCleanupSweepPurgesAgedRecords(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	now := time.Now()
	aged := now.Add(-200 * 24 * time.Hour)

	e.addDuty(t, "duty-old", "st", "Red", aged, aged.Add(12*time.Hour))
	e.addDuty(t, "duty-new", "st", "Red", now, now.Add(12*time.Hour))

	e.addRequest(t, &store.ReplacementRequest{
		RequestID: "req-old-done", RequesterID: "A", StationID: "st",
		AssignmentID: "duty-old", Status: store.StatusAccepted, CreatedAt: aged,
	})
	e.addRequest(t, &store.ReplacementRequest{
		RequestID: "req-old-pending", RequesterID: "A", StationID: "st",
		AssignmentID: "duty-old", Status: store.StatusPending, CreatedAt: aged,
	})

	oldProcessed := now.Add(-8 * 24 * time.Hour)
	e.store.AppendIntent(ctx, &store.NotificationIntent{
		IntentID: "i-old", StationID: "st", CreatedAt: oldProcessed,
		Processed: true, ProcessedAt: &oldProcessed,
	})
	e.store.AppendIntent(ctx, &store.NotificationIntent{
		IntentID: "i-new", StationID: "st", CreatedAt: now,
	})

	e.sweeper.CleanupSweep(ctx, now)

	if d, _ := e.store.GetDutyAssignment(ctx, "duty-old"); d != nil {
		t.Error("aged duty assignment survived cleanup")
	}
	if d, _ := e.store.GetDutyAssignment(ctx, "duty-new"); d == nil {
		t.Error("current duty assignment was purged")
	}
	if r, _ := e.store.GetRequest(ctx, "req-old-done"); r != nil {
		t.Error("aged terminal request survived cleanup")
	}
	if r, _ := e.store.GetRequest(ctx, "req-old-pending"); r == nil {
		t.Error("pending request was purged regardless of age")
	}

	intents, _ := e.store.ListIntentsSince(ctx, "st", aged, 10)
	if len(intents) != 1 || intents[0].IntentID != "i-new" {
		t.Errorf("intents after cleanup = %v, want only the unprocessed one", intents)
	}
}
