package main

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/nexshift/waveengine/wave_engine/observability"
	"github.com/nexshift/waveengine/wave_engine/quiet"
	"github.com/nexshift/waveengine/wave_engine/store"
	"github.com/nexshift/waveengine/wave_engine/timeline"
	"github.com/nexshift/waveengine/wave_engine/wave"
)

// nightResumeWindow is how long after a station's pause end the resume sweep
// still considers the pause "just ended". Matches the sweep cadence so no
// station is missed between ticks.
const nightResumeWindow = 15 * time.Minute

// requestExpiry is how long a request may stay pending before the expiry
// sweep gives up on it.
const requestExpiry = 24 * time.Hour

// Retention windows for the cleanup sweep.
const (
	recordRetention          = 180 * 24 * time.Hour
	processedIntentRetention = 7 * 24 * time.Hour
)

// Sweeper owns the periodic background loops. Only the elected leader runs
// them; Run is started from the election callback and stops when the leader
// context is cancelled.
type Sweeper struct {
	store      store.Store
	escalator  *Escalator
	detector   *CompletionDetector
	alerts     *AlertEngine
	timeline   *timeline.Store
	notifier   *Notifier

	waveInterval   time.Duration
	resumeInterval time.Duration
}

func NewSweeper(s store.Store, e *Escalator, d *CompletionDetector, a *AlertEngine, tl *timeline.Store, n *Notifier) *Sweeper {
	return &Sweeper{
		store:          s,
		escalator:      e,
		detector:       d,
		alerts:         a,
		timeline:       tl,
		notifier:       n,
		waveInterval:   5 * time.Minute,
		resumeInterval: 15 * time.Minute,
	}
}

// SetWaveInterval overrides the wave sweep cadence (config/testing).
func (s *Sweeper) SetWaveInterval(d time.Duration) {
	if d > 0 {
		s.waveInterval = d
	}
}

// Run starts all sweep tickers and blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	waveTicker := time.NewTicker(s.waveInterval)
	resumeTicker := time.NewTicker(s.resumeInterval)
	hourlyTicker := time.NewTicker(time.Hour)
	dailyTicker := time.NewTicker(24 * time.Hour)
	defer waveTicker.Stop()
	defer resumeTicker.Stop()
	defer hourlyTicker.Stop()
	defer dailyTicker.Stop()

	log.Printf("Sweeper: started (wave=%v, resume=%v)", s.waveInterval, s.resumeInterval)

	for {
		select {
		case <-ctx.Done():
			log.Println("Sweeper: stopped")
			return
		case <-waveTicker.C:
			s.WaveSweep(ctx, time.Now())
		case <-resumeTicker.C:
			s.NightResumeSweep(ctx, time.Now())
		case <-hourlyTicker.C:
			s.ExpirySweep(ctx, time.Now())
			s.alerts.ShiftReminderSweep(ctx, time.Now())
		case <-dailyTicker.C:
			s.alerts.AnomalySweep(ctx, time.Now())
			s.CleanupSweep(ctx, time.Now())
		}
	}
}

// WaveSweep advances every pending request whose inter-wave delay elapsed.
// The worklist is the set of stations with pending requests, not the set of
// configured stations: a missing config row means defaults (30m delay, no
// quiet window), never a stranded request. Stations currently inside their
// quiet window are left alone entirely. Requests with no lastWaveSentAt
// belong to the initial-dispatch path and are skipped. Requests run
// concurrently; the escalator's per-request lock and the versioned store
// writes keep each request single-writer.
func (s *Sweeper) WaveSweep(ctx context.Context, now time.Time) {
	start := time.Now()
	defer func() {
		observability.SweepDuration.WithLabelValues("wave").Observe(time.Since(start).Seconds())
	}()

	stationIDs, err := s.store.ListPendingStationIDs(ctx)
	if err != nil {
		log.Printf("WaveSweep: listing pending stations failed: %v", err)
		return
	}

	var wg sync.WaitGroup
	for _, stationID := range stationIDs {
		cfg, err := s.store.GetStationConfig(ctx, stationID)
		if err != nil {
			log.Printf("WaveSweep: loading config for station %s failed: %v", stationID, err)
			continue
		}
		if cfg != nil && cfg.NightPauseEnabled {
			window, err := quiet.NewWindow(cfg.NightPauseStart, cfg.NightPauseEnd, cfg.Timezone)
			if err != nil {
				log.Printf("WaveSweep: station %s has invalid quiet window: %v", stationID, err)
			} else if window.In(now) {
				observability.WaveSkips.WithLabelValues("night_pause").Inc()
				continue
			}
		}

		requests, err := s.store.ListPendingRequests(ctx, stationID)
		if err != nil {
			log.Printf("WaveSweep: listing requests for station %s failed: %v", stationID, err)
			continue
		}
		observability.PendingRequests.WithLabelValues(stationID).Set(float64(len(requests)))

		delay := cfg.WaveDelay()
		for _, req := range requests {
			if req.LastWaveSentAt == nil {
				continue
			}
			if now.Sub(*req.LastWaveSentAt) < delay {
				observability.WaveSkips.WithLabelValues("delay_not_elapsed").Inc()
				continue
			}
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				if err := s.escalator.AdvanceWave(ctx, id); err != nil {
					log.Printf("WaveSweep: advancing request %s failed: %v", id, err)
				}
			}(req.RequestID)
		}
	}
	wg.Wait()
}

// NightResumeSweep re-arms the delay timer of requests whose last wave went
// out during the night pause. It never dispatches a wave itself; the next
// WaveSweep consumes the fresh timestamp. Idempotent: once re-armed, the
// last-wave timestamp is outside the window and the request no longer
// matches.
func (s *Sweeper) NightResumeSweep(ctx context.Context, now time.Time) {
	start := time.Now()
	defer func() {
		observability.SweepDuration.WithLabelValues("night_resume").Observe(time.Since(start).Seconds())
	}()

	stations, err := s.store.ListStations(ctx)
	if err != nil {
		log.Printf("NightResumeSweep: listing stations failed: %v", err)
		return
	}

	for _, cfg := range stations {
		if !cfg.NightPauseEnabled {
			continue
		}
		window, err := quiet.NewWindow(cfg.NightPauseStart, cfg.NightPauseEnd, cfg.Timezone)
		if err != nil {
			log.Printf("NightResumeSweep: station %s has invalid quiet window: %v", cfg.StationID, err)
			continue
		}
		if !window.JustEnded(now, nightResumeWindow) {
			continue
		}

		requests, err := s.store.ListPendingRequests(ctx, cfg.StationID)
		if err != nil {
			log.Printf("NightResumeSweep: listing requests for station %s failed: %v", cfg.StationID, err)
			continue
		}

		for _, req := range requests {
			if req.LastWaveSentAt == nil || req.CurrentWave >= wave.MaxWave {
				continue
			}
			if !window.In(*req.LastWaveSentAt) {
				continue
			}

			resumed := now
			patch := store.RequestPatch{LastWaveSentAt: &resumed, NightResumedAt: &resumed}
			if err := s.store.UpdateRequest(ctx, req.RequestID, req.Version, patch); err != nil {
				log.Printf("NightResumeSweep: re-arming request %s failed: %v", req.RequestID, err)
				continue
			}
			observability.NightResumes.Inc()
			s.timeline.Record(timeline.RequestEvent{
				RequestID: req.RequestID,
				Stage:     "NIGHT_RESUMED",
				StationID: req.StationID,
				Wave:      req.CurrentWave,
			})
			log.Printf("NightResumeSweep: re-armed request %s after night pause", req.RequestID)
		}
	}
}

// ExpirySweep flips pending requests older than 24h to expired.
func (s *Sweeper) ExpirySweep(ctx context.Context, now time.Time) {
	start := time.Now()
	defer func() {
		observability.SweepDuration.WithLabelValues("expiry").Observe(time.Since(start).Seconds())
	}()

	count, err := s.store.ExpirePendingBefore(ctx, now.Add(-requestExpiry))
	if err != nil {
		log.Printf("ExpirySweep: failed: %v", err)
		return
	}
	if count > 0 {
		observability.RequestsCompleted.WithLabelValues(store.StatusExpired).Add(float64(count))
		log.Printf("ExpirySweep: expired %d stale requests", count)
	}
}

// CleanupSweep purges aged records and processed intents.
func (s *Sweeper) CleanupSweep(ctx context.Context, now time.Time) {
	start := time.Now()
	defer func() {
		observability.SweepDuration.WithLabelValues("cleanup").Observe(time.Since(start).Seconds())
	}()

	deleted, err := s.store.PurgeBefore(ctx, now.Add(-recordRetention), now.Add(-processedIntentRetention))
	if err != nil {
		log.Printf("CleanupSweep: failed: %v", err)
		return
	}
	if deleted > 0 {
		observability.PurgedRecords.Add(float64(deleted))
		log.Printf("CleanupSweep: purged %d aged records", deleted)
	}
}
