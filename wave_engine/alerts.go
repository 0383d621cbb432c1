package main

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/nexshift/waveengine/wave_engine/observability"
	"github.com/nexshift/waveengine/wave_engine/store"
)

// reminderWindow is the half-width of the match window around an agent's
// configured look-ahead. With an hourly sweep a one-hour window would
// double-fire at the edges; the dedupe key catches that, the window keeps it
// rare.
const reminderWindow = 30 * time.Minute

// AlertEngine emits shift-reminder and staffing-anomaly intents according to
// each agent's alert preferences.
type AlertEngine struct {
	store    store.Store
	notifier *Notifier
}

func NewAlertEngine(s store.Store, n *Notifier) *AlertEngine {
	return &AlertEngine{store: s, notifier: n}
}

// ShiftReminderSweep runs hourly: personal reminders for agents about to go
// on duty, and chief reminders for leads whose team goes on duty soon.
func (a *AlertEngine) ShiftReminderSweep(ctx context.Context, now time.Time) {
	start := time.Now()
	defer func() {
		observability.SweepDuration.WithLabelValues("alerts").Observe(time.Since(start).Seconds())
	}()

	stations, err := a.store.ListStations(ctx)
	if err != nil {
		log.Printf("AlertEngine: listing stations failed: %v", err)
		return
	}

	for _, cfg := range stations {
		agents, err := a.store.ListStationAgents(ctx, cfg.StationID)
		if err != nil {
			log.Printf("AlertEngine: listing agents for station %s failed: %v", cfg.StationID, err)
			continue
		}
		for _, agent := range agents {
			if agent.PersonalAlertEnabled {
				a.personalReminder(ctx, cfg.StationID, agent, now)
			}
			if agent.ChiefAlertEnabled && agent.IsLead() {
				a.chiefReminder(ctx, cfg.StationID, agent, now)
			}
		}
	}
}

func (a *AlertEngine) personalReminder(ctx context.Context, stationID string, agent *store.Agent, now time.Time) {
	hours := agent.PersonalAlertBeforeShiftHours
	if hours <= 0 {
		hours = 1
	}
	target := now.Add(time.Duration(hours) * time.Hour)

	duties, err := a.store.ListDutyAssignmentsStarting(ctx, stationID, target.Add(-reminderWindow), target.Add(reminderWindow))
	if err != nil {
		log.Printf("AlertEngine: duty lookup failed for agent %s: %v", agent.AgentID, err)
		return
	}

	for _, duty := range duties {
		if !containsID(duty.AgentIDs, agent.AgentID) {
			continue
		}
		intent := &store.NotificationIntent{
			Type:         store.IntentPersonalShiftAlert,
			StationID:    stationID,
			Team:         duty.Team,
			RecipientIDs: []string{agent.AgentID},
			StartsAt:     duty.StartsAt,
			EndsAt:       duty.EndsAt,
			Data: map[string]string{
				"assignment_id": duty.AssignmentID,
				"hours_before":  strconv.Itoa(hours),
			},
		}
		key := store.AlertIntentKey(store.IntentPersonalShiftAlert, agent.AgentID, duty.AssignmentID)
		if err := a.notifier.Emit(ctx, key, intent); err != nil {
			log.Printf("AlertEngine: personal reminder failed for agent %s: %v", agent.AgentID, err)
			continue
		}
		observability.AlertsEmitted.WithLabelValues("personal").Inc()
	}
}

func (a *AlertEngine) chiefReminder(ctx context.Context, stationID string, lead *store.Agent, now time.Time) {
	hours := lead.ChiefAlertBeforeShiftHours
	if hours <= 0 {
		hours = 24
	}
	target := now.Add(time.Duration(hours) * time.Hour)

	duties, err := a.store.ListDutyAssignmentsStarting(ctx, stationID, target.Add(-reminderWindow), target.Add(reminderWindow))
	if err != nil {
		log.Printf("AlertEngine: duty lookup failed for lead %s: %v", lead.AgentID, err)
		return
	}

	for _, duty := range duties {
		if duty.Team != lead.Team {
			continue
		}
		subCount, err := a.store.CountSubAssignmentsByAssignment(ctx, duty.AssignmentID)
		if err != nil {
			log.Printf("AlertEngine: sub-assignment count failed for %s: %v", duty.AssignmentID, err)
			subCount = 0
		}
		intent := &store.NotificationIntent{
			Type:         store.IntentChiefShiftAlert,
			StationID:    stationID,
			Team:         duty.Team,
			RecipientIDs: []string{lead.AgentID},
			StartsAt:     duty.StartsAt,
			EndsAt:       duty.EndsAt,
			Data: map[string]string{
				"assignment_id":   duty.AssignmentID,
				"on_duty_count":   strconv.Itoa(len(duty.AgentIDs)),
				"sub_assignments": strconv.Itoa(subCount),
			},
		}
		key := store.AlertIntentKey(store.IntentChiefShiftAlert, lead.AgentID, duty.AssignmentID)
		if err := a.notifier.Emit(ctx, key, intent); err != nil {
			log.Printf("AlertEngine: chief reminder failed for lead %s: %v", lead.AgentID, err)
			continue
		}
		observability.AlertsEmitted.WithLabelValues("chief").Inc()
	}
}

// AnomalySweep runs daily: tells leads about team duty periods within their
// look-ahead horizon whose headcount differs from the station's expected
// crew size.
func (a *AlertEngine) AnomalySweep(ctx context.Context, now time.Time) {
	start := time.Now()
	defer func() {
		observability.SweepDuration.WithLabelValues("anomaly").Observe(time.Since(start).Seconds())
	}()

	stations, err := a.store.ListStations(ctx)
	if err != nil {
		log.Printf("AlertEngine: listing stations failed: %v", err)
		return
	}

	for _, cfg := range stations {
		agents, err := a.store.ListStationAgents(ctx, cfg.StationID)
		if err != nil {
			log.Printf("AlertEngine: listing agents for station %s failed: %v", cfg.StationID, err)
			continue
		}
		for _, agent := range agents {
			if !agent.AnomalyAlertEnabled || !agent.IsLead() {
				continue
			}
			a.anomalyCheck(ctx, cfg, agent, now)
		}
	}
}

func (a *AlertEngine) anomalyCheck(ctx context.Context, cfg *store.StationConfig, lead *store.Agent, now time.Time) {
	days := lead.AnomalyAlertDaysBefore
	if days <= 0 {
		days = 14
	}
	horizon := now.Add(time.Duration(days) * 24 * time.Hour)

	expected := cfg.MaxAgentsPerShift
	if expected <= 0 {
		expected = 6
	}

	duties, err := a.store.ListDutyAssignmentsStarting(ctx, cfg.StationID, now, horizon)
	if err != nil {
		log.Printf("AlertEngine: duty lookup failed for lead %s: %v", lead.AgentID, err)
		return
	}

	for _, duty := range duties {
		if duty.Team != lead.Team || len(duty.AgentIDs) == expected {
			continue
		}
		intent := &store.NotificationIntent{
			Type:         store.IntentAnomalyAlert,
			StationID:    cfg.StationID,
			Team:         duty.Team,
			RecipientIDs: []string{lead.AgentID},
			StartsAt:     duty.StartsAt,
			EndsAt:       duty.EndsAt,
			Data: map[string]string{
				"assignment_id": duty.AssignmentID,
				"expected":      strconv.Itoa(expected),
				"actual":        strconv.Itoa(len(duty.AgentIDs)),
			},
		}
		key := store.AlertIntentKey(store.IntentAnomalyAlert, lead.AgentID, duty.AssignmentID)
		if err := a.notifier.Emit(ctx, key, intent); err != nil {
			log.Printf("AlertEngine: anomaly alert failed for lead %s: %v", lead.AgentID, err)
			continue
		}
		observability.AlertsEmitted.WithLabelValues("anomaly").Inc()
	}
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
