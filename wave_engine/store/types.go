package store

import (
	"time"
)

// Agent represents a firefighter registered at a station. The engine only
// reads agents; identity and PII live in an external system.
type Agent struct {
	AgentID   string    `json:"agent_id" db:"agent_id"`
	StationID string    `json:"station_id" db:"station_id"`
	Team      string    `json:"team" db:"team"`     // may be empty
	Role      string    `json:"role" db:"role"`     // "agent", "chief", "leader"
	Skills    []string  `json:"skills" db:"skills"` // skill-tag strings
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// Alert preferences (hourly reminder sweeps).
	PersonalAlertEnabled          bool `json:"personal_alert_enabled" db:"personal_alert_enabled"`
	PersonalAlertBeforeShiftHours int  `json:"personal_alert_before_shift_hours" db:"personal_alert_before_shift_hours"`
	ChiefAlertEnabled             bool `json:"chief_alert_enabled" db:"chief_alert_enabled"`
	ChiefAlertBeforeShiftHours    int  `json:"chief_alert_before_shift_hours" db:"chief_alert_before_shift_hours"`
	AnomalyAlertEnabled           bool `json:"anomaly_alert_enabled" db:"anomaly_alert_enabled"`
	AnomalyAlertDaysBefore        int  `json:"anomaly_alert_days_before" db:"anomaly_alert_days_before"`
}

// IsLead reports whether the agent holds a team-lead role.
func (a *Agent) IsLead() bool {
	return a.Role == "chief" || a.Role == "leader"
}

// DutyAssignment is a scheduled duty period ("planning") with the agents on
// duty during it.
type DutyAssignment struct {
	AssignmentID string    `json:"assignment_id" db:"assignment_id"`
	StationID    string    `json:"station_id" db:"station_id"`
	Team         string    `json:"team" db:"team"`
	StartsAt     time.Time `json:"starts_at" db:"starts_at"`
	EndsAt       time.Time `json:"ends_at" db:"ends_at"`
	AgentIDs     []string  `json:"agent_ids" db:"agent_ids"`
}

// ReplacementRequest statuses. Accepted, expired and cancelled are terminal.
const (
	StatusPending   = "pending"
	StatusAccepted  = "accepted"
	StatusExpired   = "expired"
	StatusCancelled = "cancelled"
)

// ReplacementRequest is the central mutable record: an on-duty agent asking
// to be replaced over a time range. Version guards every mutation
// (optimistic concurrency, see UpdateRequest).
type ReplacementRequest struct {
	RequestID    string    `json:"request_id" db:"request_id"`
	RequesterID  string    `json:"requester_id" db:"requester_id"`
	StationID    string    `json:"station_id" db:"station_id"`
	Team         string    `json:"team" db:"team"`
	AssignmentID string    `json:"assignment_id" db:"assignment_id"`
	StartsAt     time.Time `json:"starts_at" db:"starts_at"`
	EndsAt       time.Time `json:"ends_at" db:"ends_at"`
	Status       string    `json:"status" db:"status"`

	// Escalation state. CurrentWave is 0 before the first dispatch and
	// monotonically non-decreasing, capped at wave.MaxWave.
	CurrentWave      int        `json:"current_wave" db:"current_wave"`
	NotifiedAgentIDs []string   `json:"notified_agent_ids" db:"notified_agent_ids"`
	LastWaveSentAt   *time.Time `json:"last_wave_sent_at" db:"last_wave_sent_at"`
	NightResumedAt   *time.Time `json:"night_resumed_at" db:"night_resumed_at"`

	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
	AcceptedAt *time.Time `json:"accepted_at" db:"accepted_at"`
	Version    int        `json:"version" db:"version"`
}

// WasNotified reports whether the agent id is already in the notified set.
func (r *ReplacementRequest) WasNotified(agentID string) bool {
	for _, id := range r.NotifiedAgentIDs {
		if id == agentID {
			return true
		}
	}
	return false
}

// RequestPatch is the delta applied by UpdateRequest. Nil fields are left
// untouched; AppendNotified is a set union (ids never leave the set).
type RequestPatch struct {
	CurrentWave    *int
	AppendNotified []string
	LastWaveSentAt *time.Time
	NightResumedAt *time.Time
	Status         *string
	AcceptedAt     *time.Time
}

// SubAssignment records that replacerID covers [StartsAt, EndsAt] of a duty
// assignment in place of replacedID. Immutable once created; unions of
// sub-assignments are evaluated for full coverage of a request.
type SubAssignment struct {
	SubAssignmentID string    `json:"sub_assignment_id" db:"sub_assignment_id"`
	AssignmentID    string    `json:"assignment_id" db:"assignment_id"`
	StationID       string    `json:"station_id" db:"station_id"`
	ReplacedID      string    `json:"replaced_id" db:"replaced_id"`
	ReplacerID      string    `json:"replacer_id" db:"replacer_id"`
	StartsAt        time.Time `json:"starts_at" db:"starts_at"`
	EndsAt          time.Time `json:"ends_at" db:"ends_at"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// StationConfig holds the per-station settings the engine consumes.
type StationConfig struct {
	StationID                    string `json:"station_id" db:"station_id"`
	Name                         string `json:"name" db:"name"`
	Timezone                     string `json:"timezone" db:"timezone"`
	NotificationWaveDelayMinutes int    `json:"notification_wave_delay_minutes" db:"notification_wave_delay_minutes"`
	NightPauseEnabled            bool   `json:"night_pause_enabled" db:"night_pause_enabled"`
	NightPauseStart              string `json:"night_pause_start" db:"night_pause_start"` // "HH:MM"
	NightPauseEnd                string `json:"night_pause_end" db:"night_pause_end"`     // "HH:MM", may wrap past midnight
	MaxAgentsPerShift            int    `json:"max_agents_per_shift" db:"max_agents_per_shift"`
}

// WaveDelay returns the configured inter-wave delay, defaulting to 30m.
func (c *StationConfig) WaveDelay() time.Duration {
	if c == nil || c.NotificationWaveDelayMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.NotificationWaveDelayMinutes) * time.Minute
}

// Notification intent types consumed by the external push dispatcher.
const (
	IntentReplacementRequest        = "replacement_request"
	IntentReplacementCompleted      = "replacement_completed"
	IntentReplacementCompletedChief = "replacement_completed_chief"
	IntentPersonalShiftAlert        = "personal_shift_alert"
	IntentChiefShiftAlert           = "chief_shift_alert"
	IntentAnomalyAlert              = "anomaly_alert"
)

// NotificationIntent is the hand-off record to the external dispatcher: who
// to notify and why. The dispatcher owns tokens, payloads and delivery.
type NotificationIntent struct {
	IntentID     string            `json:"intent_id" db:"intent_id"`
	Type         string            `json:"type" db:"type"`
	RequestID    string            `json:"request_id" db:"request_id"`
	StationID    string            `json:"station_id" db:"station_id"`
	Team         string            `json:"team" db:"team"`
	Wave         int               `json:"wave" db:"wave"`
	RecipientIDs []string          `json:"recipient_ids" db:"recipient_ids"`
	ReplacerIDs  []string          `json:"replacer_ids" db:"replacer_ids"`
	StartsAt     time.Time         `json:"starts_at" db:"starts_at"`
	EndsAt       time.Time         `json:"ends_at" db:"ends_at"`
	Data         map[string]string `json:"data" db:"data"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
	Processed    bool              `json:"processed" db:"processed"`
	ProcessedAt  *time.Time        `json:"processed_at" db:"processed_at"`
}
