package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using a PostgreSQL backend.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore initializes a new PostgresStore with a connection pool.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	config.MaxConns = 50
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// --- Agent Operations ---

func (s *PostgresStore) UpsertAgent(ctx context.Context, a *Agent) error {
	query := `
		INSERT INTO agents (agent_id, station_id, team, role, skills,
			personal_alert_enabled, personal_alert_before_shift_hours,
			chief_alert_enabled, chief_alert_before_shift_hours,
			anomaly_alert_enabled, anomaly_alert_days_before,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		ON CONFLICT (agent_id) DO UPDATE SET
			station_id = EXCLUDED.station_id,
			team = EXCLUDED.team,
			role = EXCLUDED.role,
			skills = EXCLUDED.skills,
			personal_alert_enabled = EXCLUDED.personal_alert_enabled,
			personal_alert_before_shift_hours = EXCLUDED.personal_alert_before_shift_hours,
			chief_alert_enabled = EXCLUDED.chief_alert_enabled,
			chief_alert_before_shift_hours = EXCLUDED.chief_alert_before_shift_hours,
			anomaly_alert_enabled = EXCLUDED.anomaly_alert_enabled,
			anomaly_alert_days_before = EXCLUDED.anomaly_alert_days_before,
			updated_at = NOW()
	`
	_, err := s.pool.Exec(ctx, query,
		a.AgentID, a.StationID, a.Team, a.Role, a.Skills,
		a.PersonalAlertEnabled, a.PersonalAlertBeforeShiftHours,
		a.ChiefAlertEnabled, a.ChiefAlertBeforeShiftHours,
		a.AnomalyAlertEnabled, a.AnomalyAlertDaysBefore,
	)
	return err
}

const agentColumns = `agent_id, station_id, team, role, skills,
	personal_alert_enabled, personal_alert_before_shift_hours,
	chief_alert_enabled, chief_alert_before_shift_hours,
	anomaly_alert_enabled, anomaly_alert_days_before,
	created_at, updated_at`

func scanAgent(row pgx.Row) (*Agent, error) {
	var a Agent
	err := row.Scan(
		&a.AgentID, &a.StationID, &a.Team, &a.Role, &a.Skills,
		&a.PersonalAlertEnabled, &a.PersonalAlertBeforeShiftHours,
		&a.ChiefAlertEnabled, &a.ChiefAlertBeforeShiftHours,
		&a.AnomalyAlertEnabled, &a.AnomalyAlertDaysBefore,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE agent_id = $1`
	a, err := scanAgent(s.pool.QueryRow(ctx, query, agentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (s *PostgresStore) ListStationAgents(ctx context.Context, stationID string) ([]*Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE station_id = $1 ORDER BY agent_id`
	rows, err := s.pool.Query(ctx, query, stationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (s *PostgresStore) FindTeamLead(ctx context.Context, stationID, team, excludeID string) (string, error) {
	// Chiefs rank before leaders; ties break on agent_id for determinism.
	query := `
		SELECT agent_id FROM agents
		WHERE station_id = $1 AND team = $2 AND agent_id <> $3
		  AND role IN ('chief', 'leader')
		ORDER BY CASE role WHEN 'chief' THEN 0 ELSE 1 END, agent_id
		LIMIT 1
	`
	var id string
	err := s.pool.QueryRow(ctx, query, stationID, team, excludeID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// --- Duty Assignment Operations ---

func (s *PostgresStore) UpsertDutyAssignment(ctx context.Context, d *DutyAssignment) error {
	query := `
		INSERT INTO duty_assignments (assignment_id, station_id, team, starts_at, ends_at, agent_ids)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (assignment_id) DO UPDATE SET
			station_id = EXCLUDED.station_id,
			team = EXCLUDED.team,
			starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at,
			agent_ids = EXCLUDED.agent_ids
	`
	_, err := s.pool.Exec(ctx, query, d.AssignmentID, d.StationID, d.Team, d.StartsAt, d.EndsAt, d.AgentIDs)
	return err
}

func (s *PostgresStore) GetDutyAssignment(ctx context.Context, assignmentID string) (*DutyAssignment, error) {
	query := `
		SELECT assignment_id, station_id, team, starts_at, ends_at, agent_ids
		FROM duty_assignments WHERE assignment_id = $1
	`
	var d DutyAssignment
	err := s.pool.QueryRow(ctx, query, assignmentID).Scan(
		&d.AssignmentID, &d.StationID, &d.Team, &d.StartsAt, &d.EndsAt, &d.AgentIDs,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PostgresStore) ListDutyAssignmentsStarting(ctx context.Context, stationID string, from, to time.Time) ([]*DutyAssignment, error) {
	query := `
		SELECT assignment_id, station_id, team, starts_at, ends_at, agent_ids
		FROM duty_assignments
		WHERE station_id = $1 AND starts_at >= $2 AND starts_at <= $3
		ORDER BY starts_at
	`
	rows, err := s.pool.Query(ctx, query, stationID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var duties []*DutyAssignment
	for rows.Next() {
		var d DutyAssignment
		if err := rows.Scan(&d.AssignmentID, &d.StationID, &d.Team, &d.StartsAt, &d.EndsAt, &d.AgentIDs); err != nil {
			return nil, err
		}
		duties = append(duties, &d)
	}
	return duties, rows.Err()
}

// --- Station Config Operations ---

func (s *PostgresStore) UpsertStationConfig(ctx context.Context, cfg *StationConfig) error {
	query := `
		INSERT INTO station_configs (station_id, name, timezone,
			notification_wave_delay_minutes, night_pause_enabled,
			night_pause_start, night_pause_end, max_agents_per_shift)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (station_id) DO UPDATE SET
			name = EXCLUDED.name,
			timezone = EXCLUDED.timezone,
			notification_wave_delay_minutes = EXCLUDED.notification_wave_delay_minutes,
			night_pause_enabled = EXCLUDED.night_pause_enabled,
			night_pause_start = EXCLUDED.night_pause_start,
			night_pause_end = EXCLUDED.night_pause_end,
			max_agents_per_shift = EXCLUDED.max_agents_per_shift
	`
	_, err := s.pool.Exec(ctx, query,
		cfg.StationID, cfg.Name, cfg.Timezone,
		cfg.NotificationWaveDelayMinutes, cfg.NightPauseEnabled,
		cfg.NightPauseStart, cfg.NightPauseEnd, cfg.MaxAgentsPerShift,
	)
	return err
}

const stationColumns = `station_id, name, timezone, notification_wave_delay_minutes,
	night_pause_enabled, night_pause_start, night_pause_end, max_agents_per_shift`

func (s *PostgresStore) GetStationConfig(ctx context.Context, stationID string) (*StationConfig, error) {
	query := `SELECT ` + stationColumns + ` FROM station_configs WHERE station_id = $1`
	var cfg StationConfig
	err := s.pool.QueryRow(ctx, query, stationID).Scan(
		&cfg.StationID, &cfg.Name, &cfg.Timezone, &cfg.NotificationWaveDelayMinutes,
		&cfg.NightPauseEnabled, &cfg.NightPauseStart, &cfg.NightPauseEnd, &cfg.MaxAgentsPerShift,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *PostgresStore) ListStations(ctx context.Context) ([]*StationConfig, error) {
	query := `SELECT ` + stationColumns + ` FROM station_configs ORDER BY station_id`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stations []*StationConfig
	for rows.Next() {
		var cfg StationConfig
		if err := rows.Scan(
			&cfg.StationID, &cfg.Name, &cfg.Timezone, &cfg.NotificationWaveDelayMinutes,
			&cfg.NightPauseEnabled, &cfg.NightPauseStart, &cfg.NightPauseEnd, &cfg.MaxAgentsPerShift,
		); err != nil {
			return nil, err
		}
		stations = append(stations, &cfg)
	}
	return stations, rows.Err()
}

// --- Replacement Request Operations ---

const requestColumns = `request_id, requester_id, station_id, team, assignment_id,
	starts_at, ends_at, status, current_wave, notified_agent_ids,
	last_wave_sent_at, night_resumed_at, created_at, updated_at, accepted_at, version`

func scanRequest(row pgx.Row) (*ReplacementRequest, error) {
	var r ReplacementRequest
	err := row.Scan(
		&r.RequestID, &r.RequesterID, &r.StationID, &r.Team, &r.AssignmentID,
		&r.StartsAt, &r.EndsAt, &r.Status, &r.CurrentWave, &r.NotifiedAgentIDs,
		&r.LastWaveSentAt, &r.NightResumedAt, &r.CreatedAt, &r.UpdatedAt, &r.AcceptedAt, &r.Version,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) CreateRequest(ctx context.Context, req *ReplacementRequest) error {
	if req.Version == 0 {
		req.Version = 1
	}
	query := `
		INSERT INTO replacement_requests (request_id, requester_id, station_id, team,
			assignment_id, starts_at, ends_at, status, current_wave, notified_agent_ids,
			last_wave_sent_at, night_resumed_at, created_at, updated_at, accepted_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW(), $13, $14)
	`
	_, err := s.pool.Exec(ctx, query,
		req.RequestID, req.RequesterID, req.StationID, req.Team,
		req.AssignmentID, req.StartsAt, req.EndsAt, req.Status, req.CurrentWave,
		req.NotifiedAgentIDs, req.LastWaveSentAt, req.NightResumedAt, req.AcceptedAt, req.Version,
	)
	return err
}

func (s *PostgresStore) GetRequest(ctx context.Context, requestID string) (*ReplacementRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM replacement_requests WHERE request_id = $1`
	r, err := scanRequest(s.pool.QueryRow(ctx, query, requestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

func (s *PostgresStore) ListPendingRequests(ctx context.Context, stationID string) ([]*ReplacementRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM replacement_requests
		WHERE station_id = $1 AND status = 'pending' ORDER BY request_id`
	return s.queryRequests(ctx, query, stationID)
}

func (s *PostgresStore) ListPendingRequestsFor(ctx context.Context, requesterID, assignmentID string) ([]*ReplacementRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM replacement_requests
		WHERE requester_id = $1 AND assignment_id = $2 AND status = 'pending' ORDER BY request_id`
	return s.queryRequests(ctx, query, requesterID, assignmentID)
}

func (s *PostgresStore) ListPendingStationIDs(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT station_id FROM replacement_requests WHERE status = 'pending' ORDER BY station_id`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) queryRequests(ctx context.Context, query string, args ...interface{}) ([]*ReplacementRequest, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []*ReplacementRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

func (s *PostgresStore) UpdateRequest(ctx context.Context, requestID string, expectedVersion int, patch RequestPatch) error {
	// Version-guarded update. COALESCE keeps unset patch fields as-is;
	// notified ids grow by array union so no id is ever dropped.
	query := `
		UPDATE replacement_requests SET
			current_wave = COALESCE($3, current_wave),
			notified_agent_ids = (
				SELECT ARRAY(SELECT DISTINCT unnest(notified_agent_ids || COALESCE($4, '{}'::text[])))
			),
			last_wave_sent_at = COALESCE($5, last_wave_sent_at),
			night_resumed_at = COALESCE($6, night_resumed_at),
			status = COALESCE($7, status),
			accepted_at = COALESCE($8, accepted_at),
			version = version + 1,
			updated_at = NOW()
		WHERE request_id = $1 AND version = $2
	`
	tag, err := s.pool.Exec(ctx, query,
		requestID, expectedVersion,
		patch.CurrentWave, patch.AppendNotified,
		patch.LastWaveSentAt, patch.NightResumedAt,
		patch.Status, patch.AcceptedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (s *PostgresStore) ExpirePendingBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		UPDATE replacement_requests
		SET status = 'expired', version = version + 1, updated_at = NOW()
		WHERE status = 'pending' AND created_at < $1
	`
	tag, err := s.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// --- Sub-Assignment Operations ---

func (s *PostgresStore) CreateSubAssignment(ctx context.Context, sub *SubAssignment) error {
	query := `
		INSERT INTO sub_assignments (sub_assignment_id, assignment_id, station_id,
			replaced_id, replacer_id, starts_at, ends_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`
	_, err := s.pool.Exec(ctx, query,
		sub.SubAssignmentID, sub.AssignmentID, sub.StationID,
		sub.ReplacedID, sub.ReplacerID, sub.StartsAt, sub.EndsAt,
	)
	return err
}

func (s *PostgresStore) ListSubAssignments(ctx context.Context, replacedID, assignmentID string) ([]*SubAssignment, error) {
	query := `
		SELECT sub_assignment_id, assignment_id, station_id, replaced_id, replacer_id, starts_at, ends_at, created_at
		FROM sub_assignments
		WHERE replaced_id = $1 AND assignment_id = $2
		ORDER BY starts_at
	`
	rows, err := s.pool.Query(ctx, query, replacedID, assignmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*SubAssignment
	for rows.Next() {
		var sub SubAssignment
		if err := rows.Scan(
			&sub.SubAssignmentID, &sub.AssignmentID, &sub.StationID,
			&sub.ReplacedID, &sub.ReplacerID, &sub.StartsAt, &sub.EndsAt, &sub.CreatedAt,
		); err != nil {
			return nil, err
		}
		subs = append(subs, &sub)
	}
	return subs, rows.Err()
}

func (s *PostgresStore) CountSubAssignmentsByAssignment(ctx context.Context, assignmentID string) (int, error) {
	query := `SELECT COUNT(*) FROM sub_assignments WHERE assignment_id = $1`
	var count int
	if err := s.pool.QueryRow(ctx, query, assignmentID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// --- Notification Intent Operations ---

func (s *PostgresStore) AppendIntent(ctx context.Context, intent *NotificationIntent) error {
	query := `
		INSERT INTO notification_intents (intent_id, type, request_id, station_id, team,
			wave, recipient_ids, replacer_ids, starts_at, ends_at, data, created_at, processed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, false)
		ON CONFLICT (intent_id) DO NOTHING
	`
	_, err := s.pool.Exec(ctx, query,
		intent.IntentID, intent.Type, intent.RequestID, intent.StationID, intent.Team,
		intent.Wave, intent.RecipientIDs, intent.ReplacerIDs, intent.StartsAt, intent.EndsAt,
		intent.Data, intent.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListIntentsSince(ctx context.Context, stationID string, since time.Time, limit int) ([]*NotificationIntent, error) {
	query := `
		SELECT intent_id, type, request_id, station_id, team, wave, recipient_ids,
			replacer_ids, starts_at, ends_at, data, created_at, processed, processed_at
		FROM notification_intents
		WHERE ($1 = '' OR station_id = $1) AND created_at >= $2
		ORDER BY created_at
		LIMIT $3
	`
	rows, err := s.pool.Query(ctx, query, stationID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var intents []*NotificationIntent
	for rows.Next() {
		var in NotificationIntent
		if err := rows.Scan(
			&in.IntentID, &in.Type, &in.RequestID, &in.StationID, &in.Team, &in.Wave,
			&in.RecipientIDs, &in.ReplacerIDs, &in.StartsAt, &in.EndsAt, &in.Data,
			&in.CreatedAt, &in.Processed, &in.ProcessedAt,
		); err != nil {
			return nil, err
		}
		intents = append(intents, &in)
	}
	return intents, rows.Err()
}

func (s *PostgresStore) MarkIntentProcessed(ctx context.Context, intentID string) error {
	query := `UPDATE notification_intents SET processed = true, processed_at = NOW() WHERE intent_id = $1`
	tag, err := s.pool.Exec(ctx, query, intentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("intent not found")
	}
	return nil
}

// --- Retention ---

func (s *PostgresStore) PurgeBefore(ctx context.Context, cutoff, processedCutoff time.Time) (int, error) {
	deleted := 0
	statements := []struct {
		query string
		arg   time.Time
	}{
		{`DELETE FROM duty_assignments WHERE ends_at < $1`, cutoff},
		{`DELETE FROM replacement_requests WHERE status <> 'pending' AND created_at < $1`, cutoff},
		{`DELETE FROM sub_assignments WHERE ends_at < $1`, cutoff},
		{`DELETE FROM notification_intents WHERE processed AND processed_at < $1`, processedCutoff},
	}
	for _, st := range statements {
		tag, err := s.pool.Exec(ctx, st.query, st.arg)
		if err != nil {
			return deleted, err
		}
		deleted += int(tag.RowsAffected())
	}
	return deleted, nil
}
