package store

import (
	"context"
	"errors"
	"time"
)

// ErrVersionConflict is returned by UpdateRequest when the request record
// changed since the caller read it. Sweeps treat it as transient and leave
// the request for the next tick.
var ErrVersionConflict = errors.New("request version conflict")

// Store defines the persistence backend: the read-only directory (agents,
// duty assignments, station configs), the mutable replacement requests, the
// immutable sub-assignments and the notification-intent queue. Reads return
// (nil, nil) when the record does not exist.
type Store interface {
	// Directory (read side for the engine; upserts feed it).
	UpsertAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, agentID string) (*Agent, error)
	ListStationAgents(ctx context.Context, stationID string) ([]*Agent, error)
	// FindTeamLead returns the id of a chief/leader in the team, excluding
	// excludeID. Empty string when the team has no distinct lead.
	FindTeamLead(ctx context.Context, stationID, team, excludeID string) (string, error)

	UpsertDutyAssignment(ctx context.Context, assignment *DutyAssignment) error
	GetDutyAssignment(ctx context.Context, assignmentID string) (*DutyAssignment, error)
	ListDutyAssignmentsStarting(ctx context.Context, stationID string, from, to time.Time) ([]*DutyAssignment, error)

	UpsertStationConfig(ctx context.Context, cfg *StationConfig) error
	GetStationConfig(ctx context.Context, stationID string) (*StationConfig, error)
	ListStations(ctx context.Context) ([]*StationConfig, error)

	// Replacement requests.
	CreateRequest(ctx context.Context, req *ReplacementRequest) error
	GetRequest(ctx context.Context, requestID string) (*ReplacementRequest, error)
	ListPendingRequests(ctx context.Context, stationID string) ([]*ReplacementRequest, error)
	// ListPendingRequestsFor narrows pending requests to one requester and
	// assignment (the completion detector's lookup).
	ListPendingRequestsFor(ctx context.Context, requesterID, assignmentID string) ([]*ReplacementRequest, error)
	// ListPendingStationIDs returns the distinct station ids that have at
	// least one pending request, whether or not a config row exists for
	// them. This is the wave sweep's worklist.
	ListPendingStationIDs(ctx context.Context) ([]string, error)
	// UpdateRequest applies patch iff the stored version equals
	// expectedVersion, bumping the version on success. This is the single
	// write path for wave state; see ErrVersionConflict.
	UpdateRequest(ctx context.Context, requestID string, expectedVersion int, patch RequestPatch) error
	// ExpirePendingBefore marks pending requests created before the cutoff
	// as expired and returns how many were flipped.
	ExpirePendingBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Sub-assignments.
	CreateSubAssignment(ctx context.Context, sub *SubAssignment) error
	ListSubAssignments(ctx context.Context, replacedID, assignmentID string) ([]*SubAssignment, error)
	CountSubAssignmentsByAssignment(ctx context.Context, assignmentID string) (int, error)

	// Notification intents.
	AppendIntent(ctx context.Context, intent *NotificationIntent) error
	ListIntentsSince(ctx context.Context, stationID string, since time.Time, limit int) ([]*NotificationIntent, error)
	MarkIntentProcessed(ctx context.Context, intentID string) error

	// PurgeBefore deletes aged records: duty assignments, requests and
	// sub-assignments ended/created before cutoff, and processed intents
	// older than processedCutoff. Returns the number of deleted records.
	PurgeBefore(ctx context.Context, cutoff, processedCutoff time.Time) (int, error)
}

// Coordinator provides the shared-lease primitives used for leader election
// and duplicate-suppression records. Redis-backed in production; the memory
// implementation only serves single-node tests.
type Coordinator interface {
	// AcquireLease sets key to value iff the key is free (SET NX PX).
	AcquireLease(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// RenewLease extends the TTL iff the lease still holds value.
	RenewLease(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// ReleaseLease deletes the lease iff it still holds value.
	ReleaseLease(ctx context.Context, key, value string) error
	// SetNX writes a TTL'd record iff absent; reports whether it was set.
	// Used to suppress duplicate notification-intent emission.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}
