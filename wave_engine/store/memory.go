package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MemoryStore holds everything in mutex-guarded maps. It implements Store
// and Coordinator; used by tests and single-node dev mode.
type MemoryStore struct {
	mu       sync.RWMutex
	agents   map[string]*Agent
	duties   map[string]*DutyAssignment
	stations map[string]*StationConfig
	requests map[string]*ReplacementRequest
	subs     map[string]*SubAssignment
	intents  map[string]*NotificationIntent

	leaseMu sync.Mutex
	leases  map[string]memoryLease
}

type memoryLease struct {
	value     string
	expiresAt time.Time
}

// NewMemoryStore initializes an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:   make(map[string]*Agent),
		duties:   make(map[string]*DutyAssignment),
		stations: make(map[string]*StationConfig),
		requests: make(map[string]*ReplacementRequest),
		subs:     make(map[string]*SubAssignment),
		intents:  make(map[string]*NotificationIntent),
		leases:   make(map[string]memoryLease),
	}
}

// --- Directory ---

func (s *MemoryStore) UpsertAgent(ctx context.Context, a *Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	cp.Skills = cloneStrings(a.Skills)
	s.agents[a.AgentID] = &cp
	return nil
}

func (s *MemoryStore) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[agentID]
	if !ok {
		return nil, nil
	}
	return copyAgent(a), nil
}

func (s *MemoryStore) ListStationAgents(ctx context.Context, stationID string) ([]*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Agent, 0)
	for _, a := range s.agents {
		if a.StationID == stationID {
			result = append(result, copyAgent(a))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].AgentID < result[j].AgentID })
	return result, nil
}

func (s *MemoryStore) FindTeamLead(ctx context.Context, stationID, team, excludeID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Deterministic order: prefer "chief" over "leader", then by id.
	best := ""
	bestRole := ""
	for _, a := range s.agents {
		if a.StationID != stationID || a.Team != team || a.AgentID == excludeID || !a.IsLead() {
			continue
		}
		if best == "" ||
			(a.Role == "chief" && bestRole != "chief") ||
			(a.Role == bestRole && a.AgentID < best) {
			best = a.AgentID
			bestRole = a.Role
		}
	}
	return best, nil
}

func (s *MemoryStore) UpsertDutyAssignment(ctx context.Context, d *DutyAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	cp.AgentIDs = cloneStrings(d.AgentIDs)
	s.duties[d.AssignmentID] = &cp
	return nil
}

func (s *MemoryStore) GetDutyAssignment(ctx context.Context, assignmentID string) (*DutyAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.duties[assignmentID]
	if !ok {
		return nil, nil
	}
	cp := *d
	cp.AgentIDs = cloneStrings(d.AgentIDs)
	return &cp, nil
}

func (s *MemoryStore) ListDutyAssignmentsStarting(ctx context.Context, stationID string, from, to time.Time) ([]*DutyAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*DutyAssignment, 0)
	for _, d := range s.duties {
		if d.StationID != stationID {
			continue
		}
		if d.StartsAt.Before(from) || d.StartsAt.After(to) {
			continue
		}
		cp := *d
		cp.AgentIDs = cloneStrings(d.AgentIDs)
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartsAt.Before(result[j].StartsAt) })
	return result, nil
}

func (s *MemoryStore) UpsertStationConfig(ctx context.Context, cfg *StationConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cfg
	s.stations[cfg.StationID] = &cp
	return nil
}

func (s *MemoryStore) GetStationConfig(ctx context.Context, stationID string) (*StationConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.stations[stationID]
	if !ok {
		return nil, nil
	}
	cp := *cfg
	return &cp, nil
}

func (s *MemoryStore) ListStations(ctx context.Context) ([]*StationConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*StationConfig, 0, len(s.stations))
	for _, cfg := range s.stations {
		cp := *cfg
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StationID < result[j].StationID })
	return result, nil
}

// --- Replacement requests ---

func (s *MemoryStore) CreateRequest(ctx context.Context, req *ReplacementRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[req.RequestID]; exists {
		return errors.New("request already exists")
	}
	if req.Version == 0 {
		req.Version = 1
	}
	s.requests[req.RequestID] = copyRequest(req)
	return nil
}

func (s *MemoryStore) GetRequest(ctx context.Context, requestID string) (*ReplacementRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[requestID]
	if !ok {
		return nil, nil
	}
	return copyRequest(req), nil
}

func (s *MemoryStore) ListPendingRequests(ctx context.Context, stationID string) ([]*ReplacementRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*ReplacementRequest, 0)
	for _, req := range s.requests {
		if req.StationID == stationID && req.Status == StatusPending {
			result = append(result, copyRequest(req))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RequestID < result[j].RequestID })
	return result, nil
}

func (s *MemoryStore) ListPendingRequestsFor(ctx context.Context, requesterID, assignmentID string) ([]*ReplacementRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*ReplacementRequest, 0)
	for _, req := range s.requests {
		if req.RequesterID == requesterID && req.AssignmentID == assignmentID && req.Status == StatusPending {
			result = append(result, copyRequest(req))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RequestID < result[j].RequestID })
	return result, nil
}

func (s *MemoryStore) ListPendingStationIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	for _, req := range s.requests {
		if req.Status == StatusPending {
			seen[req.StationID] = true
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) UpdateRequest(ctx context.Context, requestID string, expectedVersion int, patch RequestPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[requestID]
	if !ok {
		return errors.New("request not found")
	}
	if req.Version != expectedVersion {
		return ErrVersionConflict
	}

	applyPatch(req, patch)
	req.Version++
	req.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) ExpirePendingBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	now := time.Now()
	for _, req := range s.requests {
		if req.Status == StatusPending && req.CreatedAt.Before(cutoff) {
			req.Status = StatusExpired
			req.UpdatedAt = now
			req.Version++
			expired++
		}
	}
	return expired, nil
}

// --- Sub-assignments ---

func (s *MemoryStore) CreateSubAssignment(ctx context.Context, sub *SubAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subs[sub.SubAssignmentID]; exists {
		return errors.New("sub-assignment already exists")
	}
	cp := *sub
	s.subs[sub.SubAssignmentID] = &cp
	return nil
}

func (s *MemoryStore) ListSubAssignments(ctx context.Context, replacedID, assignmentID string) ([]*SubAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*SubAssignment, 0)
	for _, sub := range s.subs {
		if sub.ReplacedID == replacedID && sub.AssignmentID == assignmentID {
			cp := *sub
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartsAt.Before(result[j].StartsAt) })
	return result, nil
}

func (s *MemoryStore) CountSubAssignmentsByAssignment(ctx context.Context, assignmentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, sub := range s.subs {
		if sub.AssignmentID == assignmentID {
			count++
		}
	}
	return count, nil
}

// --- Notification intents ---

func (s *MemoryStore) AppendIntent(ctx context.Context, intent *NotificationIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents[intent.IntentID] = copyIntent(intent)
	return nil
}

func (s *MemoryStore) ListIntentsSince(ctx context.Context, stationID string, since time.Time, limit int) ([]*NotificationIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*NotificationIntent, 0)
	for _, intent := range s.intents {
		if stationID != "" && intent.StationID != stationID {
			continue
		}
		if intent.CreatedAt.Before(since) {
			continue
		}
		result = append(result, copyIntent(intent))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) MarkIntentProcessed(ctx context.Context, intentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok := s.intents[intentID]
	if !ok {
		return errors.New("intent not found")
	}
	now := time.Now()
	intent.Processed = true
	intent.ProcessedAt = &now
	return nil
}

// --- Retention ---

func (s *MemoryStore) PurgeBefore(ctx context.Context, cutoff, processedCutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, d := range s.duties {
		if d.EndsAt.Before(cutoff) {
			delete(s.duties, id)
			deleted++
		}
	}
	for id, req := range s.requests {
		if req.Status != StatusPending && req.CreatedAt.Before(cutoff) {
			delete(s.requests, id)
			deleted++
		}
	}
	for id, sub := range s.subs {
		if sub.EndsAt.Before(cutoff) {
			delete(s.subs, id)
			deleted++
		}
	}
	for id, intent := range s.intents {
		if intent.Processed && intent.ProcessedAt != nil && intent.ProcessedAt.Before(processedCutoff) {
			delete(s.intents, id)
			deleted++
		}
	}
	return deleted, nil
}

// --- Coordinator (single-node only) ---

func (s *MemoryStore) AcquireLease(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.leaseMu.Lock()
	defer s.leaseMu.Unlock()

	lease, ok := s.leases[key]
	if ok && time.Now().Before(lease.expiresAt) {
		return false, nil
	}
	s.leases[key] = memoryLease{value: value, expiresAt: time.Now().Add(ttl)}
	return true, nil
}

func (s *MemoryStore) RenewLease(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.leaseMu.Lock()
	defer s.leaseMu.Unlock()

	lease, ok := s.leases[key]
	if !ok || lease.value != value || time.Now().After(lease.expiresAt) {
		return false, nil
	}
	lease.expiresAt = time.Now().Add(ttl)
	s.leases[key] = lease
	return true, nil
}

func (s *MemoryStore) ReleaseLease(ctx context.Context, key, value string) error {
	s.leaseMu.Lock()
	defer s.leaseMu.Unlock()

	if lease, ok := s.leases[key]; ok && lease.value == value {
		delete(s.leases, key)
	}
	return nil
}

func (s *MemoryStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.AcquireLease(ctx, key, value, ttl)
}

// --- copy helpers ---

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func copyAgent(a *Agent) *Agent {
	cp := *a
	cp.Skills = cloneStrings(a.Skills)
	return &cp
}

func copyRequest(req *ReplacementRequest) *ReplacementRequest {
	cp := *req
	cp.NotifiedAgentIDs = cloneStrings(req.NotifiedAgentIDs)
	if req.LastWaveSentAt != nil {
		t := *req.LastWaveSentAt
		cp.LastWaveSentAt = &t
	}
	if req.NightResumedAt != nil {
		t := *req.NightResumedAt
		cp.NightResumedAt = &t
	}
	if req.AcceptedAt != nil {
		t := *req.AcceptedAt
		cp.AcceptedAt = &t
	}
	return &cp
}

func copyIntent(intent *NotificationIntent) *NotificationIntent {
	cp := *intent
	cp.RecipientIDs = cloneStrings(intent.RecipientIDs)
	cp.ReplacerIDs = cloneStrings(intent.ReplacerIDs)
	if intent.Data != nil {
		cp.Data = make(map[string]string, len(intent.Data))
		for k, v := range intent.Data {
			cp.Data[k] = v
		}
	}
	if intent.ProcessedAt != nil {
		t := *intent.ProcessedAt
		cp.ProcessedAt = &t
	}
	return &cp
}

// applyPatch mutates req in place with the non-nil fields of patch.
// AppendNotified unions ids into the notified set (append-only invariant).
func applyPatch(req *ReplacementRequest, patch RequestPatch) {
	if patch.CurrentWave != nil {
		req.CurrentWave = *patch.CurrentWave
	}
	for _, id := range patch.AppendNotified {
		if !req.WasNotified(id) {
			req.NotifiedAgentIDs = append(req.NotifiedAgentIDs, id)
		}
	}
	if patch.LastWaveSentAt != nil {
		t := *patch.LastWaveSentAt
		req.LastWaveSentAt = &t
	}
	if patch.NightResumedAt != nil {
		t := *patch.NightResumedAt
		req.NightResumedAt = &t
	}
	if patch.Status != nil {
		req.Status = *patch.Status
	}
	if patch.AcceptedAt != nil {
		t := *patch.AcceptedAt
		req.AcceptedAt = &t
	}
}
