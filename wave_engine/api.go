package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/nexshift/waveengine/wave_engine/coordination"
	"github.com/nexshift/waveengine/wave_engine/idempotency"
	"github.com/nexshift/waveengine/wave_engine/observability"
	"github.com/nexshift/waveengine/wave_engine/store"
	"github.com/nexshift/waveengine/wave_engine/timeline"
)

type API struct {
	store     store.Store
	escalator *Escalator
	detector  *CompletionDetector
	elector   *coordination.LeaderElector
	timeline  *timeline.Store

	hub         *IntentHub
	idempotency *idempotency.Store

	// Storm protection on the creation endpoints.
	createLimiter *rate.Limiter

	upgrader websocket.Upgrader
}

func NewAPI(s store.Store, e *Escalator, d *CompletionDetector, elector *coordination.LeaderElector, tl *timeline.Store, hub *IntentHub) *API {
	return &API{
		store:       s,
		escalator:   e,
		detector:    d,
		elector:     elector,
		timeline:    tl,
		hub:         hub,
		idempotency: idempotency.NewStore(time.Hour),
		// Allow 20 creations/sec, burst 40
		createLimiter: rate.NewLimiter(rate.Limit(20), 40),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Wrapper for capturing response
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       []byte
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body = append(r.body, b...)
	return r.ResponseWriter.Write(b)
}

func (a *API) withIdempotency(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-NexShift-Idempotency-Key")
		if key == "" {
			next(w, r)
			return
		}

		if resp, found := a.idempotency.Get(key); found {
			for k, v := range resp.Headers {
				for _, val := range v {
					w.Header().Add(k, val)
				}
			}
			w.WriteHeader(resp.StatusCode)
			w.Write(resp.Body)
			return
		}

		rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next(rec, r)

		a.idempotency.Set(key, idempotency.Response{
			StatusCode: rec.statusCode,
			Body:       rec.body,
			Headers:    rec.Header(),
		})
	}
}

// writeRateLimitError writes a 429 response with a jittered Retry-After.
func (a *API) writeRateLimitError(w http.ResponseWriter, endpoint string) {
	observability.APIRateLimited.WithLabelValues(endpoint).Inc()

	retryAfter := 1000 + rand.Intn(1000)
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter/1000))
	http.Error(w, "Too Many Requests (Storm Protection Active)", http.StatusTooManyRequests)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// -- Directory ingestion --

func (a *API) handleUpsertAgent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var agent store.Agent
	if err := json.NewDecoder(r.Body).Decode(&agent); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if agent.AgentID == "" || agent.StationID == "" {
		http.Error(w, "agent_id and station_id are required", http.StatusBadRequest)
		return
	}

	if err := a.store.UpsertAgent(r.Context(), &agent); err != nil {
		log.Printf("API: agent upsert failed: %v", err)
		http.Error(w, "Store error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (a *API) handleUpsertAssignment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var duty store.DutyAssignment
	if err := json.NewDecoder(r.Body).Decode(&duty); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if duty.AssignmentID == "" || duty.StationID == "" {
		http.Error(w, "assignment_id and station_id are required", http.StatusBadRequest)
		return
	}
	if !duty.EndsAt.After(duty.StartsAt) {
		http.Error(w, "ends_at must be after starts_at", http.StatusBadRequest)
		return
	}

	if err := a.store.UpsertDutyAssignment(r.Context(), &duty); err != nil {
		log.Printf("API: assignment upsert failed: %v", err)
		http.Error(w, "Store error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, duty)
}

func (a *API) handleUpsertStation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var cfg store.StationConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if cfg.StationID == "" {
		http.Error(w, "station_id is required", http.StatusBadRequest)
		return
	}

	if err := a.store.UpsertStationConfig(r.Context(), &cfg); err != nil {
		log.Printf("API: station upsert failed: %v", err)
		http.Error(w, "Store error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// -- Replacement requests --

// handleCreateRequest records a replacement request and dispatches the first
// wave in the same call, so the requester's team is alerted immediately
// instead of waiting for a sweep tick.
func (a *API) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !a.createLimiter.Allow() {
		a.writeRateLimitError(w, "requests")
		return
	}

	var req store.ReplacementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.RequesterID == "" || req.StationID == "" || req.AssignmentID == "" {
		http.Error(w, "requester_id, station_id and assignment_id are required", http.StatusBadRequest)
		return
	}
	if !req.EndsAt.After(req.StartsAt) {
		http.Error(w, "ends_at must be after starts_at", http.StatusBadRequest)
		return
	}

	if req.RequestID == "" {
		req.RequestID = generateID("req")
	}
	req.Status = store.StatusPending
	req.CurrentWave = 0
	req.NotifiedAgentIDs = nil
	req.LastWaveSentAt = nil
	req.CreatedAt = time.Now()
	req.Version = 1

	if err := a.store.CreateRequest(r.Context(), &req); err != nil {
		log.Printf("API: request creation failed: %v", err)
		http.Error(w, "Store error", http.StatusInternalServerError)
		return
	}
	a.timeline.Record(timeline.RequestEvent{
		RequestID: req.RequestID,
		Stage:     "CREATED",
		StationID: req.StationID,
	})
	log.Printf("API: request %s created by %s for assignment %s", req.RequestID, req.RequesterID, req.AssignmentID)

	// Initial dispatch: wave 1 (and past any empty waves) right away.
	if err := a.escalator.AdvanceWave(r.Context(), req.RequestID); err != nil {
		log.Printf("API: initial dispatch failed for request %s: %v", req.RequestID, err)
	}

	created, err := a.store.GetRequest(r.Context(), req.RequestID)
	if err != nil || created == nil {
		writeJSON(w, http.StatusCreated, req)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/requests/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	req, err := a.store.GetRequest(r.Context(), id)
	if err != nil {
		http.Error(w, "Store error", http.StatusInternalServerError)
		return
	}
	if req == nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// -- Sub-assignments --

// handleCreateSubAssignment records a partial replacement and runs the
// completion detector in the same call.
func (a *API) handleCreateSubAssignment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !a.createLimiter.Allow() {
		a.writeRateLimitError(w, "subshifts")
		return
	}

	var sub store.SubAssignment
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if sub.ReplacedID == "" || sub.ReplacerID == "" || sub.AssignmentID == "" {
		http.Error(w, "replaced_id, replacer_id and assignment_id are required", http.StatusBadRequest)
		return
	}
	if !sub.EndsAt.After(sub.StartsAt) {
		http.Error(w, "ends_at must be after starts_at", http.StatusBadRequest)
		return
	}

	if sub.SubAssignmentID == "" {
		sub.SubAssignmentID = generateID("sub")
	}
	sub.CreatedAt = time.Now()

	if err := a.store.CreateSubAssignment(r.Context(), &sub); err != nil {
		log.Printf("API: sub-assignment creation failed: %v", err)
		http.Error(w, "Store error", http.StatusInternalServerError)
		return
	}
	log.Printf("API: sub-assignment %s recorded, %s covers for %s", sub.SubAssignmentID, sub.ReplacerID, sub.ReplacedID)

	if err := a.detector.HandleSubAssignment(r.Context(), &sub); err != nil {
		// The record is committed; coverage re-evaluation failures are
		// recovered when the next sub-assignment arrives.
		log.Printf("API: completion check failed for sub-assignment %s: %v", sub.SubAssignmentID, err)
	}
	writeJSON(w, http.StatusCreated, sub)
}

// -- Intent consumption (external dispatcher) --

func (a *API) handleListIntents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stationID := r.URL.Query().Get("station")
	since := time.Now().Add(-24 * time.Hour)
	if s := r.URL.Query().Get("since"); s != "" {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			http.Error(w, "Invalid since timestamp (want RFC3339)", http.StatusBadRequest)
			return
		}
		since = parsed
	}
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		fmt.Sscanf(l, "%d", &limit)
	}

	intents, err := a.store.ListIntentsSince(r.Context(), stationID, since, limit)
	if err != nil {
		log.Printf("API: intent listing failed: %v", err)
		http.Error(w, "Store error", http.StatusInternalServerError)
		return
	}
	if intents == nil {
		intents = []*store.NotificationIntent{}
	}
	writeJSON(w, http.StatusOK, intents)
}

func (a *API) handleMarkIntentProcessed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Path: /intents/{id}/processed
	path := strings.TrimPrefix(r.URL.Path, "/intents/")
	id := strings.TrimSuffix(path, "/processed")
	if id == "" || id == path {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	if err := a.store.MarkIntentProcessed(r.Context(), id); err != nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleIntentStream upgrades to WebSocket and registers the client with the
// hub. Reads are drained only to detect disconnects.
func (a *API) handleIntentStream(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("API: websocket upgrade failed: %v", err)
		return
	}

	stationID := r.URL.Query().Get("station")
	a.hub.Register(conn, stationID)

	go func() {
		defer a.hub.Unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// -- Ops surface --

func (a *API) handleDebugSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshot := map[string]interface{}{
		"watchers": a.hub.ClientCount(),
		"timeline": a.timeline.GetAllEvents(),
	}
	if a.elector != nil {
		snapshot["leader"] = a.elector.GetState()
	}
	writeJSON(w, http.StatusOK, snapshot)
}
