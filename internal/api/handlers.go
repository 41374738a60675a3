// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/prodsync/internal/dispatch"
	"github.com/tomtom215/prodsync/internal/failures"
	"github.com/tomtom215/prodsync/internal/identity"
	"github.com/tomtom215/prodsync/internal/logging"
	"github.com/tomtom215/prodsync/internal/models"
	"github.com/tomtom215/prodsync/internal/syncerr"
	"github.com/tomtom215/prodsync/internal/validation"
)

// Queue is the dispatcher surface the API needs.
type Queue interface {
	Submit(ctx context.Context, ev models.ChangeEvent) (string, error)
	Stats() dispatch.Stats
}

// FailureStore is the failure record surface the API needs.
type FailureStore interface {
	List(ctx context.Context, f failures.Filter) ([]failures.Record, error)
	Get(ctx context.Context, id string) (*failures.Record, error)
	Count(ctx context.Context) (int, error)
	Delete(ctx context.Context, id string) error
	Retry(ctx context.Context, id string, q failures.Submitter) (string, error)
}

// IdentityReader resolves one side's id to its Identity Map entry.
type IdentityReader interface {
	Lookup(ctx context.Context, projectKey string, s models.Source, t models.EntityType, id string) (*identity.Entry, error)
}

// BreakerReporter reports a store client's circuit state.
type BreakerReporter interface {
	BreakerState() string
}

// Handler serves the admin API.
type Handler struct {
	queue    Queue
	failures FailureStore
	identity IdentityReader
	breakers map[string]BreakerReporter
	now      func() time.Time
}

// NewHandler creates the admin handlers. breakers is keyed by store name.
func NewHandler(q Queue, f FailureStore, id IdentityReader, breakers map[string]BreakerReporter) *Handler {
	return &Handler{queue: q, failures: f, identity: id, breakers: breakers, now: time.Now}
}

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status         string            `json:"status"`
	Pending        int               `json:"pending"`
	Inflight       int               `json:"inflight"`
	ActiveProjects []string          `json:"active_projects"`
	Failures       int               `json:"failures"`
	Breakers       map[string]string `json:"breakers"`
	CheckedAt      time.Time         `json:"checked_at"`
}

// Health reports backlog depth, in-flight projects, the failure count and
// the circuit state of both stores. Any open circuit marks the hub degraded.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	stats := h.queue.Stats()
	count, err := h.failures.Count(r.Context())
	if err != nil {
		rw.InternalError("failed to count failure records", err)
		return
	}

	status := HealthStatus{
		Status:         "ok",
		Pending:        stats.Pending,
		Inflight:       stats.Inflight,
		ActiveProjects: []string{},
		Failures:       count,
		Breakers:       make(map[string]string, len(h.breakers)),
		CheckedAt:      h.now().UTC(),
	}
	for _, p := range stats.Projects {
		if p.Active {
			status.ActiveProjects = append(status.ActiveProjects, p.ProjectKey)
		}
	}
	sort.Strings(status.ActiveProjects)
	for name, b := range h.breakers {
		state := b.BreakerState()
		status.Breakers[name] = state
		if state == "open" {
			status.Status = "degraded"
		}
	}

	rw.Success(status)
}

// Queue returns the per-project pending counts.
func (h *Handler) Queue(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(h.queue.Stats())
}

// ResyncRequest is the body of POST /projects/{project}/resync.
type ResyncRequest struct {
	Direction string `json:"direction" validate:"required,oneof=from_remote to_remote"`
}

// Source returns the store the resync reads from.
func (req ResyncRequest) Source() models.Source {
	if req.Direction == "to_remote" {
		return models.SourceLocal
	}
	return models.SourceRemote
}

// ResyncResponse carries the id of the queued full-resync event.
type ResyncResponse struct {
	EventID    string        `json:"event_id"`
	ProjectKey string        `json:"project_key"`
	Source     models.Source `json:"source"`
}

// Resync queues a full-project resync in the requested direction.
func (h *Handler) Resync(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	project := chi.URLParam(r, "project")

	var req ResyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("invalid JSON body")
		return
	}
	if verr := validation.ValidateStruct(req); verr != nil {
		apiErr := verr.ToAPIError()
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return
	}

	ev := models.NewFullResync("", project, req.Source(), h.now())
	id, err := h.queue.Submit(r.Context(), ev)
	if err != nil {
		rw.InternalError("failed to queue resync", err)
		return
	}

	logging.Ctx(r.Context()).Info().
		Str("project", project).
		Str("direction", req.Direction).
		Str("event_id", id).
		Msg("Full resync queued")

	rw.Accepted(ResyncResponse{EventID: id, ProjectKey: project, Source: req.Source()})
}

// Identity returns the Identity Map entry of one entity.
func (h *Handler) Identity(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	side, err := models.ParseSource(chi.URLParam(r, "side"))
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	t, err := models.ParseEntityType(chi.URLParam(r, "type"))
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	entry, err := h.identity.Lookup(r.Context(), chi.URLParam(r, "project"), side, t, chi.URLParam(r, "id"))
	if errors.Is(err, syncerr.ErrNotFound) {
		rw.NotFound("entity has not been synchronized")
		return
	}
	if err != nil {
		rw.InternalError("failed to read identity map", err)
		return
	}
	rw.Success(entry)
}
