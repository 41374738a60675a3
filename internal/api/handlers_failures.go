// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/prodsync/internal/failures"
	"github.com/tomtom215/prodsync/internal/logging"
	"github.com/tomtom215/prodsync/internal/syncerr"
	"github.com/tomtom215/prodsync/internal/validation"
)

const defaultFailureLimit = 100

// failureQuery holds the list filters.
type failureQuery struct {
	Project string `validate:"max=256"`
	Limit   int    `validate:"min=1,max=1000"`
}

// ListFailures lists failure records, newest first.
// Query: ?project=<key>&limit=<n>
func (h *Handler) ListFailures(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	q := failureQuery{Project: r.URL.Query().Get("project"), Limit: defaultFailureLimit}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			rw.BadRequest("limit must be an integer")
			return
		}
		q.Limit = n
	}
	if verr := validation.ValidateStruct(q); verr != nil {
		apiErr := verr.ToAPIError()
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return
	}

	records, err := h.failures.List(r.Context(), failures.Filter{ProjectKey: q.Project, Limit: q.Limit})
	if err != nil {
		rw.InternalError("failed to list failures", err)
		return
	}
	if records == nil {
		records = []failures.Record{}
	}
	rw.List(records, len(records))
}

// GetFailure returns one failure record.
func (h *Handler) GetFailure(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	rec, err := h.failures.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, syncerr.ErrNotFound) {
		rw.NotFound("failure not found")
		return
	}
	if err != nil {
		rw.InternalError("failed to read failure", err)
		return
	}
	rw.Success(rec)
}

// RetryResponse carries the id of the re-queued event.
type RetryResponse struct {
	FailureID string `json:"failure_id"`
	EventID   string `json:"event_id"`
}

// RetryFailure re-queues the failed event and removes its record.
func (h *Handler) RetryFailure(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id := chi.URLParam(r, "id")

	eventID, err := h.failures.Retry(r.Context(), id, h.queue)
	if errors.Is(err, syncerr.ErrNotFound) {
		rw.NotFound("failure not found")
		return
	}
	if err != nil && eventID == "" {
		rw.InternalError("failed to retry failure", err)
		return
	}
	if err != nil {
		// Queued, but the record could not be removed.
		logging.Ctx(r.Context()).Warn().Err(err).Str("failure_id", id).Msg("Retried failure record not deleted")
	}

	logging.Ctx(r.Context()).Info().Str("failure_id", id).Str("event_id", eventID).Msg("Failure re-queued")
	rw.Accepted(RetryResponse{FailureID: id, EventID: eventID})
}

// DeleteFailure discards a failure record.
func (h *Handler) DeleteFailure(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	err := h.failures.Delete(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, syncerr.ErrNotFound) {
		rw.NotFound("failure not found")
		return
	}
	if err != nil {
		rw.InternalError("failed to delete failure", err)
		return
	}
	rw.NoContent()
}
