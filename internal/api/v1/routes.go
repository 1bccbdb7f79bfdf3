// Package v1 provides the REST handlers for sync and plan/forecast/actual
// access.
package v1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/planvista/pfa-server/internal/auth"
	"github.com/planvista/pfa-server/internal/draft"
	"github.com/planvista/pfa-server/internal/merge"
	"github.com/planvista/pfa-server/internal/service"
	"github.com/planvista/pfa-server/internal/status"
	"github.com/planvista/pfa-server/internal/store"
	pkgsync "github.com/planvista/pfa-server/internal/sync"
	"github.com/planvista/pfa-server/internal/sync/state"
)

// ErrorResponse is the standardized error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SyncRequest is the body of POST /sync.
type SyncRequest struct {
	OrganizationID uuid.UUID `json:"organizationId"`
	Mode           string    `json:"mode,omitempty"`
}

// DraftRequest is the body of POST /pfa/{orgId}/draft.
type DraftRequest struct {
	SessionID string        `json:"sessionId"`
	Records   []DraftRecord `json:"records"`
}

// DraftRecord is one record's changed fields within a draft request.
type DraftRecord struct {
	RecordID uuid.UUID        `json:"recordId"`
	Fields   merge.FieldPatch `json:"fields"`
}

// LifecycleRequest is the body of POST /pfa/{orgId}/commit and /discard.
type LifecycleRequest struct {
	SessionID string      `json:"sessionId,omitempty"`
	RecordIDs []uuid.UUID `json:"recordIds,omitempty"`
}

// Routes holds the handler dependencies.
type Routes struct {
	orchestrator *pkgsync.Orchestrator
	runs         state.Service
	pfa          *service.PFAService
	drafts       draft.Manager
}

// Router builds the v1 API router. Every route assumes the auth middleware
// already ran.
func Router(orchestrator *pkgsync.Orchestrator, runs state.Service, pfa *service.PFAService, drafts draft.Manager) http.Handler {
	routes := &Routes{
		orchestrator: orchestrator,
		runs:         runs,
		pfa:          pfa,
		drafts:       drafts,
	}

	r := chi.NewRouter()

	r.With(auth.RequirePermission(auth.PermSync)).Post("/sync", routes.startSync)
	r.With(auth.RequirePermission(auth.PermSync)).Post("/sync/all", routes.syncAll)
	r.With(auth.RequirePermission(auth.PermRead)).Get("/sync/{syncId}", routes.getSyncRun)
	r.With(auth.RequirePermission(auth.PermSync)).Post("/sync/{syncId}/cancel", routes.cancelSyncRun)

	r.With(auth.RequirePermission(auth.PermRead)).Get("/pfa/{orgId}", routes.listRecords)
	r.With(auth.RequirePermission(auth.PermRead)).Get("/pfa/{orgId}/records/{recordId}", routes.getRecord)
	r.With(auth.RequirePermission(auth.PermEdit)).Post("/pfa/{orgId}/draft", routes.saveDraft)
	r.With(auth.RequirePermission(auth.PermEdit)).Post("/pfa/{orgId}/commit", routes.commitDrafts)
	r.With(auth.RequirePermission(auth.PermEdit)).Post("/pfa/{orgId}/discard", routes.discardDrafts)

	return r
}

// startSync handles POST /api/v1/sync. It returns 202 with the run snapshot;
// ineligible organizations get a terminal snapshot immediately.
func (routes *Routes) startSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OrganizationID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "organizationId is required")
		return
	}
	mode, ok := parseMode(req.Mode)
	if !ok {
		writeError(w, http.StatusBadRequest, "mode must be full or incremental")
		return
	}
	if !callerAllowsOrg(r, req.OrganizationID) {
		writeError(w, http.StatusForbidden, "organization not in caller scope")
		return
	}

	snapshot, err := routes.orchestrator.StartSync(r.Context(), req.OrganizationID, mode)
	if err != nil {
		writeSyncError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, snapshot)
}

// syncAll handles POST /api/v1/sync/all and blocks until the fan-out ends.
func (routes *Routes) syncAll(w http.ResponseWriter, r *http.Request) {
	mode, ok := parseMode(r.URL.Query().Get("mode"))
	if !ok {
		writeError(w, http.StatusBadRequest, "mode must be full or incremental")
		return
	}

	summary, err := routes.orchestrator.SyncAll(r.Context(), mode)
	if err != nil {
		writeSyncError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (routes *Routes) getSyncRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(chi.URLParam(r, "syncId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sync id")
		return
	}

	snapshot, err := routes.runs.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, state.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "sync run not found")
			return
		}
		writeInternalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (routes *Routes) cancelSyncRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(chi.URLParam(r, "syncId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sync id")
		return
	}

	if !routes.orchestrator.Cancel(runID) {
		writeError(w, http.StatusNotFound, "no cancellable run with this id on this instance")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"cancelling": true})
}

func (routes *Routes) listRecords(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requestOrg(w, r)
	if !ok {
		return
	}

	limit := int32(0)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := parseLimit(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	page, err := routes.pfa.ListRecords(r.Context(), orgID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCursor) {
			writeError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		writeInternalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (routes *Routes) getRecord(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requestOrg(w, r)
	if !ok {
		return
	}
	recordID, err := uuid.Parse(chi.URLParam(r, "recordId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid record id")
		return
	}

	view, err := routes.pfa.GetRecord(r.Context(), orgID, recordID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "record not found")
			return
		}
		writeInternalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (routes *Routes) saveDraft(w http.ResponseWriter, r *http.Request) {
	orgID, ok := requestOrg(w, r)
	if !ok {
		return
	}

	var req DraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	changes := make([]draft.Change, 0, len(req.Records))
	for _, rec := range req.Records {
		changes = append(changes, draft.Change{RecordID: rec.RecordID, Patch: rec.Fields})
	}

	saved, err := routes.drafts.SaveDraft(r.Context(), orgID, req.SessionID, changes)
	if err != nil {
		writeDraftError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"saved": saved})
}

func (routes *Routes) commitDrafts(w http.ResponseWriter, r *http.Request) {
	routes.lifecycle(w, r, "committed", routes.drafts.Commit)
}

func (routes *Routes) discardDrafts(w http.ResponseWriter, r *http.Request) {
	routes.lifecycle(w, r, "discarded", routes.drafts.Discard)
}

func (routes *Routes) lifecycle(w http.ResponseWriter, r *http.Request, countKey string,
	op func(ctx context.Context, orgID uuid.UUID, sel draft.Selector) (int, error)) {
	orgID, ok := requestOrg(w, r)
	if !ok {
		return
	}

	var req LifecycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	count, err := op(r.Context(), orgID, draft.Selector{RecordIDs: req.RecordIDs, SessionID: req.SessionID})
	if err != nil {
		if errors.Is(err, draft.ErrEmptySelector) {
			writeError(w, http.StatusBadRequest, "recordIds or sessionId required")
			return
		}
		writeDraftError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{countKey: count})
}

// requestOrg parses the org path parameter and enforces the caller's scope.
func requestOrg(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	orgID, err := uuid.Parse(chi.URLParam(r, "orgId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid organization id")
		return uuid.Nil, false
	}
	if !callerAllowsOrg(r, orgID) {
		writeError(w, http.StatusForbidden, "organization not in caller scope")
		return uuid.Nil, false
	}
	return orgID, true
}

func callerAllowsOrg(r *http.Request, orgID uuid.UUID) bool {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		return false
	}
	return identity.AllowsOrg(orgID.String())
}

func parseMode(raw string) (status.SyncMode, bool) {
	switch raw {
	case "", string(status.SyncModeFull):
		return status.SyncModeFull, true
	case string(status.SyncModeIncremental):
		return status.SyncModeIncremental, true
	default:
		return "", false
	}
}

func parseLimit(raw string) (int32, error) {
	var limit int32
	if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil {
		return 0, err
	}
	return limit, nil
}

func writeSyncError(w http.ResponseWriter, err error) {
	var syncErr *pkgsync.Error
	if errors.As(err, &syncErr) {
		switch syncErr.Code {
		case pkgsync.ErrCodeOrgNotFound:
			writeError(w, http.StatusNotFound, syncErr.Message)
			return
		case pkgsync.ErrCodeConflict:
			writeError(w, http.StatusConflict, syncErr.Message)
			return
		}
	}
	slog.Error("Sync request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeDraftError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, draft.ErrDraftConflict):
		writeError(w, http.StatusConflict, "a concurrent draft operation holds this record")
	case errors.Is(err, store.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, "record not found")
	default:
		writeInternalError(w, r, err)
	}
}

func writeInternalError(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("Request failed", "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, ErrorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
