package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mcdev12/pokerclock/go/internal/models"
)

const defaultConflictLimit = 100

type resolveRequest struct {
	Strategy models.ResolutionStrategy `json:"strategy"`
	Version  json.RawMessage           `json:"version,omitempty"`
}

type resolveResponse struct {
	Conflict models.Conflict         `json:"conflict"`
	Result   models.ResolutionResult `json:"result"`
}

func (h *handler) upload(w http.ResponseWriter, r *http.Request) {
	var req models.SyncUploadRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := h.deps.Sync.Upload(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) pull(w http.ResponseWriter, r *http.Request) {
	since, err := int64Param(r, "since", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := h.deps.Sync.Pull(r.Context(), since, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) listConflicts(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultConflictLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	openOnly := r.URL.Query().Get("open") == "true"
	conflicts, err := h.deps.Sync.Conflicts(r.Context(), openOnly, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if conflicts == nil {
		conflicts = []models.Conflict{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conflicts": conflicts})
}

func (h *handler) resolveConflict(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID(chi.URLParam(r, "conflictID"), "conflict id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req resolveRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, res, err := h.deps.Sync.ResolveConflict(r.Context(), id, req.Strategy, req.Version)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{Conflict: *c, Result: *res})
}
