package api

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

func (h *handler) failoverStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Failover.Status())
}

// promote forces this node to primary without waiting for the failure
// threshold.
func (h *handler) promote(w http.ResponseWriter, r *http.Request) {
	log.Warn().Str("remote", r.RemoteAddr).Msg("manual promotion requested")
	if err := h.deps.Failover.Promote(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Failover.Status())
}

// demote hands the primary role back, typically after the original primary
// has recovered.
func (h *handler) demote(w http.ResponseWriter, r *http.Request) {
	log.Warn().Str("remote", r.RemoteAddr).Msg("demotion requested")
	if err := h.deps.Failover.Demote(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Failover.Status())
}
