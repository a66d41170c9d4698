package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/mcdev12/pokerclock/go/internal/timer"
	"github.com/rs/zerolog/log"
)

// TimerSource is the slice of the timer engine the gateway streams from.
type TimerSource interface {
	Subscribe(id uuid.UUID) (*timer.Subscription, error)
	LoadOrRecover(ctx context.Context, id uuid.UUID) (models.TimerState, error)
}

// Handler serves websocket upgrades for tournament clocks.
type Handler struct {
	timers            TimerSource
	connectionManager *ConnectionManager
}

func NewHandler(timers TimerSource, cm *ConnectionManager) *Handler {
	return &Handler{timers: timers, connectionManager: cm}
}

// RegisterRoutes mounts the websocket endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/tournaments/{id}", h.HandleTournament)
	r.Get("/ws/stats", h.HandleStats)
}

// HandleTournament streams one tournament's timer state. A tournament that is
// not loaded yet is loaded first.
func (h *Handler) HandleTournament(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid tournament id", http.StatusBadRequest)
		return
	}
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = "anonymous"
	}

	sub, err := h.timers.Subscribe(id)
	if errors.Is(err, timer.ErrTournamentNotFound) {
		if _, lerr := h.timers.LoadOrRecover(r.Context(), id); lerr != nil && !errors.Is(lerr, timer.ErrScheduleUnavailable) {
			if errors.Is(lerr, timer.ErrTournamentNotFound) {
				http.Error(w, "tournament not found", http.StatusNotFound)
				return
			}
			log.Error().Err(lerr).Str("tournament_id", id.String()).Msg("failed to load timer for stream")
			http.Error(w, "failed to load timer", http.StatusInternalServerError)
			return
		}
		sub, err = h.timers.Subscribe(id)
	}
	if err != nil {
		log.Error().Err(err).Str("tournament_id", id.String()).Msg("failed to subscribe to timer")
		http.Error(w, "failed to subscribe", http.StatusInternalServerError)
		return
	}

	// the upgrader has already written an error response on failure
	if err := h.connectionManager.UpgradeConnection(w, r, clientID, id, sub); err != nil {
		log.Warn().
			Err(err).
			Str("tournament_id", id.String()).
			Str("client_id", clientID).
			Msg("websocket upgrade failed")
	}
}

// HandleStats reports active connections.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.Stats()); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}
