package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/mcdev12/pokerclock/go/internal/timer"
)

const defaultEventLimit = 100

type setLevelRequest struct {
	Level int `json:"level"`
}

type adjustTimeRequest struct {
	DeltaMs int64 `json:"deltaMs"`
}

type scheduleBody struct {
	Levels []models.BlindLevel `json:"levels"`
}

// getTimer returns the live state, loading the tournament on first request.
func (h *handler) getTimer(w http.ResponseWriter, r *http.Request) {
	id, err := tournamentID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	state, err := h.deps.Timers.GetState(id)
	if errors.Is(err, timer.ErrTournamentNotFound) {
		state, err = h.deps.Timers.LoadOrRecover(r.Context(), id)
		if errors.Is(err, timer.ErrScheduleUnavailable) {
			// the state is loaded with a frozen level
			err = nil
		}
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *handler) timerCommand(cmd func(TimerService, context.Context, uuid.UUID) (models.TimerState, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := tournamentID(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		state, err := cmd(h.deps.Timers, r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
	}
}

func (h *handler) setLevel(w http.ResponseWriter, r *http.Request) {
	id, err := tournamentID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req setLevelRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	state, err := h.deps.Timers.SetLevel(r.Context(), id, req.Level)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *handler) adjustTime(w http.ResponseWriter, r *http.Request) {
	id, err := tournamentID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req adjustTimeRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	state, err := h.deps.Timers.AdjustTime(r.Context(), id, req.DeltaMs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *handler) listTimerEvents(w http.ResponseWriter, r *http.Request) {
	if h.deps.Events == nil {
		http.NotFound(w, r)
		return
	}
	id, err := tournamentID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := intParam(r, "limit", defaultEventLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	events, err := h.deps.Events.ListEvents(r.Context(), id, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if events == nil {
		events = []models.TimerEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *handler) getSchedule(w http.ResponseWriter, r *http.Request) {
	if h.deps.Schedules == nil {
		http.NotFound(w, r)
		return
	}
	id, err := tournamentID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	levels, err := h.deps.Schedules.Levels(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scheduleBody{Levels: levels})
}

func (h *handler) putSchedule(w http.ResponseWriter, r *http.Request) {
	if h.deps.Schedules == nil {
		http.NotFound(w, r)
		return
	}
	id, err := tournamentID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body scheduleBody
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	levels, err := h.deps.Schedules.SetSchedule(r.Context(), id, body.Levels)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scheduleBody{Levels: levels})
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", errValidation, name, raw)
	}
	return n, nil
}

func int64Param(r *http.Request, name string, def int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", errValidation, name, raw)
	}
	return n, nil
}
