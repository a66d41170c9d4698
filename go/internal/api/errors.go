package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mcdev12/pokerclock/go/internal/conflict"
	"github.com/mcdev12/pokerclock/go/internal/failover"
	"github.com/mcdev12/pokerclock/go/internal/replication"
	"github.com/mcdev12/pokerclock/go/internal/schedule"
	"github.com/mcdev12/pokerclock/go/internal/timer"
	"github.com/rs/zerolog/log"
)

// Error codes returned in the body of every failed request.
const (
	CodeTournamentNotFound  = "TOURNAMENT_NOT_FOUND"
	CodeValidation          = "VALIDATION_ERROR"
	CodeTimerNotRunning     = "TIMER_NOT_RUNNING"
	CodeTimerEnded          = "TIMER_ENDED"
	CodeScheduleUnavailable = "SCHEDULE_UNAVAILABLE"
	CodeNotPrimary          = "NOT_PRIMARY"
	CodeConflictUnresolved  = "CONFLICT_UNRESOLVED"
	CodeConflictNotFound    = "CONFLICT_NOT_FOUND"
	CodeRoleChange          = "ROLE_CHANGE_REJECTED"
	CodeInternal            = "INTERNAL"
)

const maxBody = 8 << 20

// errValidation marks malformed requests rejected before reaching a service.
var errValidation = conflict.ErrValidation

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// classify maps a service error to a status and code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, timer.ErrTournamentNotFound), errors.Is(err, schedule.ErrNoSchedule):
		return http.StatusNotFound, CodeTournamentNotFound
	case errors.Is(err, conflict.ErrValidation),
		errors.Is(err, timer.ErrInvalidLevel),
		errors.Is(err, schedule.ErrInvalidSchedule),
		errors.Is(err, replication.ErrUnknownPart):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, timer.ErrTimerNotRunning):
		return http.StatusConflict, CodeTimerNotRunning
	case errors.Is(err, timer.ErrTimerEnded):
		return http.StatusConflict, CodeTimerEnded
	case errors.Is(err, timer.ErrScheduleUnavailable):
		return http.StatusServiceUnavailable, CodeScheduleUnavailable
	case errors.Is(err, timer.ErrNotPrimary), errors.Is(err, failover.ErrNotStarted):
		return http.StatusServiceUnavailable, CodeNotPrimary
	case errors.Is(err, conflict.ErrConflictNotFound):
		return http.StatusNotFound, CodeConflictNotFound
	case errors.Is(err, conflict.ErrConflictUnresolved):
		return http.StatusConflict, CodeConflictUnresolved
	case errors.Is(err, failover.ErrAlreadyPrimary),
		errors.Is(err, failover.ErrNotPrimary),
		errors.Is(err, failover.ErrPromotionInProgress):
		return http.StatusConflict, CodeRoleChange
	}
	return http.StatusInternalServerError, CodeInternal
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		msg = "internal error"
	} else {
		log.Debug().Err(err).Str("code", code).Str("path", r.URL.Path).Msg("request rejected")
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: msg}})
}

func writeNotPrimary(w http.ResponseWriter) {
	writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: errorDetail{
		Code:    CodeNotPrimary,
		Message: "this node is a standby",
	}})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}

// decode reads a JSON body of at most maxBody bytes into dst.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(dst); err != nil {
		return fmt.Errorf("%w: bad request body: %v", errValidation, err)
	}
	return nil
}
