package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/mcdev12/pokerclock/go/internal/replication"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// TimerService is the timer engine's command surface.
type TimerService interface {
	Start(ctx context.Context, id uuid.UUID) (models.TimerState, error)
	Pause(ctx context.Context, id uuid.UUID) (models.TimerState, error)
	Resume(ctx context.Context, id uuid.UUID) (models.TimerState, error)
	SetLevel(ctx context.Context, id uuid.UUID, level int) (models.TimerState, error)
	AdjustTime(ctx context.Context, id uuid.UUID, ms int64) (models.TimerState, error)
	GetState(id uuid.UUID) (models.TimerState, error)
	LoadOrRecover(ctx context.Context, id uuid.UUID) (models.TimerState, error)
}

// EventLister reads the persisted timer event trail.
type EventLister interface {
	ListEvents(ctx context.Context, tournamentID uuid.UUID, limit int) ([]models.TimerEvent, error)
}

// ScheduleService reads and replaces blind schedules.
type ScheduleService interface {
	Levels(ctx context.Context, tournamentID uuid.UUID) ([]models.BlindLevel, error)
	SetSchedule(ctx context.Context, tournamentID uuid.UUID, levels []models.BlindLevel) ([]models.BlindLevel, error)
}

// ReplicationSource is the primary's side of the replication channel.
type ReplicationSource interface {
	SnapshotInfo() (models.ReplicationSnapshot, error)
	Open(part replication.Part) (io.ReadCloser, int64, error)
	TriggerCheckpoint(ctx context.Context) error
	CreateBackup(ctx context.Context) (models.Backup, error)
	ListBackups() ([]models.Backup, error)
}

// SyncService is the server side of device sync.
type SyncService interface {
	Upload(ctx context.Context, req models.SyncUploadRequest) (*models.SyncUploadResponse, error)
	Pull(ctx context.Context, since int64, limit int) (*models.SyncPullResponse, error)
	ResolveConflict(ctx context.Context, conflictID uuid.UUID, strategy models.ResolutionStrategy, version json.RawMessage) (*models.Conflict, *models.ResolutionResult, error)
	Conflicts(ctx context.Context, openOnly bool, limit int) ([]models.Conflict, error)
}

// FailoverAdmin exposes the coordinator to operators.
type FailoverAdmin interface {
	IsPrimary() bool
	Status() models.HeartbeatStatus
	Promote(ctx context.Context) error
	Demote(ctx context.Context) error
}

// RouteRegistrar mounts extra routes, such as the websocket gateway.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// Dependencies of the router. Nil members leave their routes unmounted.
type Dependencies struct {
	Timers      TimerService
	Events      EventLister
	Schedules   ScheduleService
	Replication ReplicationSource
	Sync        SyncService
	Failover    FailoverAdmin
	Liveness    http.Handler
	Detail      http.Handler
	Metrics     http.Handler
	Gateway     RouteRegistrar
}

type handler struct {
	deps Dependencies
}

// NewRouter builds the HTTP surface of a node.
func NewRouter(deps Dependencies) chi.Router {
	h := &handler{deps: deps}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	if deps.Liveness != nil {
		r.Method(http.MethodGet, "/health", deps.Liveness)
	}
	if deps.Detail != nil {
		r.Method(http.MethodGet, "/health/detail", deps.Detail)
	}
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	if deps.Timers != nil {
		r.Route("/tournaments/{id}", func(r chi.Router) {
			r.Get("/timer/events", h.listTimerEvents)
			r.Get("/schedule", h.getSchedule)
			// a standby's registry goes stale between replication swaps,
			// so live state is only served by the primary
			r.Group(func(r chi.Router) {
				r.Use(h.primaryOnly)
				r.Get("/timer", h.getTimer)
				r.Post("/timer/start", h.timerCommand(TimerService.Start))
				r.Post("/timer/pause", h.timerCommand(TimerService.Pause))
				r.Post("/timer/resume", h.timerCommand(TimerService.Resume))
				r.Post("/timer/level", h.setLevel)
				r.Post("/timer/adjust", h.adjustTime)
				r.Put("/schedule", h.putSchedule)
			})
		})
	}

	if deps.Replication != nil {
		r.Route("/replication", func(r chi.Router) {
			r.Use(h.primaryOnly)
			r.Get("/snapshot", h.snapshot)
			r.Get("/download/{part}", h.download)
			r.Get("/backups", h.listBackups)
			r.Post("/backups", h.createBackup)
			r.Post("/checkpoint", h.checkpoint)
		})
	}

	if deps.Sync != nil {
		r.Route("/sync", func(r chi.Router) {
			r.Get("/pull", h.pull)
			r.Get("/conflicts", h.listConflicts)
			r.Group(func(r chi.Router) {
				r.Use(h.primaryOnly)
				r.Post("/upload", h.upload)
				r.Post("/conflicts/{conflictID}/resolve", h.resolveConflict)
			})
		})
	}

	if deps.Failover != nil {
		r.Route("/admin", func(r chi.Router) {
			r.Get("/failover", h.failoverStatus)
			r.Post("/promote", h.promote)
			r.Post("/demote", h.demote)
		})
	}

	if deps.Gateway != nil {
		r.Group(func(r chi.Router) {
			r.Use(h.primaryOnly)
			deps.Gateway.RegisterRoutes(r)
		})
	}
	return r
}

// primaryOnly rejects requests a standby cannot serve: writes would be lost
// on the next replication swap.
func (h *handler) primaryOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.deps.Failover != nil && !h.deps.Failover.IsPrimary() {
			writeNotPrimary(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// /health is polled every second by the standby
		if r.URL.Path == "/health" && ww.Status() == http.StatusOK {
			return
		}
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

// NewServer wraps handler with CORS and HTTP/2 cleartext support.
func NewServer(addr string, handler http.Handler) *http.Server {
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	return &http.Server{
		Addr:              addr,
		Handler:           h2c.NewHandler(c.Handler(handler), &http2.Server{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func tournamentID(r *http.Request) (uuid.UUID, error) {
	return parseUUID(chi.URLParam(r, "id"), "tournament id")
}

func parseUUID(s, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s %q", errValidation, what, s)
	}
	return id, nil
}
