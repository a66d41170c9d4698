package main

import (
	"net/http"

	"github.com/mcdev12/pokerclock/go/internal/api"
	"github.com/mcdev12/pokerclock/go/internal/config"
)

func setupServer(cfg *config.Config, services *Services) *http.Server {
	router := api.NewRouter(api.Dependencies{
		Timers:      services.Timers,
		Events:      services.Events,
		Schedules:   services.Schedules,
		Replication: services.Source,
		Sync:        services.Sync,
		Failover:    services.Coordinator,
		Liveness:    services.Health.LivenessHandler(),
		Detail:      services.Health,
		Metrics:     services.Metrics.Handler(),
		Gateway:     services.Gateway,
	})
	return api.NewServer(cfg.Server.Addr, router)
}
