package timer

import (
	"github.com/google/uuid"
	"github.com/mcdev12/pokerclock/go/internal/models"
)

// MetricsCollector defines the interface for collecting timer metrics
type MetricsCollector interface {
	RecordTick(tournamentID uuid.UUID)
	RecordTransition(eventType models.TimerEventType)
	RecordPersistFailure(op string)
	SetActiveTimers(n int)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordTick(uuid.UUID)                   {}
func (NoOpMetricsCollector) RecordTransition(models.TimerEventType) {}
func (NoOpMetricsCollector) RecordPersistFailure(string)            {}
func (NoOpMetricsCollector) SetActiveTimers(int)                    {}
