package conflict

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pokerclock/go/internal/models"
	"github.com/rs/zerolog/log"
)

// DefaultWindow is the concurrent-edit window.
const DefaultWindow = 5 * time.Second

// LatestLookup is the slice of the change ledger the detector consults.
type LatestLookup interface {
	LatestChangeFor(ctx context.Context, entityType string, entityID uuid.UUID) (*models.ChangeRecord, error)
}

// Detector classifies incoming changes against the ledger's latest record
// for the same entity.
type Detector struct {
	ledger     LatestLookup
	window     time.Duration
	clock      clockwork.Clock
	validators map[string][]Validator
	known      map[string]bool
}

// NewDetector creates a detector for the given entity types. A zero window
// uses DefaultWindow.
func NewDetector(ledger LatestLookup, window time.Duration, clock clockwork.Clock, entityTypes ...string) *Detector {
	if window <= 0 {
		window = DefaultWindow
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	known := make(map[string]bool, len(entityTypes))
	for _, t := range entityTypes {
		known[t] = true
	}
	return &Detector{
		ledger:     ledger,
		window:     window,
		clock:      clock,
		validators: make(map[string][]Validator),
		known:      known,
	}
}

// Register adds a validator for entityType.
func (d *Detector) Register(entityType string, v Validator) {
	d.known[entityType] = true
	d.validators[entityType] = append(d.validators[entityType], v)
}

// Window returns the concurrent-edit window.
func (d *Detector) Window() time.Duration {
	return d.window
}

// Detect returns the conflict raised by incoming, or nil when it is clean.
func (d *Detector) Detect(ctx context.Context, incoming models.ChangeRecord) (*models.Conflict, error) {
	if reason := d.validate(ctx, incoming); reason != nil {
		if !errors.Is(reason, ErrValidation) {
			return nil, reason
		}
		c := d.newConflict(incoming, nil, models.ConflictValidationError)
		c.Reason = reason.Error()
		return c, nil
	}

	latest, err := d.ledger.LatestChangeFor(ctx, incoming.EntityType, incoming.EntityID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest change: %w", err)
	}
	if latest == nil || latest.ChangeID == incoming.ChangeID {
		return nil, nil
	}

	incomingDelete := incoming.Operation == models.OperationDelete
	latestDelete := latest.Operation == models.OperationDelete
	if incomingDelete != latestDelete {
		c := d.newConflict(incoming, latest, models.ConflictDeleteConflict)
		c.Reason = fmt.Sprintf("%s against %s", incoming.Operation, latest.Operation)
		return c, nil
	}

	if incoming.Operation != models.OperationUpdate || latest.Operation != models.OperationUpdate {
		return nil, nil
	}
	if incoming.OriginID == latest.OriginID {
		return nil, nil
	}
	if abs(incoming.LocalTimestamp-latest.LocalTimestamp) > d.window.Milliseconds() {
		return nil, nil
	}

	overlap, err := overlappingFields(incoming, *latest)
	if err != nil {
		c := d.newConflict(incoming, nil, models.ConflictValidationError)
		c.Reason = err.Error()
		return c, nil
	}
	if len(overlap) == 0 {
		return nil, nil
	}

	c := d.newConflict(incoming, latest, models.ConflictConcurrentEdit)
	c.Reason = fmt.Sprintf("fields %v edited by %s and %s", overlap, incoming.OriginID, latest.OriginID)

	log.Debug().
		Str("entity_type", incoming.EntityType).
		Str("entity_id", incoming.EntityID.String()).
		Strs("fields", overlap).
		Msg("concurrent edit detected")
	return c, nil
}

func (d *Detector) validate(ctx context.Context, incoming models.ChangeRecord) error {
	if incoming.EntityType == models.EntityTimerState {
		return fmt.Errorf("%w: timer state is written only by the timer engine", ErrValidation)
	}
	if !d.known[incoming.EntityType] {
		return fmt.Errorf("%w: unknown entity type %q", ErrValidation, incoming.EntityType)
	}
	if !incoming.Operation.Valid() {
		return fmt.Errorf("%w: unknown operation %q", ErrValidation, incoming.Operation)
	}
	for _, v := range d.validators[incoming.EntityType] {
		if err := v.Validate(ctx, incoming); err != nil {
			return err
		}
	}
	return nil
}

func (d *Detector) newConflict(incoming models.ChangeRecord, latest *models.ChangeRecord, typ models.ConflictType) *models.Conflict {
	c := &models.Conflict{
		ConflictID:     uuid.New(),
		ChangeID:       incoming.ChangeID,
		OriginID:       incoming.OriginID,
		EntityType:     incoming.EntityType,
		EntityID:       incoming.EntityID,
		LocalOperation: incoming.Operation,
		LocalVersion:   incoming.Payload,
		ConflictType:   typ,
		DetectedAt:     d.clock.Now(),
	}
	if latest != nil {
		c.ServerOperation = latest.Operation
		c.ServerVersion = latest.Payload
	}
	return c
}

// overlappingFields returns the fields set by both changes.
func overlappingFields(a, b models.ChangeRecord) ([]string, error) {
	af, err := a.Fields()
	if err != nil {
		return nil, err
	}
	bf, err := b.Fields()
	if err != nil {
		return nil, err
	}
	var out []string
	for k := range af {
		if k == "id" {
			continue
		}
		if _, ok := bf[k]; ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
