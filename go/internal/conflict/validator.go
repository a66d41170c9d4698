package conflict

import (
	"context"
	"errors"
	"fmt"

	"github.com/mcdev12/pokerclock/go/internal/database"
	"github.com/mcdev12/pokerclock/go/internal/entity"
	"github.com/mcdev12/pokerclock/go/internal/models"
)

// Validator checks an incoming change before any timestamp comparison.
// Returning an error that wraps ErrValidation classifies the change as a
// validation_error conflict; any other error aborts detection.
type Validator interface {
	Validate(ctx context.Context, change models.ChangeRecord) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, change models.ChangeRecord) error

func (f ValidatorFunc) Validate(ctx context.Context, change models.ChangeRecord) error {
	return f(ctx, change)
}

// ReferenceValidator checks payload shape and that referenced tournaments
// exist, using the entity mapping table.
type ReferenceValidator struct {
	db    database.Provider
	store *entity.Store
}

// NewReferenceValidator creates a validator over the entity store.
func NewReferenceValidator(db database.Provider, store *entity.Store) *ReferenceValidator {
	return &ReferenceValidator{db: db, store: store}
}

func (v *ReferenceValidator) Validate(ctx context.Context, change models.ChangeRecord) error {
	if change.Operation == models.OperationDelete {
		return nil
	}
	create := change.Operation == models.OperationCreate
	if err := v.store.CheckPayload(change.EntityType, create, change.Payload); err != nil {
		return asValidation(err)
	}
	if err := v.store.CheckReferences(ctx, v.db.DB(), change.EntityType, change.Payload); err != nil {
		return asValidation(err)
	}
	return nil
}

func asValidation(err error) error {
	if errors.Is(err, entity.ErrInvalidPayload) ||
		errors.Is(err, entity.ErrMissingReference) ||
		errors.Is(err, entity.ErrUnknownEntity) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return err
}
