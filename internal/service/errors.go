package service

import (
	"context"
	"errors"
	"fmt"

	"medstock/backend/internal/domain"
	"medstock/backend/internal/store"
)

var ErrForbidden = errors.New("forbidden role")

// ValidationError reports input that cannot be accepted as given.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// InvalidStateError is returned when an operation is not allowed from the
// entry's current status.
type InvalidStateError struct {
	ID     string
	Status domain.StockStatus
	Op     string
}

func (e *InvalidStateError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("cannot %s stock entry %s: status changed concurrently", e.Op, e.ID)
	}
	return fmt.Sprintf("cannot %s stock entry %s: status is %s", e.Op, e.ID, e.Status)
}

// StoreUnavailableError wraps a persistence failure that the caller may retry.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s, please retry", e.Op)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

func invalid(field string, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// translateStoreError maps repository sentinels onto the service error types.
func translateStoreError(op string, entity string, id string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return &NotFoundError{Entity: entity, ID: id}
	case errors.Is(err, store.ErrStatusConflict):
		return &InvalidStateError{ID: id, Op: op}
	case errors.Is(err, store.ErrDuplicate):
		return &ValidationError{Field: entity, Reason: "already exists"}
	case errors.Is(err, store.ErrInvalidRecord):
		return &ValidationError{Field: entity, Reason: "record is incomplete"}
	case errors.Is(err, context.Canceled):
		return err
	default:
		return &StoreUnavailableError{Op: op, Err: err}
	}
}
