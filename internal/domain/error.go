package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Webhook verification / configuration
	ErrMissingSignature     = errors.New("No signature")
	ErrInvalidSignature     = errors.New("Invalid signature")
	ErrMissingWebhookSecret = errors.New("Missing webhook secret")
	ErrInvalidPayload       = errors.New("invalid event payload")

	// Reconciliation
	ErrLockBusy = errors.New("subscription is being reconciled by another delivery")
)

// PersistenceError reports a failed ledger, snapshot or access flag write.
// Writes completed before the failure are not rolled back.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Persistence wraps err as a *PersistenceError unless it is nil or already one.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
