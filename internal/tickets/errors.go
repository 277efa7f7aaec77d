package tickets

import (
	"errors"
	"strings"

	"github.com/joescharf/ticketdesk/internal/store"
)

// ValidationError reports caller input the service refuses to act on.
type ValidationError struct {
	Message  string
	Required []string
}

func (e *ValidationError) Error() string {
	if len(e.Required) > 0 {
		return e.Message + ": " + strings.Join(e.Required, ", ")
	}
	return e.Message
}

func missingFields(fields ...string) *ValidationError {
	return &ValidationError{Message: "Missing required fields", Required: fields}
}

// StoreError wraps a data-access failure. Its message is the store's message.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return e.Err.Error() }

func (e *StoreError) Unwrap() error { return e.Err }

// wrapStoreErr passes through the store's classification sentinels and wraps anything else.
func wrapStoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrConflict) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
