package policy

import (
	"errors"
	"fmt"
)

// ErrNotPersisted is returned (wrapped) when an update was applied in memory
// but the saver failed to write it.
var ErrNotPersisted = errors.New("policy not persisted")

// ValidationError rejects a configuration value. The policy it was aimed at
// is left unchanged.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
