package services

import (
	"errors"
	"fmt"

	"cardlottery/internal/storage"
)

// Errors
var (
	ErrNotFound            = storage.ErrNotFound
	ErrConflict            = storage.ErrConflict
	ErrInvalidSlot         = errors.New("slot index out of range")
	ErrAlreadyClaimed      = errors.New("slot already claimed")
	ErrAlreadyParticipated = errors.New("participant already drew in this lottery")
	ErrLotteryCompleted    = errors.New("lottery completed")
	ErrInventoryDrift      = errors.New("inventory does not match slots")
	ErrForbidden           = errors.New("only the creator may delete a lottery")
	ErrNotCompleted        = errors.New("lottery is still active")
)

// ValidationError reports malformed create-lottery input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
