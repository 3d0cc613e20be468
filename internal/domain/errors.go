package domain

import (
	"errors"
	"fmt"
)

// User-facing error taxonomy. Every member except transient platform errors
// ends the triggering user action with a specific message.
var (
	ErrNotFound          = errors.New("item not found")
	ErrAmbiguous         = errors.New("ambiguous item")
	ErrIneligible        = errors.New("item ineligible")
	ErrValueUnavailable  = errors.New("value unavailable")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrInvalidCondition  = errors.New("invalid condition")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrNotInList         = errors.New("item not in list")
	ErrProtectedItem     = errors.New("protected item")
	ErrEmptyBasket       = errors.New("empty basket")
	ErrNotOwner          = errors.New("not ticket owner")
	ErrInvalidTransition = errors.New("invalid step transition")
	ErrUserNotFound      = errors.New("platform user not found")
	ErrNoExperience      = errors.New("no usable experience")
)

// UserError carries a taxonomy sentinel with the exact text shown to the user.
type UserError struct {
	Kind    error
	Title   string
	Message string
}

// NewUserError creates a UserError.
func NewUserError(kind error, title, message string) *UserError {
	return &UserError{Kind: kind, Title: title, Message: message}
}

// Errorf creates a UserError with a formatted message.
func Errorf(kind error, title, format string, args ...any) *UserError {
	return &UserError{Kind: kind, Title: title, Message: fmt.Sprintf(format, args...)}
}

func (e *UserError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the sentinel for errors.Is.
func (e *UserError) Unwrap() error {
	return e.Kind
}

// AsUserError extracts a UserError from err, if any.
func AsUserError(err error) (*UserError, bool) {
	var ue *UserError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
