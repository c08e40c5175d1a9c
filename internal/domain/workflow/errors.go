package workflow

import "github.com/garyjia/evoucher/internal/apperrors"

// ErrInvalidTransition is returned when a state transition is not allowed
var ErrInvalidTransition = apperrors.ErrInvalidTransition
