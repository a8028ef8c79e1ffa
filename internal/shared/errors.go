package shared

import "errors"

// ErrConflict indicates a uniqueness or concurrent-processing conflict.
// Domain packages wrap it with context before returning it upward.
var ErrConflict = errors.New("conflict")
