package nav

import (
	"errors"
	"fmt"
)

// Failure taxonomy shared by the build pipeline, the tile cache and the
// persistence codec. Callers match with errors.Is.
var ErrFailure = errors.New("operation failed")

var ErrAllocation = fmt.Errorf("%w: out of build memory", ErrFailure)
var ErrCorruptData = fmt.Errorf("%w: corrupt data", ErrFailure)
var ErrCapacityExceeded = fmt.Errorf("%w: capacity exceeded", ErrFailure)
var ErrConfigMismatch = fmt.Errorf("%w: data format mismatch", ErrFailure)
var ErrInvalidRef = fmt.Errorf("%w: invalid reference", ErrFailure)
var ErrDuplicateTile = fmt.Errorf("%w: tile location already occupied", ErrFailure)
