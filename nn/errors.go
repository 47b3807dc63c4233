package nn

import "errors"

// Sentinel errors for unsupported configuration variants. Constructors wrap
// these with the offending name so callers can both match and report.
var (
	ErrUnknownActivation = errors.New("nn: unknown activation")
	ErrUnknownOptimizer  = errors.New("nn: unknown optimizer")
)
