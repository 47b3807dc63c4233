package pfnet

import "errors"

// Variant-selection and shape-contract errors. All are raised at model
// construction (or on the first forward pass for batch-shape violations);
// the hot path never fails.
var (
	ErrUnknownKernel       = errors.New("pfnet: unknown node-pair kernel type")
	ErrUnknownMessageLayer = errors.New("pfnet: unknown message-passing layer type")
	ErrUnknownEncoding     = errors.New("pfnet: unknown input encoding")
	ErrUnknownSchema       = errors.New("pfnet: unknown schema")
	ErrUnknownLoss         = errors.New("pfnet: unknown loss")
	ErrUnknownWeightScheme = errors.New("pfnet: unknown sample-weight scheme")
	ErrUnknownPhase        = errors.New("pfnet: unknown trainable phase")
	ErrBadInputShape       = errors.New("pfnet: input tensor shape violates the configured contract")
)
