package mapper

import "github.com/pkg/errors"

// Sentinel error kinds the Converter returns, wrapped with context via
// github.com/pkg/errors so callers can still errors.Is against them.
var (
	ErrUnknownDevice      = errors.New("unknown device")
	ErrUnregisteredDevice = errors.New("unregistered device")
	ErrMalformedFrame     = errors.New("malformed smartrest frame")
	ErrMalformedPayload   = errors.New("malformed command payload")
	ErrUnsupportedEntity  = errors.New("config operations unsupported for this entity")
	ErrCapabilityDisabled = errors.New("operation capability disabled")
)
