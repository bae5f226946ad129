package relay

import "github.com/nesta-project/nesta/internal/apperror"

var (
	errZoneNotFound    = apperror.New(apperror.NotFound, "relay: zone not found")
	errSessionNotFound = apperror.New(apperror.NotFound, "relay: session not found")
	errZeroPort        = apperror.New(apperror.RequestParseError, "relay: zero port not allowed")
	errBadValueSize    = apperror.New(apperror.RequestParseError, "relay: value size must be >= 1")
)
