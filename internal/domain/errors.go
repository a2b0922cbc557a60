package domain

import "errors"

var (
	ErrProviderNotFound    = errors.New("provider not found")
	ErrMissingAPIKey       = errors.New("missing API key")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrModelNotFound       = errors.New("model not found in registry")
	ErrMediaUnsupported    = errors.New("model does not support the requested media")
	ErrBudgetExceeded      = errors.New("budget exceeded")
	ErrEstimateUnavailable = errors.New("cost estimate unavailable")
	ErrCircuitBreakerOpen  = errors.New("circuit breaker open")
	ErrMalformedStream     = errors.New("malformed stream payload")
	ErrUnsupported         = errors.New("operation not supported by provider")
	ErrPollTimeout         = errors.New("operation polling timed out")
)
