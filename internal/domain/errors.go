package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidInput    = errors.New("invalid input")
	ErrRateLimited     = errors.New("rate limited")
	ErrProviderFailure = errors.New("provider failure")
	ErrTerminal        = errors.New("generation already terminal")
)

// Error kinds recorded in ErrorContext.Kind.
const (
	ErrorKindProvider       = "provider_error"
	ErrorKindRateLimited    = "rate_limited"
	ErrorKindMalformed      = "malformed_response"
	ErrorKindTimeout        = "timeout"
	ErrorKindEmptyOutput    = "empty_output"
	ErrorKindTrigger        = "trigger_error"
	ErrorKindQueueExhausted = "queue_exhausted"
	ErrorKindUnknownModel   = "unknown_model"
	ErrorKindInternal       = "internal"
	ErrorKindWebhookTimeout = "webhook_timeout"
)
