package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mediagen/internal/domain"
)

// DefaultRetryAfter applies when a rate-limit response carries no hint.
const DefaultRetryAfter = 60 * time.Second

// Error is a classified provider failure. Kind is one of the domain.ErrorKind* values.
type Error struct {
	Provider   string
	Kind       string
	StatusCode int
	RetryAfter time.Duration
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return domain.ErrProviderFailure
}

// AsError extracts a provider error from err.
func AsError(err error) (*Error, bool) {
	var perr *Error
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}

// IsRateLimited reports whether err is a provider rate-limit rejection.
func IsRateLimited(err error) bool {
	perr, ok := AsError(err)
	return ok && perr.Kind == domain.ErrorKindRateLimited
}

// KindOf classifies any error returned by a provider call.
func KindOf(err error) string {
	if perr, ok := AsError(err); ok {
		return perr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrorKindTimeout
	}
	return domain.ErrorKindProvider
}

// RateLimited builds a synthetic rate-limit error.
func RateLimited(provider string, retryAfter time.Duration, message string) *Error {
	return &Error{
		Provider:   provider,
		Kind:       domain.ErrorKindRateLimited,
		StatusCode: http.StatusTooManyRequests,
		RetryAfter: retryAfter,
		Message:    message,
		Err:        domain.ErrRateLimited,
	}
}

// Malformed wraps a decoding failure.
func Malformed(provider string, err error) *Error {
	return &Error{Provider: provider, Kind: domain.ErrorKindMalformed, Message: err.Error(), Err: err}
}

// Transport classifies a failed round trip.
func Transport(provider string, err error) *Error {
	kind := domain.ErrorKindProvider
	if errors.Is(err, context.DeadlineExceeded) {
		kind = domain.ErrorKindTimeout
	} else {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			kind = domain.ErrorKindTimeout
		}
	}
	return &Error{Provider: provider, Kind: kind, Message: err.Error(), Err: err}
}

// FromResponse classifies a non-success HTTP response. HTTP 429 and
// RESOURCE_EXHAUSTED bodies become rate-limit errors honouring Retry-After.
func FromResponse(provider string, resp *http.Response, body []byte) *Error {
	msg := errorMessage(body)
	if resp.StatusCode == http.StatusTooManyRequests || strings.Contains(string(body), "RESOURCE_EXHAUSTED") {
		retry := parseRetryAfter(resp.Header.Get("Retry-After"))
		if retry <= 0 {
			retry = DefaultRetryAfter
		}
		e := RateLimited(provider, retry, msg)
		e.StatusCode = resp.StatusCode
		return e
	}
	return &Error{Provider: provider, Kind: domain.ErrorKindProvider, StatusCode: resp.StatusCode, Message: msg}
}

func errorMessage(body []byte) string {
	var payload struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
		Detail  string          `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		var nested struct {
			Message string `json:"message"`
		}
		if len(payload.Error) > 0 {
			if json.Unmarshal(payload.Error, &nested) == nil && nested.Message != "" {
				return nested.Message
			}
			var s string
			if json.Unmarshal(payload.Error, &s) == nil && s != "" {
				return s
			}
		}
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Detail != "" {
			return payload.Detail
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 512 {
		text = text[:512]
	}
	if text == "" {
		return "empty response"
	}
	return text
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		return time.Until(at).Round(time.Second)
	}
	return 0
}
