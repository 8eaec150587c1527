// Package apierr provides the structured error taxonomy shared by every
// component of the gateway core, plus HTTP status mapping for the inbound
// API surface.
package apierr

import (
	"encoding/json"
	"fmt"

	"github.com/valyala/fasthttp"
)

// Kind is the exhaustive set of error classes a request may terminate with.
// Exactly one Kind escapes the pipeline for any failed request.
type Kind string

const (
	KindInvalidRequest Kind = "invalid_request"
	KindAuth           Kind = "auth"
	KindQuotaExceeded  Kind = "quota_exceeded"
	KindRateLimited    Kind = "rate_limited"
	KindNotFound       Kind = "not_found"
	KindCircuitOpen    Kind = "circuit_open"
	KindUpstream       Kind = "upstream"
	KindTimeout        Kind = "timeout"
	KindSafety         Kind = "safety"
	KindCancelled      Kind = "cancelled"
	KindInternal       Kind = "internal"
)

// Retryable reports whether the pipeline's retry loop should attempt this
// kind again (subject to maxRetries / retriesPerModel), per §7.
func (k Kind) Retryable() bool {
	switch k {
	case KindRateLimited, KindUpstream:
		return true
	case KindTimeout:
		return true // only per-attempt timeout; deadline exceeded is handled by the caller
	default:
		return false
	}
}

// Fallbackable reports whether the router may advance to the next candidate
// in the fallback chain after this kind, per §7/§4.I.
func (k Kind) Fallbackable() bool {
	switch k {
	case KindAuth, KindInvalidRequest, KindSafety, KindCancelled:
		return false
	default:
		return true
	}
}

// HTTPStatus maps a Kind to the inbound API's HTTP status code (§6/§7).
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidRequest:
		return fasthttp.StatusBadRequest
	case KindAuth:
		return fasthttp.StatusUnauthorized
	case KindQuotaExceeded:
		return fasthttp.StatusTooManyRequests
	case KindRateLimited:
		return fasthttp.StatusTooManyRequests
	case KindNotFound:
		return fasthttp.StatusNotFound
	case KindCircuitOpen:
		return fasthttp.StatusServiceUnavailable
	case KindUpstream:
		return fasthttp.StatusBadGateway
	case KindTimeout:
		return fasthttp.StatusGatewayTimeout
	case KindSafety:
		return fasthttp.StatusForbidden
	case KindCancelled:
		return 499 // client closed request; not a registered IANA status but widely used
	default:
		return fasthttp.StatusInternalServerError
	}
}

// Error is the structured error carried through the core and surfaced to
// callers. It satisfies the standard error interface.
type Error struct {
	Kind       Kind           `json:"code"`
	Message    string         `json:"message"`
	RequestID  string         `json:"requestId,omitempty"`
	RetryAfter int            `json:"retryAfter,omitempty"` // seconds; set for admission-related kinds
	Details    map[string]any `json:"details,omitempty"`
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind around a lower-level cause,
// preserving it for errors.Is/As traversal without leaking it to callers.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithRequestID attaches a correlation id and returns the receiver.
func (e *Error) WithRequestID(id string) *Error {
	e.RequestID = id
	return e
}

// WithRetryAfter attaches a retry-after hint in seconds and returns the receiver.
func (e *Error) WithRetryAfter(seconds int) *Error {
	e.RetryAfter = seconds
	return e
}

// WithDetail attaches a detail key/value and returns the receiver.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any, 1)
	}
	e.Details[key] = value
	return e
}

// Of extracts an *Error from err, or classifies it as Internal if err is not
// one already. Internal errors never leak their underlying message to callers.
func Of(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if As(err, &e) {
		return e
	}
	return Wrap(KindInternal, "unexpected internal error", err)
}

// As is a thin indirection over errors.As kept local to avoid importing the
// stdlib "errors" package purely for this one call site in every caller.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// legacy OpenAI-compatible envelope constants, kept for adapters that must
// mirror a specific upstream's wire error shape in passthrough mode.
const (
	TypeProviderError     = "provider_error"
	TypeRateLimitError    = "rate_limit_error"
	TypeInvalidRequest    = "invalid_request_error"
	TypeAuthenticationErr = "authentication_error"
	TypeServerError       = "server_error"

	CodeRateLimitExceeded = "rate_limit_exceeded"
	CodeInvalidAPIKey     = "invalid_api_key"
	CodeInternalError     = "internal_error"
	CodeProviderError     = "provider_error"
	CodeRequestTimeout    = "request_timeout"
	CodeNotImplemented    = "not_implemented"
	CodeInvalidRequest    = "invalid_request"
)

type legacyAPIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

type envelope struct {
	Error any `json:"error"`
}

// WriteJSON writes e to the fasthttp response using the exhaustive taxonomy
// shape: {error:{code,message,details?,requestId}}.
func WriteJSON(ctx *fasthttp.RequestCtx, e *Error) {
	ctx.SetStatusCode(e.HTTPStatus())
	ctx.SetContentType("application/json")
	if e.RetryAfter > 0 {
		ctx.Response.Header.Set("Retry-After", fmt.Sprintf("%d", e.RetryAfter))
	}
	body, _ := json.Marshal(envelope{Error: e})
	ctx.SetBody(body)
}

// Write writes a legacy OpenAI-shaped error envelope. Retained for adapters
// and tests that assert against the original wire format.
func Write(ctx *fasthttp.RequestCtx, status int, message, errType, code string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: legacyAPIError{
		Message: message,
		Type:    errType,
		Code:    code,
	}})
	ctx.SetBody(body)
}

// WriteProviderError maps a provider HTTP status to the appropriate gateway
// status and writes the exhaustive-taxonomy envelope.
func WriteProviderError(ctx *fasthttp.RequestCtx, providerStatus int, msg string) {
	WriteJSON(ctx, Of(ClassifyHTTPStatus(providerStatus, msg)))
}

// ClassifyHTTPStatus maps an upstream HTTP status to a Kind per §4.E's
// uniform failure-mapping table.
func ClassifyHTTPStatus(status int, msg string) *Error {
	switch {
	case status == fasthttp.StatusBadRequest:
		return New(KindInvalidRequest, msg)
	case status == fasthttp.StatusUnauthorized || status == fasthttp.StatusForbidden:
		return New(KindAuth, msg)
	case status == fasthttp.StatusNotFound:
		return New(KindNotFound, msg)
	case status == fasthttp.StatusRequestTimeout || status == fasthttp.StatusGatewayTimeout:
		return New(KindTimeout, msg)
	case status == fasthttp.StatusTooManyRequests:
		return New(KindRateLimited, msg).WithRetryAfter(60)
	case status >= 500 && status < 600:
		return New(KindUpstream, msg)
	default:
		return New(KindUpstream, msg)
	}
}

// WriteTimeout writes a timeout error in the exhaustive taxonomy shape.
func WriteTimeout(ctx *fasthttp.RequestCtx) {
	WriteJSON(ctx, New(KindTimeout, "provider request timed out"))
}

// WriteRateLimit writes a rate-limit error in the exhaustive taxonomy shape.
func WriteRateLimit(ctx *fasthttp.RequestCtx) {
	WriteJSON(ctx, New(KindRateLimited, "rate limit exceeded").WithRetryAfter(60))
}
