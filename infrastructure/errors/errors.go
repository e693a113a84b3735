// Package errors provides the wallet engine's structured error type, one
// ErrorCode family per error kind named in the orchestrator's error-handling
// design: fail-fast kinds that never retry, transient kinds the caller or a
// resilience wrapper may retry, and fatal kinds that always surface.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies an error kind.
type ErrorCode string

const (
	ErrCodeInputValidation      ErrorCode = "WALLET_INPUT_VALIDATION"
	ErrCodeUserCancelled        ErrorCode = "WALLET_USER_CANCELLED"
	ErrCodeDecryptionFailed     ErrorCode = "WALLET_DECRYPTION_FAILED"
	ErrCodeVrfVerificationFailed ErrorCode = "WALLET_VRF_VERIFICATION_FAILED"
	ErrCodeIntentDigestMismatch ErrorCode = "WALLET_INTENT_DIGEST_MISMATCH"
	ErrCodeNonceContention      ErrorCode = "WALLET_NONCE_CONTENTION"
	ErrCodeChainRPCError        ErrorCode = "WALLET_CHAIN_RPC_ERROR"
	ErrCodeRelayUnavailable     ErrorCode = "WALLET_RELAY_UNAVAILABLE"
	ErrCodeTimeoutExpired       ErrorCode = "WALLET_TIMEOUT_EXPIRED"
	ErrCodeInternalInvariant    ErrorCode = "WALLET_INTERNAL_INVARIANT"
	ErrCodeNotFound             ErrorCode = "WALLET_NOT_FOUND"
)

// Retryable reports whether a caller may retry a request that failed with
// this error kind. ChainRpcError, NonceContention and VrfVerificationFailed
// are the only kinds that default to retryable; InputValidation,
// UserCancelled, DecryptionFailed, IntentDigestMismatch, RelayUnavailable and
// InternalInvariant never are.
func (c ErrorCode) Retryable() bool {
	switch c {
	case ErrCodeChainRPCError, ErrCodeNonceContention, ErrCodeVrfVerificationFailed:
		return true
	default:
		return false
	}
}

// ServiceError is a structured error carrying a kind, an HTTP status for the
// outward-facing API, and a details map for diagnosis. Details never carry
// secret material (PRF output, private key seeds, wrap keys).
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails adds a diagnostic field and returns the receiver for chaining.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus}
}

func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

// InputValidation: bad account format, missing required field, malformed
// action. Fail fast, never retried, surfaced with the offending field name.
func InputValidation(field, reason string) *ServiceError {
	return New(ErrCodeInputValidation, "invalid input", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("reason", reason)
}

// UserCancelled: WebAuthn cancel or UI cancel. Terminal, not retried, and
// should be surfaced to the caller as a distinct non-error outcome rather
// than propagated as a failure.
func UserCancelled(stage string) *ServiceError {
	return New(ErrCodeUserCancelled, "user cancelled", http.StatusConflict).
		WithDetails("stage", stage)
}

// DecryptionFailed: wrong PRF, corrupted blob, or wrong account binding.
// Fatal; never retried with a different PRF for the same request.
func DecryptionFailed(err error) *ServiceError {
	return Wrap(ErrCodeDecryptionFailed, "decryption failed", http.StatusUnprocessableEntity, err)
}

// VrfVerificationFailed: the contract rejected the proof. Fatal for this
// request; the caller may retry with a freshly generated challenge since a
// stale block hash is a common cause.
func VrfVerificationFailed(reason string) *ServiceError {
	return New(ErrCodeVrfVerificationFailed, "vrf proof verification failed", http.StatusUnprocessableEntity).
		WithDetails("reason", reason)
}

// IntentDigestMismatch: the digest computed by the Signer Agent over the
// signing-time action list does not match the digest the Confirmation UI
// Agent displayed to the user. Fatal; both digests are attached for
// diagnosis.
func IntentDigestMismatch(displayedDigest, signingDigest string) *ServiceError {
	return New(ErrCodeIntentDigestMismatch, "intent digest mismatch", http.StatusConflict).
		WithDetails("displayed_digest", displayedDigest).
		WithDetails("signing_digest", signingDigest)
}

// NonceContention: the optimistic nonce reservation for (account, public_key)
// could not be acquired. Transient; caller releases and retries with a fresh
// nonce.
func NonceContention(account, publicKey string) *ServiceError {
	return New(ErrCodeNonceContention, "nonce reservation contention", http.StatusConflict).
		WithDetails("account", account).
		WithDetails("public_key", publicKey)
}

// ChainRPCError: the NEAR RPC call failed. Retried with bounded exponential
// backoff except for explicit client errors (nonce already used, insufficient
// balance), which are fatal; callers distinguish via the fatal argument.
func ChainRPCError(operation string, fatal bool, err error) *ServiceError {
	status := http.StatusServiceUnavailable
	if fatal {
		status = http.StatusBadRequest
	}
	return Wrap(ErrCodeChainRPCError, "chain rpc call failed", status, err).
		WithDetails("operation", operation).
		WithDetails("fatal", fatal)
}

// RelayUnavailable: the threshold-signing relay could not be reached. Fatal
// under signer_mode.behavior=strict; triggers one local-signer fallback
// under behavior=fallback (the caller decides which, this constructor only
// reports the failure).
func RelayUnavailable(route string, err error) *ServiceError {
	return Wrap(ErrCodeRelayUnavailable, "relay unavailable", http.StatusBadGateway, err).
		WithDetails("route", route)
}

// TimeoutExpired: an operation exceeded its deadline. The caller must cancel
// downstream agents and release any held nonce reservations.
func TimeoutExpired(operation string) *ServiceError {
	return New(ErrCodeTimeoutExpired, "operation timed out", http.StatusGatewayTimeout).
		WithDetails("operation", operation)
}

// NotFound: no row exists for the requested key in internal/store's
// persisted state layout. Fatal for this request; never retried.
func NotFound(resource, key string) *ServiceError {
	return New(ErrCodeNotFound, resource+" not found", http.StatusNotFound).
		WithDetails("key", key)
}

// InternalInvariant: a condition the code assumes can never happen did.
// Surfaced, never silently recovered.
func InternalInvariant(invariant string, err error) *ServiceError {
	return Wrap(ErrCodeInternalInvariant, "internal invariant violated", http.StatusInternalServerError, err).
		WithDetails("invariant", invariant)
}

// IsServiceError reports whether err is, or wraps, a *ServiceError.
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a *ServiceError from an error chain, or nil.
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// GetHTTPStatus returns the HTTP status for an error, defaulting to 500 for
// errors that are not a *ServiceError.
func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
