package errors

import (
	"errors"
	"net/http"
	"testing"
)

func TestServiceError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ServiceError
		want string
	}{
		{
			name: "error without underlying error",
			err:  New(ErrCodeInputValidation, "test message", http.StatusBadRequest),
			want: "[WALLET_INPUT_VALIDATION] test message",
		},
		{
			name: "error with underlying error",
			err:  Wrap(ErrCodeInternalInvariant, "test message", http.StatusInternalServerError, errors.New("underlying")),
			want: "[WALLET_INTERNAL_INVARIANT] test message: underlying",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestServiceError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(ErrCodeInternalInvariant, "test", http.StatusInternalServerError, underlying)

	if got := err.Unwrap(); got != underlying {
		t.Errorf("Unwrap() = %v, want %v", got, underlying)
	}
}

func TestServiceError_WithDetails(t *testing.T) {
	err := New(ErrCodeInputValidation, "test", http.StatusBadRequest)
	err.WithDetails("field", "account_id").WithDetails("reason", "too short")

	if len(err.Details) != 2 {
		t.Errorf("Details length = %d, want 2", len(err.Details))
	}

	if err.Details["field"] != "account_id" {
		t.Errorf("Details[field] = %v, want account_id", err.Details["field"])
	}

	if err.Details["reason"] != "too short" {
		t.Errorf("Details[reason] = %v, want too short", err.Details["reason"])
	}
}

func TestErrorCode_Retryable(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want bool
	}{
		{ErrCodeChainRPCError, true},
		{ErrCodeNonceContention, true},
		{ErrCodeVrfVerificationFailed, true},
		{ErrCodeInputValidation, false},
		{ErrCodeUserCancelled, false},
		{ErrCodeDecryptionFailed, false},
		{ErrCodeIntentDigestMismatch, false},
		{ErrCodeRelayUnavailable, false},
		{ErrCodeTimeoutExpired, false},
		{ErrCodeInternalInvariant, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.Retryable(); got != tt.want {
				t.Errorf("Retryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInputValidation(t *testing.T) {
	err := InputValidation("account_id", "missing top-level domain")

	if err.Code != ErrCodeInputValidation {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeInputValidation)
	}
	if err.HTTPStatus != http.StatusBadRequest {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusBadRequest)
	}
	if err.Details["field"] != "account_id" {
		t.Errorf("Details[field] = %v, want account_id", err.Details["field"])
	}
}

func TestUserCancelled(t *testing.T) {
	err := UserCancelled("webauthn-prf")

	if err.Code != ErrCodeUserCancelled {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeUserCancelled)
	}
	if err.Details["stage"] != "webauthn-prf" {
		t.Errorf("Details[stage] = %v, want webauthn-prf", err.Details["stage"])
	}
}

func TestDecryptionFailed(t *testing.T) {
	underlying := errors.New("authentication failed")
	err := DecryptionFailed(underlying)

	if err.Code != ErrCodeDecryptionFailed {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeDecryptionFailed)
	}
	if err.Err != underlying {
		t.Errorf("Err = %v, want %v", err.Err, underlying)
	}
}

func TestVrfVerificationFailed(t *testing.T) {
	err := VrfVerificationFailed("stale block hash")

	if err.Code != ErrCodeVrfVerificationFailed {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeVrfVerificationFailed)
	}
	if err.Details["reason"] != "stale block hash" {
		t.Errorf("Details[reason] = %v, want stale block hash", err.Details["reason"])
	}
}

func TestIntentDigestMismatch(t *testing.T) {
	err := IntentDigestMismatch("abc123", "def456")

	if err.Code != ErrCodeIntentDigestMismatch {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeIntentDigestMismatch)
	}
	if err.Details["displayed_digest"] != "abc123" {
		t.Errorf("Details[displayed_digest] = %v, want abc123", err.Details["displayed_digest"])
	}
	if err.Details["signing_digest"] != "def456" {
		t.Errorf("Details[signing_digest] = %v, want def456", err.Details["signing_digest"])
	}
}

func TestNonceContention(t *testing.T) {
	err := NonceContention("alice.near", "ed25519:abc")

	if err.Code != ErrCodeNonceContention {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeNonceContention)
	}
	if err.HTTPStatus != http.StatusConflict {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusConflict)
	}
}

func TestChainRPCError(t *testing.T) {
	t.Run("transient", func(t *testing.T) {
		underlying := errors.New("rpc timeout")
		err := ChainRPCError("view_access_key", false, underlying)

		if err.Code != ErrCodeChainRPCError {
			t.Errorf("Code = %v, want %v", err.Code, ErrCodeChainRPCError)
		}
		if err.HTTPStatus != http.StatusServiceUnavailable {
			t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusServiceUnavailable)
		}
	})

	t.Run("fatal client error", func(t *testing.T) {
		underlying := errors.New("nonce already used")
		err := ChainRPCError("broadcast_tx_commit", true, underlying)

		if err.HTTPStatus != http.StatusBadRequest {
			t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusBadRequest)
		}
		if err.Details["fatal"] != true {
			t.Errorf("Details[fatal] = %v, want true", err.Details["fatal"])
		}
	})
}

func TestRelayUnavailable(t *testing.T) {
	underlying := errors.New("connection refused")
	err := RelayUnavailable("/threshold-ed25519/sign", underlying)

	if err.Code != ErrCodeRelayUnavailable {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeRelayUnavailable)
	}
	if err.HTTPStatus != http.StatusBadGateway {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusBadGateway)
	}
}

func TestTimeoutExpired(t *testing.T) {
	err := TimeoutExpired("sign_transactions_with_actions")

	if err.Code != ErrCodeTimeoutExpired {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeTimeoutExpired)
	}
	if err.HTTPStatus != http.StatusGatewayTimeout {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusGatewayTimeout)
	}
}

func TestInternalInvariant(t *testing.T) {
	underlying := errors.New("session map entry missing state")
	err := InternalInvariant("session state must be one of Locked/Unlocked/Cleared", underlying)

	if err.Code != ErrCodeInternalInvariant {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeInternalInvariant)
	}
	if err.HTTPStatus != http.StatusInternalServerError {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusInternalServerError)
	}
}

func TestIsServiceError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "service error",
			err:  New(ErrCodeInternalInvariant, "test", http.StatusInternalServerError),
			want: true,
		},
		{
			name: "standard error",
			err:  errors.New("standard error"),
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsServiceError(tt.err); got != tt.want {
				t.Errorf("IsServiceError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetServiceError(t *testing.T) {
	serviceErr := New(ErrCodeInternalInvariant, "test", http.StatusInternalServerError)
	standardErr := errors.New("standard error")

	tests := []struct {
		name string
		err  error
		want *ServiceError
	}{
		{
			name: "service error",
			err:  serviceErr,
			want: serviceErr,
		},
		{
			name: "standard error",
			err:  standardErr,
			want: nil,
		},
		{
			name: "nil error",
			err:  nil,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetServiceError(tt.err)
			if got != tt.want {
				t.Errorf("GetServiceError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "service error",
			err:  New(ErrCodeInputValidation, "test", http.StatusBadRequest),
			want: http.StatusBadRequest,
		},
		{
			name: "standard error",
			err:  errors.New("standard error"),
			want: http.StatusInternalServerError,
		},
		{
			name: "nil error",
			err:  nil,
			want: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetHTTPStatus(tt.err); got != tt.want {
				t.Errorf("GetHTTPStatus() = %v, want %v", got, tt.want)
			}
		})
	}
}
