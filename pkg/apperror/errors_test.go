package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appErr   *AppError
		expected string
	}{
		{
			name:     "without wrapped error",
			appErr:   New("PAY_004", "payment not found", http.StatusNotFound),
			expected: "[PAY_004] payment not found",
		},
		{
			name:     "with wrapped error",
			appErr:   Wrap("SYS_001", "DB error", http.StatusInternalServerError, fmt.Errorf("connection refused")),
			expected: "[SYS_001] DB error: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.appErr.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("inner error")
	appErr := Wrap("SYS_001", "wrapped", http.StatusInternalServerError, inner)

	assert.True(t, errors.Is(appErr, inner))
}

func TestAppError_IsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("initiate: %w", ErrGatewayUnavailable(fmt.Errorf("timeout")))

	assert.True(t, errors.Is(err, ErrGatewayUnavailable(nil)))
	assert.False(t, errors.Is(err, ErrInvalidSignature()))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, "PAY_006", CodeOf(fmt.Errorf("x: %w", ErrInvalidState("bad"))))
	assert.Equal(t, "", CodeOf(fmt.Errorf("plain")))
}

func TestRetryableClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       *AppError
		code      string
		status    int
		retryable bool
	}{
		{"Validation", Validation("bad"), "VAL_001", 400, false},
		{"AmountExceedsRemaining", ErrAmountExceedsRemaining(), "PAY_007", 400, false},
		{"NotFound", ErrNotFound("payment"), "PAY_004", 404, false},
		{"InvalidSignature", ErrInvalidSignature(), "SEC_002", 401, false},
		{"InvalidState", ErrInvalidState("x"), "PAY_006", 409, false},
		{"PaymentMismatch", ErrPaymentMismatch(), "PAY_008", 409, false},
		{"RequestInProgress", ErrRequestInProgress(), "PAY_009", 409, true},
		{"GatewayUnavailable", ErrGatewayUnavailable(nil), "GW_001", 502, true},
		{"RateLimit", ErrRateLimitExceeded(), "RATE_001", 429, true},
		{"PersistenceFailure", ErrPersistenceFailure(nil), "SYS_002", 500, false},
		{"Internal", InternalError(nil), "SYS_001", 500, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.HTTPStatus)
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func TestNotFound_MessageIncludesEntity(t *testing.T) {
	assert.Equal(t, "payment not found", ErrNotFound("payment").Message)
}
