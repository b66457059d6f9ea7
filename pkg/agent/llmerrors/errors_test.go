package llmerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type RateLimitError struct{}

func (RateLimitError) Error() string { return "slow down" }

func TestIsRateLimit(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"classified", NewError(ErrorTypeRateLimit, "quota"), true},
		{"status only", NewErrorWithStatus(ErrorTypeUnknown, 429, "x"), true},
		{"wrapped classified", fmt.Errorf("call: %w", NewError(ErrorTypeRateLimit, "")), true},
		{"text 429", errors.New("HTTP 429 from upstream"), true},
		{"text phrase", errors.New("Rate Limit reached for model"), true},
		{"type name", RateLimitError{}, true},
		{"auth", NewErrorWithStatus(ErrorTypeAuth, 401, "bad key"), false},
		{"plain", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRateLimit(tt.err))
		})
	}
}

func TestTypeForStatus(t *testing.T) {
	assert.Equal(t, ErrorTypeRateLimit, TypeForStatus(429))
	assert.Equal(t, ErrorTypeAuth, TypeForStatus(403))
	assert.Equal(t, ErrorTypeBadPrompt, TypeForStatus(400))
	assert.Equal(t, ErrorTypeTransient, TypeForStatus(503))
	assert.Equal(t, ErrorTypeUnknown, TypeForStatus(302))
}

func TestErrorFormattingAndUnwrap(t *testing.T) {
	cause := errors.New("eof")
	err := &Error{Type: ErrorTypeTransient, Endpoint: "primary", Err: cause}
	assert.Equal(t, "LLM error (transient, primary): eof", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrorTypeTransient, TypeOf(fmt.Errorf("x: %w", err)))
	assert.Equal(t, ErrorTypeUnknown, TypeOf(cause))
	assert.True(t, Is(err, ErrorTypeTransient))
}
