package core

import (
	"errors"
	"fmt"
	"testing"

	"escalator/internal/types"
)

func TestIsRecipientBlocked(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"sentinel", ErrRecipientBlocked, true},
		{"wrapped sentinel", fmt.Errorf("send: %w", ErrRecipientBlocked), true},
		{"app error", types.NewAppError(types.ErrCodeRecipientBlocked, "suppressed", nil), true},
		{"wrapped app error", fmt.Errorf("twilio: %w", types.NewAppError(types.ErrCodeRecipientBlocked, "STOP", nil)), true},
		{"other app error", types.NewAppError(types.ErrCodeUpstreamUnavailable, "down", nil), false},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRecipientBlocked(tt.err); got != tt.want {
				t.Errorf("IsRecipientBlocked(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
