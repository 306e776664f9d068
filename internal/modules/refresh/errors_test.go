package refresh

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRejectionError(t *testing.T) {
	tests := []struct {
		reason RejectReason
		replay bool
	}{
		{RejectNotFound, false},
		{RejectExpired, false},
		{RejectRevoked, false},
		{RejectCompromised, false},
		{RejectRoleMismatch, false},
		{RejectRotated, true},
		{RejectRaced, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", reject(tt.reason))
			assert.ErrorIs(t, err, ErrInvalidToken)
			assert.Equal(t, tt.replay, IsReplay(err))
		})
	}

	assert.False(t, IsReplay(ErrInvalidToken))
	assert.False(t, IsReplay(errors.New("boom")))
	assert.False(t, IsReplay(nil))
}
