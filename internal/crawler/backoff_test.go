package crawler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{attempts: 0, want: 2 * time.Minute},
		{attempts: 1, want: 2 * time.Minute},
		{attempts: 2, want: 4 * time.Minute},
		{attempts: 3, want: 8 * time.Minute},
		{attempts: 4, want: 16 * time.Minute},
		{attempts: 5, want: 32 * time.Minute},
		{attempts: 6, want: 64 * time.Minute},
		{attempts: 7, want: 64 * time.Minute},
		{attempts: 100, want: 64 * time.Minute},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, backoffDelay(tt.attempts), "attempts=%d", tt.attempts)
	}
}

func TestBackoffDelay_Monotonic(t *testing.T) {
	prev := time.Duration(0)
	for attempts := 1; attempts <= 20; attempts++ {
		d := backoffDelay(attempts)
		assert.GreaterOrEqual(t, d, prev, "attempts=%d", attempts)
		assert.LessOrEqual(t, d, 64*time.Minute, "attempts=%d", attempts)
		prev = d
	}
}

func TestClampPriority(t *testing.T) {
	assert.Equal(t, 40, clampPriority(10))
	assert.Equal(t, 45, clampPriority(45))
	assert.Equal(t, 60, clampPriority(99))
}
