package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), &Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}, func() error {
		calls++
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsMaxAttempts(t *testing.T) {
	calls := 0
	wantErr := errors.New("boom")
	err := Do(context.Background(), &Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}, func() error {
		calls++
		return wantErr
	}, nil)
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, &Config{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}, func() error {
		calls++
		return errors.New("boom")
	}, nil)
	assert.Error(t, err)
	assert.LessOrEqual(t, calls, 1)
}

func TestDoReportsEveryAttempt(t *testing.T) {
	var attempts []Attempt
	_ = Do(context.Background(), &Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}, func() error {
		return errors.New("boom")
	}, func(a Attempt) {
		attempts = append(attempts, a)
	})
	require.Len(t, attempts, 2)
	assert.Equal(t, 1, attempts[0].Number)
	assert.Equal(t, 2, attempts[1].Number)
}

func TestRemediationConfigMatchesSpec(t *testing.T) {
	cfg := RemediationConfig()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 4*time.Second, cfg.InitialDelay)
	assert.Equal(t, 10*time.Second, cfg.MaxDelay)
	assert.Equal(t, 1.0, cfg.Multiplier)
}
