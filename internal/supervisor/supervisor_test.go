package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestRunRestartsFailingTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	sup := New(Options{MinDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, zerolog.Nop())

	err := sup.Run(ctx, "flaky", func(ctx context.Context) error {
		if runs.Add(1) == 3 {
			cancel()
			<-ctx.Done()
			return ctx.Err()
		}
		return errors.New("connection lost")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(3), runs.Load())
}

func TestRunRecoversPanics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	sup := New(Options{MinDelay: time.Millisecond, MaxDelay: time.Millisecond}, zerolog.Nop())

	err := sup.Run(ctx, "panicky", func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			panic("boom")
		}
		cancel()
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(2), runs.Load())
}

func TestRunStopsDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	sup := New(Options{MinDelay: time.Hour, MaxDelay: time.Hour}, zerolog.Nop())
	started := time.Now()
	err := sup.Run(ctx, "down", func(context.Context) error { return errors.New("down") })

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), time.Second)
}
