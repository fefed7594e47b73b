package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"
)

// RunFunc is a long-lived task. Returning nil or an error before ctx is done
// counts as a crash.
type RunFunc func(ctx context.Context) error

// Options tune restart behaviour.
type Options struct {
	MinDelay time.Duration
	MaxDelay time.Duration
	// StableAfter resets the backoff when a run lasted at least this long.
	StableAfter time.Duration
}

// Supervisor restarts a task until its context is cancelled.
type Supervisor struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Supervisor instance.
func New(opts Options, logger zerolog.Logger) *Supervisor {
	if opts.MinDelay <= 0 {
		opts.MinDelay = 5 * time.Second
	}
	if opts.MaxDelay < opts.MinDelay {
		opts.MaxDelay = opts.MinDelay
	}
	if opts.StableAfter <= 0 {
		opts.StableAfter = opts.MaxDelay
	}
	return &Supervisor{opts: opts, logger: logger.With().Str("component", "supervisor").Logger()}
}

// Run blocks, restarting task after every failure until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context, name string, task RunFunc) error {
	b := &backoff.Backoff{
		Min:    s.opts.MinDelay,
		Max:    s.opts.MaxDelay,
		Factor: 2,
		Jitter: true,
	}
	logger := s.logger.With().Str("task", name).Logger()

	for {
		started := time.Now()
		err := s.runOnce(ctx, task)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(started) >= s.opts.StableAfter {
			b.Reset()
		}

		delay := b.Duration()
		if err == nil {
			err = errors.New("task returned without error")
		}
		logger.Error().Err(err).Dur("restart_in", delay).Msg("task stopped; restarting")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context, task RunFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("task panicked")
			err = errors.New("task panicked")
		}
	}()
	return task(ctx)
}
