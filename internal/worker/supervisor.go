package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/murmur/internal/metrics"
)

const (
	minRestartDelay = 100 * time.Millisecond
	maxRestartDelay = 30 * time.Second
	// A task that ran at least this long before failing restarts at the minimum delay.
	stableRunTime = time.Minute
)

// Supervise runs task until ctx is cancelled, restarting it with capped
// exponential backoff whenever it returns or panics. It returns ctx.Err().
func Supervise(ctx context.Context, name string, task func(context.Context) error, logger zerolog.Logger) error {
	logger = logger.With().Str("task", name).Logger()
	delay := minRestartDelay

	for {
		started := time.Now()
		err := runProtected(ctx, task)
		if ctx.Err() != nil {
			logger.Info().Msg("supervised task stopped")
			return ctx.Err()
		}

		if time.Since(started) >= stableRunTime {
			delay = minRestartDelay
		}
		metrics.WorkerRestarts.Inc()
		logger.Error().Err(err).Dur("restart_in", delay).Msg("supervised task exited unexpectedly")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxRestartDelay {
			delay = maxRestartDelay
		}
	}
}

func runProtected(ctx context.Context, task func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	if err := task(ctx); err != nil {
		return err
	}
	return fmt.Errorf("task returned without error")
}
