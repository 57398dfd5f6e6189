package watchdog

import (
	"context"
	"log/slog"
	"time"
)

// Flow is a monitored capability driven by the periodic loop. RunOnce
// performs a single attempt: it opens a flow run, executes its steps and
// seals the run with the returned status.
type Flow interface {
	Name() string
	RunOnce(ctx context.Context) (Status, error)
}

// LoopConfig holds the per-flow schedule and retry budget.
type LoopConfig struct {
	Interval      time.Duration
	RetryLimit    int
	RetryInterval time.Duration
	Logger        *slog.Logger
}

// Loop drives flow forever: one retry-wrapped cycle, then a sleep, then the
// next cycle. It returns only when ctx is cancelled or the flow surfaces a
// logic error; logic errors are programming bugs and must terminate the
// offending loop rather than be silently swallowed.
func Loop(ctx context.Context, flow Flow, cfg LoopConfig) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("flow", flow.Name()))

	for {
		status, err := Retry(ctx, logger, cfg.RetryLimit, cfg.RetryInterval, flow.RunOnce)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("flow loop terminating", slog.String("error", err.Error()))
			return err
		}

		logger.Info("flow cycle complete",
			slog.String("status", status.String()),
			slog.Duration("next_in", cfg.Interval),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.Interval):
		}
	}
}
