package watchdog

import (
	"context"
	"log/slog"
	"time"
)

// Attempt is one full execution of a flow, returning its terminal status.
// Chain and network failures must be converted to StatusFail inside the
// attempt; only logic errors (and context cancellation) come back as err.
type Attempt func(ctx context.Context) (Status, error)

// Retry invokes attempt until it returns StatusOK or StatusSkip, or until
// limit FAIL outcomes have been consumed. A SKIP terminates the loop
// immediately without consuming the budget: admission control is a policy
// decision, not a transient fault. On exhaustion the final status is
// returned silently: the status metric already reflects the last attempt,
// and alerting is an external, threshold-based responsibility.
func Retry(ctx context.Context, logger *slog.Logger, limit int, interval time.Duration, attempt Attempt) (Status, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if limit < 1 {
		limit = 1
	}

	status := StatusFail
	for i := 0; i < limit; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return StatusFail, ctx.Err()
			case <-time.After(interval):
			}
		}

		s, err := attempt(ctx)
		if err != nil {
			if IsLogicError(err) || ctx.Err() != nil {
				return StatusFail, err
			}
			// Attempts are expected to convert chain failures into a
			// status themselves; an escaped error still only burns one
			// retry.
			logger.Warn("attempt returned an error, counting as failure",
				slog.Int("attempt", i+1),
				slog.String("error", err.Error()),
			)
			s = StatusFail
		}

		status = s
		if s == StatusOK || s == StatusSkip {
			return s, nil
		}

		logger.Warn("flow attempt failed",
			slog.Int("attempt", i+1),
			slog.Int("limit", limit),
		)
	}

	return status, nil
}
