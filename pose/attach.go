package pose

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// BackoffConfig configures sensor (re)attachment retries.
type BackoffConfig struct {
	MaxRetries    int           // Maximum number of open attempts after the first (default: 5)
	RetryDelay    time.Duration // Initial retry delay (default: 250ms)
	MaxRetryDelay time.Duration // Retry delay cap (default: 5s)
}

// DefaultBackoffConfig returns default attach retry configuration.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		MaxRetries:    5,
		RetryDelay:    250 * time.Millisecond,
		MaxRetryDelay: 5 * time.Second,
	}
}

// OpenFunc opens the sensor device and returns its Source.
type OpenFunc func(ctx context.Context) (Source, error)

// AttachWithRetry opens the sensor device with exponential backoff and
// attaches it to the predictor.
//
// Exponential backoff schedule (default config):
//   - Attempt 1: 250ms
//   - Attempt 2: 500ms
//   - Attempt 3: 1s
//   - Attempt 4: 2s
//   - Attempt 5: 4s
//   - After 5 failures: give up
//
// While retrying, Predict keeps serving identity poses, so the compositor
// never waits on a device.
//
// Returns an error if max retries are exceeded or ctx is cancelled.
func (p *Predictor) AttachWithRetry(ctx context.Context, open OpenFunc, cfg BackoffConfig) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		src, err := open(ctx)
		if err == nil {
			p.AttachSource(src)
			if attempt > 0 {
				slog.Info("pose: sensor opened after retries", "attempts", attempt+1)
			}
			return nil
		}

		slog.Error("pose: sensor open failed", "error", err)

		attempt++
		if attempt > cfg.MaxRetries {
			return fmt.Errorf("pose: max retries exceeded (%d attempts): %w", cfg.MaxRetries, err)
		}

		delay := calculateBackoff(attempt, cfg)
		slog.Warn("pose: retrying sensor open",
			"attempt", attempt,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// calculateBackoff returns retryDelay * 2^(attempt-1), capped at MaxRetryDelay.
func calculateBackoff(attempt int, cfg BackoffConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		return cfg.MaxRetryDelay
	}
	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
	if cfg.MaxRetryDelay > 0 && delay > cfg.MaxRetryDelay {
		delay = cfg.MaxRetryDelay
	}
	return delay
}
