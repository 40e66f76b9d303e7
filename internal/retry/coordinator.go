package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/nivenlabs/subflow-backend/pkg/config"
	pkgerrors "github.com/nivenlabs/subflow-backend/pkg/errors"
	"github.com/nivenlabs/subflow-backend/pkg/logger"
	"github.com/nivenlabs/subflow-backend/pkg/metrics"
)

const jitterWindow = 100 * time.Millisecond

// Coordinator wraps gateway calls with bounded retries. Only errors the
// error table marks retryable (timeouts, 5xx, unreachable gateways) are
// retried; validation and signature failures surface immediately.
type Coordinator struct {
	cfg     config.RetryConfig
	logg    *logger.Logger
	metrics *metrics.PaymentMetrics

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a coordinator. Zero-value config fields fall back to
// conservative defaults.
func New(cfg config.RetryConfig, logg *logger.Logger, paymentMetrics *metrics.PaymentMetrics) *Coordinator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 250 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	return &Coordinator{
		cfg:     cfg,
		logg:    logg,
		metrics: paymentMetrics,
		sleep:   sleepCtx,
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, exhausts
// the attempt budget, or the context is cancelled. The last error is
// returned unwrapped so callers keep the typed code.
func (c *Coordinator) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	backoff := c.cfg.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = c.runAttempt(ctx, fn)
		if lastErr == nil {
			return nil
		}
		if !pkgerrors.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == c.cfg.MaxAttempts {
			break
		}

		if c.metrics != nil {
			c.metrics.IncRetryAttempt(operation)
		}
		if c.logg != nil {
			c.logg.Warn(c.logg.WithFields(ctx, map[string]any{
				"operation": operation,
				"attempt":   attempt,
				"backoff":   backoff.String(),
				"error":     lastErr.Error(),
			}), "retrying gateway operation")
		}

		if err := c.sleep(ctx, withJitter(backoff)); err != nil {
			return lastErr
		}
		backoff = nextBackoff(backoff, c.cfg.MaxBackoff)
	}
	return lastErr
}

func (c *Coordinator) runAttempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.cfg.PerAttemptTimeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.PerAttemptTimeout)
	defer cancel()
	return fn(attemptCtx)
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(rand.Int63n(int64(jitterWindow)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
