// Package platform holds small startup helpers shared by the storage backends.
package platform

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"
)

// ConnectAttempts bounds startup connection retries.
const ConnectAttempts = 5

// Connect retries fn with exponential backoff until it succeeds, the attempt
// budget is spent, or ctx is done. Every error is treated as retryable.
func Connect(ctx context.Context, what string, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(ConnectAttempts-1,
		retry.WithCappedDuration(5*time.Second, retry.NewExponential(250*time.Millisecond)))

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := fn(ctx); err != nil {
			log.Warn().Err(err).Str("target", what).Int("attempt", attempt).Msg("Connection attempt failed")
			return retry.RetryableError(err)
		}
		return nil
	})
}
