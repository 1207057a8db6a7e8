package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// RunEvery calls fn on every tick until ctx is cancelled. Errors are logged
// and do not stop the loop.
func RunEvery(ctx context.Context, interval time.Duration, name string, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				log.Error().Err(err).Str("job", name).Msg("Background job failed")
			}
		}
	}
}
