package runtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/loqalabs/recon/internal/config"
)

func retention(cfg config.StorageConfig) time.Duration {
	if cfg.RetentionMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(cfg.RetentionMinutes) * time.Minute
}

// runSweeper expires sessions and prunes the journal every interval until
// ctx is done.
func runSweeper(ctx context.Context, c *components, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepOnce(ctx, c, logger)
		}
	}
}

func sweepOnce(ctx context.Context, c *components, logger *slog.Logger) {
	c.service.Sweep(ctx)
	if err := c.journal.Prune(ctx); err != nil {
		logger.Warn("journal prune failed", slog.String("error", err.Error()))
	}
}
