package presence

import (
	"context"
	"log/slog"
	"time"
)

// Track keeps userID online while ctx is alive by refreshing its record every
// interval, then marks it offline. It blocks until ctx is done.
func Track(ctx context.Context, store Store, userID string, interval time.Duration, log *slog.Logger) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	if err := store.MarkOnline(ctx, userID); err != nil {
		log.Warn("presence refresh failed", "user_id", userID, "err", err)
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			offCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := store.MarkOffline(offCtx, userID); err != nil {
				log.Warn("presence offline write failed", "user_id", userID, "err", err)
			}
			cancel()
			return
		case <-t.C:
			if err := store.MarkOnline(ctx, userID); err != nil {
				log.Warn("presence refresh failed", "user_id", userID, "err", err)
			}
		}
	}
}
