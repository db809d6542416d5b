package mirror

import (
	"context"
	"log/slog"
	"time"
)

// Refresher reloads the mirror on a fixed interval. It implements
// suture.Service so the supervisor restarts it if it ever returns early.
type Refresher struct {
	mirror   *Mirror
	interval time.Duration
	logger   *slog.Logger
}

func NewRefresher(m *Mirror, interval time.Duration, logger *slog.Logger) *Refresher {
	return &Refresher{mirror: m, interval: interval, logger: logger}
}

// Serve blocks until ctx is cancelled. A failed refresh is logged and retried
// on the next tick; the cached data stays in place meanwhile.
func (r *Refresher) Serve(ctx context.Context) error {
	if r.interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.mirror.Refresh(ctx); err != nil {
				r.logger.Warn("mirror refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Refresher) String() string { return "mirror-refresher" }
