package app

import (
	"context"

	"github.com/JakeFAU/sitearchiver/internal/replay"
)

// Serve replays every archive in the replay directory until ctx is
// cancelled.
func (a *App) Serve(ctx context.Context) error {
	return replay.Serve(ctx, replay.Config{
		Dir:        a.cfg.Replay.Dir,
		Host:       a.cfg.Replay.Host,
		FlushDelay: a.cfg.Replay.FlushDelay(),
		LiveFetch:  a.cfg.Replay.LiveFetch,
	}, a.fetcher(a.logger), a.logger)
}
