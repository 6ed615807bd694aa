package dispatch

import (
	"context"
	"time"

	"stego_chat/internal/utils/log"

	"go.uber.org/zap"
)

// PruneOnce removes retired envelopes older than the retention window.
func (e *Engine) PruneOnce(ctx context.Context) (int, error) {
	return e.store.Prune(ctx, e.now().Add(-e.cfg.Retention))
}

// RunJanitor prunes on every tick until ctx is done.
func (e *Engine) RunJanitor(ctx context.Context) {
	interval := e.cfg.PruneInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := e.PruneOnce(ctx)
			if err != nil {
				log.Error("prune failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("pruned envelopes", zap.Int("count", n))
			}
		}
	}
}
