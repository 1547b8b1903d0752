package resumable

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Conversly/chat-gateway/internal/utils"
)

// Retention bounds how long streams stay in the log.
type Retention struct {
	// MaxAge applies to every stream, finished or not.
	MaxAge time.Duration
	// FinishedGrace applies once a stream has finished; after that its
	// reply lives in the message store.
	FinishedGrace time.Duration
	Interval      time.Duration
}

// RunPruner prunes log every r.Interval until ctx is done. It prunes once
// immediately.
func RunPruner(ctx context.Context, log Log, r Retention) {
	if log == nil || r.Interval <= 0 {
		return
	}
	prune := func() {
		n, err := log.Prune(r.MaxAge, r.FinishedGrace)
		if err != nil {
			utils.Zlog.Warn("Failed to prune stream log", zap.Error(err))
			return
		}
		if n > 0 {
			utils.Zlog.Info("Pruned stream log", zap.Int("streams", n))
		}
	}

	prune()
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
