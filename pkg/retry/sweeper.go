package retry

import (
	"context"
	"log/slog"
	"time"
)

// Reconciler 由 intent.Service 实现
type Reconciler interface {
	ReconcilePending(ctx context.Context, limit int) (int, error)
}

// Sweeper 定期扫描 needs_reconcile 的意图，不依赖队列是否投递成功
type Sweeper struct {
	reconciler Reconciler
	interval   time.Duration
	batchSize  int
}

func NewSweeper(reconciler Reconciler, interval time.Duration, batchSize int) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Sweeper{reconciler: reconciler, interval: interval, batchSize: batchSize}
}

// Run 阻塞直到 ctx 结束
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("[Sweeper] Started", "interval", s.interval, "batch", s.batchSize)
	for {
		select {
		case <-ctx.Done():
			slog.Info("[Sweeper] Stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce 处理一批，返回成功数量
func (s *Sweeper) RunOnce(ctx context.Context) int {
	n, err := s.reconciler.ReconcilePending(ctx, s.batchSize)
	if err != nil {
		slog.Error("[Sweeper] Reconcile batch failed", "error", err)
	}
	return n
}
