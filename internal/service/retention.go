package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kagari-lab/viewerqueue/internal/repository"
	"github.com/kagari-lab/viewerqueue/pkg/logger"
)

// RetentionSweeper 周期清理去重台账里超过 TTL 的行。
// 失败只记日志，永不向外传播。
type RetentionSweeper struct {
	dedup    repository.DedupRepository
	ttl      time.Duration
	interval time.Duration
	now      func() int64
}

func NewRetentionSweeper(dedup repository.DedupRepository, ttl, interval time.Duration) *RetentionSweeper {
	return &RetentionSweeper{
		dedup:    dedup,
		ttl:      ttl,
		interval: interval,
		now:      func() int64 { return time.Now().Unix() },
	}
}

// Start 启动清理循环，返回停止函数。
func (s *RetentionSweeper) Start() func() {
	stop := make(chan struct{})
	go s.loop(stop)
	return func() { close(stop) }
}

func (s *RetentionSweeper) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.SweepOnce(context.Background())
		}
	}
}

// SweepOnce 执行一次清理。
func (s *RetentionSweeper) SweepOnce(ctx context.Context) {
	cutoff := s.now() - int64(s.ttl/time.Second)
	n, err := s.dedup.PurgeBefore(ctx, cutoff)
	if err != nil {
		logger.Error("failed to purge processed messages", zap.Error(err))
		return
	}
	if n > 0 {
		logger.Info("purged processed messages", zap.Int64("deleted", n))
	}
}
