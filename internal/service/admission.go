package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/kagari-lab/viewerqueue/config"
	"github.com/kagari-lab/viewerqueue/internal/repository"
	"github.com/kagari-lab/viewerqueue/pkg/logger"
)

// RedemptionEvent 通知载荷中的兑换事件。
type RedemptionEvent struct {
	UserID    string `json:"user_id"`
	UserLogin string `json:"user_login"`
	UserName  string `json:"user_name"`
	Reward    struct {
		ID    string `json:"id"`
		Title string `json:"title"`
		Cost  int64  `json:"cost"`
	} `json:"reward"`
}

type notificationPayload struct {
	Event RedemptionEvent `json:"event"`
}

// Admission 准入管线：去重 → 触发过滤 → 成员检查 → 头像补全 → 入队。
// message_id 在产生副作用之前登记，接受"崩溃丢单"换取 at-most-once 入队。
type Admission struct {
	dedup    repository.DedupRepository
	queue    QueueService
	profiles ProfileService
	cfg      config.TwitchConfig
	now      func() int64
}

func NewAdmission(dedup repository.DedupRepository, queue QueueService, profiles ProfileService, cfg config.TwitchConfig) *Admission {
	return &Admission{
		dedup:    dedup,
		queue:    queue,
		profiles: profiles,
		cfg:      cfg,
		now:      func() int64 { return time.Now().Unix() },
	}
}

// HandleNotification 处理一条上游通知。预期内的丢弃（重复、非目标奖励等）
// 记日志即返回 nil；只有存储失败会返回错误。
func (a *Admission) HandleNotification(ctx context.Context, accessToken, messageID string, payload []byte) error {
	fresh, err := a.dedup.MarkIfNew(ctx, messageID, a.now())
	if err != nil {
		return err
	}
	if !fresh {
		logger.Debug("duplicate notification ignored", zap.String("message_id", messageID))
		return nil
	}

	var p notificationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		logger.Warn("failed to parse notification payload", zap.Error(err))
		return nil
	}
	ev := p.Event

	if a.cfg.CancelRewardID != "" && ev.Reward.ID == a.cfg.CancelRewardID {
		removed, err := a.queue.CancelByUser(ctx, ev.UserID)
		if err != nil {
			return err
		}
		logger.Info("cancel reward redeemed",
			zap.String("user_id", ev.UserID), zap.Bool("removed", removed))
		return nil
	}

	if a.cfg.TargetRewardID == "" {
		// 观察模式：记录但不入队
		logger.Info("received redemption (target reward not set; not enqueuing)",
			zap.String("reward_id", ev.Reward.ID),
			zap.String("reward_title", ev.Reward.Title),
			zap.String("user", ev.UserName))
		return nil
	}
	if ev.Reward.ID != a.cfg.TargetRewardID {
		logger.Debug("non-target reward ignored",
			zap.String("reward_id", ev.Reward.ID), zap.String("title", ev.Reward.Title))
		return nil
	}

	// 已在队中就不再请求 Helix
	queued, err := a.queue.IsQueued(ctx, ev.UserID)
	if err != nil {
		return err
	}
	if queued {
		logger.Info("already queued; ignoring redemption", zap.String("user_id", ev.UserID))
		return nil
	}

	avatarURL, err := a.profiles.AvatarURL(ctx, accessToken, ev.UserID)
	if err != nil {
		logger.Warn("failed to resolve avatar; dropping redemption",
			zap.String("user_id", ev.UserID), zap.Error(err))
		return nil
	}

	outcome, err := a.queue.Enqueue(ctx, repository.NewEntry{
		UserID:      ev.UserID,
		UserLogin:   ev.UserLogin,
		DisplayName: ev.UserName,
		AvatarURL:   avatarURL,
	})
	if err != nil {
		return err
	}
	switch o := outcome.(type) {
	case Added:
		logger.Info("enqueued user",
			zap.String("queue_id", o.ID), zap.Int64("position", o.Position),
			zap.String("user", ev.UserName))
	case AlreadyQueued:
		logger.Info("already queued; ignoring redemption", zap.String("user_id", ev.UserID))
	}
	return nil
}
