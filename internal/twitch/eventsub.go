package twitch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kagari-lab/viewerqueue/config"
	"github.com/kagari-lab/viewerqueue/internal/model"
	"github.com/kagari-lab/viewerqueue/pkg/logger"
)

// TokenSource 供会话循环取用剩余寿命充足的凭证。
type TokenSource interface {
	EnsureFresh(ctx context.Context) (*model.OAuthToken, error)
}

// IdentitySource 主播身份的持久化（app_kv）。
type IdentitySource interface {
	GetBroadcaster(ctx context.Context) (id, login string, err error)
	SetBroadcaster(ctx context.Context, id, login string) error
}

// NotificationHandler 通知帧的下游处理方（准入管线）。
type NotificationHandler interface {
	HandleNotification(ctx context.Context, accessToken, messageID string, payload []byte) error
}

// SubscriptionAPI 订阅管理 + 身份解析，用 *Client 实现。
type SubscriptionAPI interface {
	GetSelf(ctx context.Context, accessToken string) (*User, error)
	CreateSubscription(ctx context.Context, accessToken, typ string, cond SubCondition, sessionID string) error
	ListSubscriptions(ctx context.Context, accessToken, typ string) ([]Subscription, error)
	DeleteSubscription(ctx context.Context, accessToken, id string) error
}

type wsMetadata struct {
	MessageID        string `json:"message_id"`
	MessageType      string `json:"message_type"`
	SubscriptionType string `json:"subscription_type"`
}

type wsEnvelope struct {
	Metadata wsMetadata      `json:"metadata"`
	Payload  json.RawMessage `json:"payload"`
}

type sessionPayload struct {
	Session struct {
		ID           string `json:"id"`
		ReconnectURL string `json:"reconnect_url"`
	} `json:"session"`
}

// EventSub 单条长连接上的会话状态机。
//
// 会话内 need_subscribe 的约定：welcome 且标志置位时注册一次订阅；
// session_reconnect 迁移会保留订阅，标志不动；非计划断连与 revocation
// 置位标志，等下一次 welcome 重新注册。帧处理严格串行，
// 仅订阅成功后的陈旧订阅清理分离到独立 goroutine。
type EventSub struct {
	api      SubscriptionAPI
	tokens   TokenSource
	identity IdentitySource
	handler  NotificationHandler
	cfg      config.TwitchConfig

	dialer        *websocket.Dialer
	wsURL         string
	defaultWSURL  string
	needSubscribe bool

	// 重试间隔固定不退避：凭证未就绪/断连后短等，拨号失败与身份解析失败稍长。
	retryShort time.Duration
	retryDial  time.Duration
	retryAuth  time.Duration
}

// EventSubOption 仅测试用。
type EventSubOption func(*EventSub)

func WithEventSubURL(u string) EventSubOption {
	return func(e *EventSub) {
		e.wsURL = u
		e.defaultWSURL = u
	}
}

func WithRetryDelay(d time.Duration) EventSubOption {
	return func(e *EventSub) {
		e.retryShort = d
		e.retryDial = d
		e.retryAuth = d
	}
}

func NewEventSub(api SubscriptionAPI, tokens TokenSource, identity IdentitySource, handler NotificationHandler, cfg config.TwitchConfig, opts ...EventSubOption) *EventSub {
	e := &EventSub{
		api:           api,
		tokens:        tokens,
		identity:      identity,
		handler:       handler,
		cfg:           cfg,
		dialer:        websocket.DefaultDialer,
		wsURL:         DefaultEventSubURL,
		defaultWSURL:  DefaultEventSubURL,
		needSubscribe: true,
		retryShort:    2 * time.Second,
		retryDial:     3 * time.Second,
		retryAuth:     5 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run 外层循环：备好凭证与主播身份 → 连接 → 读帧直到退出 → 视退出方式重连。
// 只有 ctx 取消会结束循环。
func (e *EventSub) Run(ctx context.Context) {
	if e.cfg.ClientID == "" || e.cfg.ClientSecret == "" {
		logger.Warn("twitch client_id / client_secret are empty; set them in the config")
	}

	for ctx.Err() == nil {
		token, err := e.tokens.EnsureFresh(ctx)
		if err != nil {
			e.sleep(ctx, e.retryShort)
			continue
		}

		broadcasterID, err := e.ensureBroadcaster(ctx, token.AccessToken)
		if err != nil {
			logger.Warn("failed to resolve broadcaster; waiting", zap.Error(err))
			e.sleep(ctx, e.retryAuth)
			continue
		}

		logger.Info("connecting to EventSub websocket", zap.String("url", e.wsURL))
		conn, resp, err := e.dialer.DialContext(ctx, e.wsURL, nil)
		if err != nil {
			logger.Warn("websocket dial failed; retrying", zap.Error(err))
			e.sleep(ctx, e.retryDial)
			continue
		}
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}

		migrated := e.readLoop(ctx, conn, token.AccessToken, broadcasterID)
		conn.Close()

		if migrated {
			// 订阅已随会话迁移，立即连新端点
			continue
		}
		e.needSubscribe = true
		e.wsURL = e.defaultWSURL
		e.sleep(ctx, e.retryShort)
	}
}

func (e *EventSub) ensureBroadcaster(ctx context.Context, accessToken string) (string, error) {
	id, _, err := e.identity.GetBroadcaster(ctx)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	me, err := e.api.GetSelf(ctx, accessToken)
	if err != nil {
		return "", err
	}
	if err := e.identity.SetBroadcaster(ctx, me.ID, me.Login); err != nil {
		return "", err
	}
	logger.Info("resolved broadcaster",
		zap.String("broadcaster_id", me.ID), zap.String("broadcaster_login", me.Login))
	return me.ID, nil
}

// readLoop 串行消费帧。返回 true 表示通过 session_reconnect 退出（迁移），
// 其余退出都是非计划断连。Ping 帧由 gorilla 默认 handler 自动回 Pong。
func (e *EventSub) readLoop(ctx context.Context, conn *websocket.Conn, accessToken, broadcasterID string) bool {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("websocket read error", zap.Error(err))
			}
			return false
		}

		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			logger.Debug("failed to parse ws frame", zap.Error(err))
			continue
		}

		switch env.Metadata.MessageType {
		case "session_welcome":
			var p sessionPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				logger.Warn("bad session_welcome payload", zap.Error(err))
				continue
			}
			logger.Info("eventsub session welcome", zap.String("session_id", p.Session.ID))
			e.onWelcome(ctx, accessToken, broadcasterID, p.Session.ID)

		case "session_keepalive":
			// 仅存活证据

		case "notification":
			if env.Metadata.SubscriptionType != SubTypeRedemptionAdd {
				continue
			}
			if err := e.handler.HandleNotification(ctx, accessToken, env.Metadata.MessageID, env.Payload); err != nil {
				logger.Error("failed to handle notification",
					zap.String("message_id", env.Metadata.MessageID), zap.Error(err))
			}

		case "session_reconnect":
			var p sessionPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil || p.Session.ReconnectURL == "" {
				logger.Warn("session_reconnect without reconnect_url")
				return false
			}
			logger.Info("received session_reconnect", zap.String("reconnect_url", p.Session.ReconnectURL))
			e.wsURL = p.Session.ReconnectURL
			return true

		case "revocation":
			// 订阅失效（通常是凭证被撤销），下次 welcome 重新注册
			logger.Warn("subscription revoked; will resubscribe on next welcome")
			e.needSubscribe = true

		default:
			logger.Debug("unhandled ws frame", zap.String("message_type", env.Metadata.MessageType))
		}
	}
}

func (e *EventSub) onWelcome(ctx context.Context, accessToken, broadcasterID, sessionID string) {
	if !e.needSubscribe {
		// 迁移后的 welcome：订阅已由上游迁移
		logger.Info("reconnected; keeping existing subscriptions")
		return
	}

	cond := SubCondition{BroadcasterUserID: broadcasterID, RewardID: e.cfg.TargetRewardID}
	if e.cfg.CancelRewardID != "" {
		// 配置了取消奖励时上游不能按奖励过滤，否则取消兑换永远到不了准入管线
		cond.RewardID = ""
	}
	if err := e.api.CreateSubscription(ctx, accessToken, SubTypeRedemptionAdd, cond, sessionID); err != nil {
		logger.Warn("failed to create subscription", zap.Error(err))
		return
	}
	logger.Info("created redemption subscription")
	e.needSubscribe = false

	// 订阅成功后再清理，避免占用 10s 订阅窗口；失败只记日志
	go e.cleanupStaleSubscriptions(context.WithoutCancel(ctx), accessToken, broadcasterID)
}

// cleanupStaleSubscriptions 删除同主播、websocket 传输、已断连会话上的陈旧订阅。
func (e *EventSub) cleanupStaleSubscriptions(ctx context.Context, accessToken, broadcasterID string) {
	subs, err := e.api.ListSubscriptions(ctx, accessToken, SubTypeRedemptionAdd)
	if err != nil {
		logger.Warn("failed to list eventsub subscriptions", zap.Error(err))
		return
	}

	deleted := 0
	for _, s := range subs {
		if s.Type != SubTypeRedemptionAdd || s.Transport.Method != "websocket" {
			continue
		}
		if bid, _ := s.Condition["broadcaster_user_id"].(string); bid != broadcasterID {
			continue
		}
		if s.Status == "enabled" {
			continue
		}
		if err := e.api.DeleteSubscription(ctx, accessToken, s.ID); err != nil {
			logger.Warn("failed to delete stale subscription",
				zap.String("sub_id", s.ID), zap.Error(err))
			return
		}
		deleted++
	}
	if deleted > 0 {
		logger.Info("cleaned stale eventsub subscriptions", zap.Int("deleted", deleted))
	}
}

func (e *EventSub) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
