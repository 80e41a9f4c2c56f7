package handler

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kagari-lab/viewerqueue/internal/service"
	"github.com/kagari-lab/viewerqueue/pkg/response"
)

type statusView struct {
	Authenticated           bool   `json:"authenticated"`
	BroadcasterID           string `json:"broadcaster_id,omitempty"`
	BroadcasterLogin        string `json:"broadcaster_login,omitempty"`
	TargetRewardID          string `json:"target_reward_id,omitempty"`
	ParticipationWindowSecs int64  `json:"participation_window_secs"`
	ServerTime              int64  `json:"server_time"`
}

// Status 管理页用的运行状态。
func (h *Handler) Status(c *gin.Context) {
	ctx := c.Request.Context()
	authenticated, err := h.tokens.Validish(ctx)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	id, login, err := h.identity.GetBroadcaster(ctx)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, statusView{
		Authenticated:           authenticated,
		BroadcasterID:           id,
		BroadcasterLogin:        login,
		TargetRewardID:          h.cfg.Twitch.TargetRewardID,
		ParticipationWindowSecs: int64(h.cfg.Queue.ParticipationWindow / time.Second),
		ServerTime:              time.Now().Unix(),
	})
}

// ListRewards 列出主播的频道积分奖励（配置 target_reward_id 时参考用）。
func (h *Handler) ListRewards(c *gin.Context) {
	ctx := c.Request.Context()

	token, err := h.tokens.EnsureFresh(ctx)
	if errors.Is(err, service.ErrUnauthorized) {
		response.Unauthorized(c, "not authenticated")
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}

	broadcasterID, _, err := h.identity.GetBroadcaster(ctx)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if broadcasterID == "" {
		me, err := h.helix.GetSelf(ctx, token.AccessToken)
		if err != nil {
			response.InternalError(c, err)
			return
		}
		if err := h.identity.SetBroadcaster(ctx, me.ID, me.Login); err != nil {
			response.InternalError(c, err)
			return
		}
		broadcasterID = me.ID
	}

	rewards, err := h.helix.GetCustomRewards(ctx, token.AccessToken, broadcasterID)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, rewards)
}
