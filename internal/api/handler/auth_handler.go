package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kagari-lab/viewerqueue/pkg/logger"
	"github.com/kagari-lab/viewerqueue/pkg/response"
)

// stateTTL 授权跳转到回调之间允许的最长间隔。
const stateTTL = 10 * time.Minute

// signState 把 CSRF state 编成短期 JWT，省去服务端暂存。
func (h *Handler) signState() (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        uuid.New().String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(stateTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(h.cfg.Twitch.ClientSecret))
}

func (h *Handler) verifyState(state string) error {
	_, err := jwt.ParseWithClaims(state, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(h.cfg.Twitch.ClientSecret), nil
	})
	return err
}

// AuthStart 跳转到 Twitch 授权页。
func (h *Handler) AuthStart(c *gin.Context) {
	if h.cfg.Twitch.ClientID == "" || h.cfg.Twitch.ClientSecret == "" {
		response.BadRequest(c, "twitch.client_id / twitch.client_secret must be configured")
		return
	}
	state, err := h.signState()
	if err != nil {
		response.InternalError(c, err)
		return
	}
	c.Redirect(http.StatusTemporaryRedirect, h.helix.AuthorizeURL(state))
}

// AuthCallback 校验 state、换取凭证并落盘，随后解析并保存主播身份。
func (h *Handler) AuthCallback(c *gin.Context) {
	if errName := c.Query("error"); errName != "" {
		response.BadRequest(c, fmt.Sprintf("oauth error: %s %s", errName, c.Query("error_description")))
		return
	}
	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		response.BadRequest(c, "missing code or state")
		return
	}
	if err := h.verifyState(state); err != nil {
		response.BadRequest(c, "state mismatch")
		return
	}

	ctx := c.Request.Context()
	token, err := h.helix.ExchangeCode(ctx, code)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if err := h.tokens.Save(ctx, token); err != nil {
		response.InternalError(c, err)
		return
	}

	if me, err := h.helix.GetSelf(ctx, token.AccessToken); err != nil {
		logger.Error("authorized but failed to resolve broadcaster", zap.Error(err))
	} else if err := h.identity.SetBroadcaster(ctx, me.ID, me.Login); err != nil {
		logger.Error("failed to persist broadcaster", zap.Error(err))
	} else {
		logger.Info("authorized",
			zap.String("broadcaster_id", me.ID), zap.String("broadcaster_login", me.Login))
	}

	c.Redirect(http.StatusTemporaryRedirect, "/admin")
}

// AuthLogout 删除保存的凭证。
func (h *Handler) AuthLogout(c *gin.Context) {
	if err := h.tokens.Delete(c.Request.Context()); err != nil {
		response.InternalError(c, err)
		return
	}
	response.NoContent(c)
}
