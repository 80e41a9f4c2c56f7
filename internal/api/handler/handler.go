package handler

import (
	"context"

	"github.com/kagari-lab/viewerqueue/config"
	"github.com/kagari-lab/viewerqueue/internal/repository"
	"github.com/kagari-lab/viewerqueue/internal/service"
	"github.com/kagari-lab/viewerqueue/internal/twitch"
)

// HelixAPI 展示层用到的上游操作子集。
type HelixAPI interface {
	AuthorizeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*twitch.Token, error)
	GetSelf(ctx context.Context, accessToken string) (*twitch.User, error)
	GetCustomRewards(ctx context.Context, accessToken, broadcasterID string) ([]twitch.Reward, error)
}

// Handler API 处理器集合。
type Handler struct {
	cfg      *config.Config
	queue    service.QueueService
	tokens   service.TokenService
	identity repository.TokenRepository
	helix    HelixAPI
}

func New(cfg *config.Config, queue service.QueueService, tokens service.TokenService, identity repository.TokenRepository, helix HelixAPI) *Handler {
	return &Handler{cfg: cfg, queue: queue, tokens: tokens, identity: identity, helix: helix}
}
