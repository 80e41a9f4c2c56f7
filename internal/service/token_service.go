package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kagari-lab/viewerqueue/internal/model"
	"github.com/kagari-lab/viewerqueue/internal/repository"
	"github.com/kagari-lab/viewerqueue/internal/twitch"
	"github.com/kagari-lab/viewerqueue/pkg/logger"
)

// refreshMargin 剩余寿命 ≤ 60s 即按过期处理，提前刷新。
const refreshMargin = 60

// Authorizer 外部授权服务契约（Twitch OAuth）。
type Authorizer interface {
	ExchangeCode(ctx context.Context, code string) (*twitch.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*twitch.Token, error)
}

// TokenService 凭证生命周期：带安全余量的过期检查 + 刷新落盘。
type TokenService interface {
	// EnsureFresh 返回一个剩余寿命充足的凭证；无凭证或刷新失败返回 ErrUnauthorized。
	EnsureFresh(ctx context.Context) (*model.OAuthToken, error)
	// Validish 粗略判断是否已授权（供状态接口展示）。
	Validish(ctx context.Context) (bool, error)
	Save(ctx context.Context, token *twitch.Token) error
	Delete(ctx context.Context) error
}

type tokenService struct {
	repo repository.TokenRepository
	auth Authorizer
	now  func() int64
}

func NewTokenService(repo repository.TokenRepository, auth Authorizer) TokenService {
	return &tokenService{repo: repo, auth: auth, now: func() int64 { return time.Now().Unix() }}
}

func (s *tokenService) EnsureFresh(ctx context.Context) (*model.OAuthToken, error) {
	t, err := s.repo.GetToken(ctx)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrUnauthorized
	}
	if t.ExpiresAt > s.now()+refreshMargin {
		return t, nil
	}

	fresh, err := s.auth.Refresh(ctx, t.RefreshToken)
	if err != nil {
		logger.Warn("token refresh failed; re-auth required", zap.Error(err))
		return nil, ErrUnauthorized
	}
	// 先落盘再使用，进程重启不会丢新 refresh_token。
	nt := &model.OAuthToken{
		AccessToken:  fresh.AccessToken,
		RefreshToken: fresh.RefreshToken,
		ExpiresAt:    fresh.ExpiresAt,
	}
	if err := s.repo.UpsertToken(ctx, nt); err != nil {
		return nil, err
	}
	logger.Info("refreshed access token")
	return nt, nil
}

func (s *tokenService) Validish(ctx context.Context) (bool, error) {
	t, err := s.repo.GetToken(ctx)
	if err != nil || t == nil {
		return false, err
	}
	return t.ExpiresAt > s.now()+30, nil
}

func (s *tokenService) Save(ctx context.Context, token *twitch.Token) error {
	return s.repo.UpsertToken(ctx, &model.OAuthToken{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.ExpiresAt,
	})
}

func (s *tokenService) Delete(ctx context.Context) error {
	return s.repo.DeleteToken(ctx)
}
