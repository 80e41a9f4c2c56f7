package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kagari-lab/viewerqueue/internal/twitch"
	"github.com/kagari-lab/viewerqueue/pkg/logger"
)

// ProfileFetcher 外部资料源契约（Helix /users）。
type ProfileFetcher interface {
	GetUserByID(ctx context.Context, accessToken, userID string) (*twitch.User, error)
}

// cachedProfile redis 中的缓存值。新鲜度由 UpdatedAt 在代码里判断，
// 不用 redis 过期：过期后的旧值还要充当取数失败时的回退。
type cachedProfile struct {
	UserID      string `json:"user_id"`
	UserLogin   string `json:"user_login"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	UpdatedAt   int64  `json:"updated_at"`
}

// ProfileService 头像解析：优先缓存，过期回源，回源失败退回旧值。
type ProfileService interface {
	// AvatarURL ttl 为 0 时每次都回源。回源失败且无缓存时返回错误。
	AvatarURL(ctx context.Context, accessToken, userID string) (string, error)
}

type profileService struct {
	cache   *redis.Client
	fetcher ProfileFetcher
	ttl     time.Duration
	now     func() int64
}

func NewProfileService(cache *redis.Client, fetcher ProfileFetcher, ttl time.Duration) ProfileService {
	return &profileService{cache: cache, fetcher: fetcher, ttl: ttl, now: func() int64 { return time.Now().Unix() }}
}

func profileKey(userID string) string { return "profile:" + userID }

func (s *profileService) load(ctx context.Context, userID string) *cachedProfile {
	data, err := s.cache.Get(ctx, profileKey(userID)).Bytes()
	if err != nil {
		return nil
	}
	var p cachedProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil
	}
	return &p
}

func (s *profileService) store(ctx context.Context, p *cachedProfile) {
	payload, err := json.Marshal(p)
	if err != nil {
		return
	}
	// 缓存写失败不阻断入队
	if err := s.cache.Set(ctx, profileKey(p.UserID), payload, 0).Err(); err != nil {
		logger.Warn("profile cache write failed", zap.String("user_id", p.UserID), zap.Error(err))
	}
}

func (s *profileService) AvatarURL(ctx context.Context, accessToken, userID string) (string, error) {
	now := s.now()

	cached := s.load(ctx, userID)
	if s.ttl > 0 && cached != nil && now-cached.UpdatedAt <= int64(s.ttl/time.Second) {
		return cached.AvatarURL, nil
	}

	u, err := s.fetcher.GetUserByID(ctx, accessToken, userID)
	if err != nil {
		if cached != nil {
			logger.Warn("profile fetch failed; using cached avatar",
				zap.String("user_id", userID), zap.Error(err))
			return cached.AvatarURL, nil
		}
		return "", fmt.Errorf("%w: %v", ErrNoProfile, err)
	}

	s.store(ctx, &cachedProfile{
		UserID:      u.ID,
		UserLogin:   u.Login,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		UpdatedAt:   now,
	})
	return u.AvatarURL, nil
}
