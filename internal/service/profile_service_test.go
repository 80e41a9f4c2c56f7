package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/kagari-lab/viewerqueue/internal/twitch"
)

const profileTestNow = int64(1_700_000_000)

type fakeFetcher struct {
	user  *twitch.User
	err   error
	calls int
}

func (f *fakeFetcher) GetUserByID(ctx context.Context, accessToken, userID string) (*twitch.User, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.user, nil
}

func newProfileFixture(t *testing.T, fetcher ProfileFetcher, ttl time.Duration) *profileService {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	svc := NewProfileService(client, fetcher, ttl).(*profileService)
	svc.now = func() int64 { return profileTestNow }
	return svc
}

func TestAvatarURLFetchesOnMiss(t *testing.T) {
	fetcher := &fakeFetcher{user: &twitch.User{ID: "42", Login: "foo", DisplayName: "Foo", AvatarURL: "https://cdn/a.png"}}
	svc := newProfileFixture(t, fetcher, time.Hour)
	ctx := context.Background()

	url, err := svc.AvatarURL(ctx, "tok", "42")
	require.NoError(t, err)
	require.Equal(t, "https://cdn/a.png", url)
	require.Equal(t, 1, fetcher.calls)

	// 第二次命中缓存，不再回源
	url, err = svc.AvatarURL(ctx, "tok", "42")
	require.NoError(t, err)
	require.Equal(t, "https://cdn/a.png", url)
	require.Equal(t, 1, fetcher.calls)
}

func TestAvatarURLZeroTTLAlwaysFetches(t *testing.T) {
	fetcher := &fakeFetcher{user: &twitch.User{ID: "42", AvatarURL: "https://cdn/a.png"}}
	svc := newProfileFixture(t, fetcher, 0)
	ctx := context.Background()

	_, err := svc.AvatarURL(ctx, "tok", "42")
	require.NoError(t, err)
	_, err = svc.AvatarURL(ctx, "tok", "42")
	require.NoError(t, err)
	require.Equal(t, 2, fetcher.calls)
}

func TestAvatarURLRefetchesWhenStale(t *testing.T) {
	fetcher := &fakeFetcher{user: &twitch.User{ID: "42", AvatarURL: "https://cdn/old.png"}}
	svc := newProfileFixture(t, fetcher, time.Hour)
	ctx := context.Background()

	_, err := svc.AvatarURL(ctx, "tok", "42")
	require.NoError(t, err)

	// 缓存写入已过一小时零一秒
	svc.now = func() int64 { return profileTestNow + 3601 }
	fetcher.user = &twitch.User{ID: "42", AvatarURL: "https://cdn/new.png"}

	url, err := svc.AvatarURL(ctx, "tok", "42")
	require.NoError(t, err)
	require.Equal(t, "https://cdn/new.png", url)
	require.Equal(t, 2, fetcher.calls)
}

func TestAvatarURLStaleFallbackOnFetchFailure(t *testing.T) {
	fetcher := &fakeFetcher{user: &twitch.User{ID: "42", AvatarURL: "https://cdn/old.png"}}
	svc := newProfileFixture(t, fetcher, time.Hour)
	ctx := context.Background()

	_, err := svc.AvatarURL(ctx, "tok", "42")
	require.NoError(t, err)

	// 过期且回源失败：退回旧值而不是报错
	svc.now = func() int64 { return profileTestNow + 7200 }
	fetcher.err = fmt.Errorf("helix down")

	url, err := svc.AvatarURL(ctx, "tok", "42")
	require.NoError(t, err)
	require.Equal(t, "https://cdn/old.png", url)
}

func TestAvatarURLErrorsWithoutCache(t *testing.T) {
	fetcher := &fakeFetcher{err: fmt.Errorf("helix down")}
	svc := newProfileFixture(t, fetcher, time.Hour)

	_, err := svc.AvatarURL(context.Background(), "tok", "42")
	require.ErrorIs(t, err, ErrNoProfile)
}
