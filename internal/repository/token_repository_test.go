package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kagari-lab/viewerqueue/internal/model"
)

func TestTokenLifecycle(t *testing.T) {
	db := setupDB(t)
	repo := NewGormTokenRepository(db)
	ctx := context.Background()

	tok, err := repo.GetToken(ctx)
	require.NoError(t, err)
	require.Nil(t, tok)

	require.NoError(t, repo.UpsertToken(ctx, &model.OAuthToken{
		AccessToken: "a1", RefreshToken: "r1", ExpiresAt: testNow + 3600,
	}))
	tok, err = repo.GetToken(ctx)
	require.NoError(t, err)
	require.Equal(t, "a1", tok.AccessToken)

	// 再次 upsert 覆盖而不是新增
	require.NoError(t, repo.UpsertToken(ctx, &model.OAuthToken{
		AccessToken: "a2", RefreshToken: "r2", ExpiresAt: testNow + 7200,
	}))
	tok, err = repo.GetToken(ctx)
	require.NoError(t, err)
	require.Equal(t, "a2", tok.AccessToken)
	require.Equal(t, testNow+7200, tok.ExpiresAt)

	require.NoError(t, repo.DeleteToken(ctx))
	tok, err = repo.GetToken(ctx)
	require.NoError(t, err)
	require.Nil(t, tok)
}

func TestBroadcasterKV(t *testing.T) {
	db := setupDB(t)
	repo := NewGormTokenRepository(db)
	ctx := context.Background()

	id, login, err := repo.GetBroadcaster(ctx)
	require.NoError(t, err)
	require.Empty(t, id)
	require.Empty(t, login)

	require.NoError(t, repo.SetBroadcaster(ctx, "123", "streamer"))
	id, login, err = repo.GetBroadcaster(ctx)
	require.NoError(t, err)
	require.Equal(t, "123", id)
	require.Equal(t, "streamer", login)

	require.NoError(t, repo.SetBroadcaster(ctx, "456", "other"))
	id, _, err = repo.GetBroadcaster(ctx)
	require.NoError(t, err)
	require.Equal(t, "456", id)
}
