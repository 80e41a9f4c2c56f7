package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kagari-lab/viewerqueue/config"
	"github.com/kagari-lab/viewerqueue/internal/model"
	"github.com/kagari-lab/viewerqueue/internal/repository"
	"github.com/kagari-lab/viewerqueue/internal/service"
	"github.com/kagari-lab/viewerqueue/internal/twitch"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeHelix struct {
	exchangeErr error
	rewards     []twitch.Reward
}

func (f *fakeHelix) AuthorizeURL(state string) string {
	return "https://id.example/authorize?state=" + state
}

func (f *fakeHelix) ExchangeCode(ctx context.Context, code string) (*twitch.Token, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &twitch.Token{AccessToken: "at", RefreshToken: "rt", ExpiresAt: time.Now().Unix() + 14400}, nil
}

func (f *fakeHelix) GetSelf(ctx context.Context, accessToken string) (*twitch.User, error) {
	return &twitch.User{ID: "b1", Login: "streamer", DisplayName: "Streamer"}, nil
}

func (f *fakeHelix) GetCustomRewards(ctx context.Context, accessToken, broadcasterID string) ([]twitch.Reward, error) {
	return f.rewards, nil
}

type noRefresh struct{}

func (noRefresh) ExchangeCode(ctx context.Context, code string) (*twitch.Token, error) {
	return nil, fmt.Errorf("not used")
}

func (noRefresh) Refresh(ctx context.Context, refreshToken string) (*twitch.Token, error) {
	return nil, fmt.Errorf("not used")
}

type fixture struct {
	router *gin.Engine
	db     *gorm.DB
	queue  service.QueueService
	tokens service.TokenService
	helix  *fakeHelix
	h      *Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.QueueItem{}, &model.Participation{}, &model.ProcessedMessage{},
		&model.OAuthToken{}, &model.AppKV{},
	))

	cfg := &config.Config{}
	cfg.Twitch.ClientID = "cid"
	cfg.Twitch.ClientSecret = "secret"
	cfg.Queue.ParticipationWindow = 24 * time.Hour

	tokenRepo := repository.NewGormTokenRepository(db)
	queue := service.NewQueueService(repository.NewGormQueueRepository(db), cfg.Queue.ParticipationWindow)
	tokens := service.NewTokenService(tokenRepo, noRefresh{})
	helix := &fakeHelix{}
	h := New(cfg, queue, tokens, tokenRepo, helix)

	r := gin.New()
	r.GET("/auth/start", h.AuthStart)
	r.GET("/auth/callback", h.AuthCallback)
	r.POST("/auth/logout", h.AuthLogout)
	r.GET("/api/status", h.Status)
	r.GET("/api/queue", h.ListQueue)
	r.POST("/api/queue/:id/delete", h.DeleteQueueItem)
	r.POST("/api/queue/:id/move_up", h.MoveQueueItemUp)
	r.POST("/api/queue/:id/move_down", h.MoveQueueItemDown)
	r.GET("/api/rewards", h.ListRewards)

	return &fixture{router: r, db: db, queue: queue, tokens: tokens, helix: helix, h: h}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) enqueue(t *testing.T, userID string) string {
	t.Helper()
	outcome, err := f.queue.Enqueue(context.Background(), repository.NewEntry{
		UserID: userID, UserLogin: userID, DisplayName: "User " + userID,
	})
	require.NoError(t, err)
	added, ok := outcome.(service.Added)
	require.True(t, ok)
	return added.ID
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestListQueueEndpoint(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, "a")
	f.enqueue(t, "b")

	w := f.do(t, http.MethodGet, "/api/queue", "")
	require.Equal(t, http.StatusOK, w.Code)

	env := decodeEnvelope(t, w)
	require.Zero(t, env.Code)
	var items []model.QueueItemView
	require.NoError(t, json.Unmarshal(env.Data, &items))
	require.Len(t, items, 2)
	require.Equal(t, "a", items[0].UserID)
	require.Equal(t, int64(1), items[1].Position)
}

func TestDeleteQueueItemEndpoint(t *testing.T) {
	f := newFixture(t)
	id := f.enqueue(t, "a")

	// mode 缺失或非法都拒绝
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/queue/"+id+"/delete", `{}`).Code)
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/queue/"+id+"/delete", `{"mode":"done"}`).Code)

	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/queue/nope/delete", `{"mode":"completed"}`).Code)

	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/api/queue/"+id+"/delete", `{"mode":"completed"}`).Code)

	var parts int64
	require.NoError(t, f.db.Model(&model.Participation{}).Count(&parts).Error)
	require.Equal(t, int64(1), parts)
}

func TestMoveEndpoints(t *testing.T) {
	f := newFixture(t)
	a := f.enqueue(t, "a")
	b := f.enqueue(t, "b")

	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/api/queue/"+b+"/move_up", "").Code)

	var first model.QueueItem
	require.NoError(t, f.db.Where("position = 0").First(&first).Error)
	require.Equal(t, "b", first.UserID)

	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/api/queue/"+b+"/move_down", "").Code)
	first = model.QueueItem{}
	require.NoError(t, f.db.Where("position = 0").First(&first).Error)
	require.Equal(t, "a", first.UserID)

	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/queue/nope/move_up", "").Code)
	// 队首上移是 no-op 而不是错误
	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/api/queue/"+a+"/move_up", "").Code)
}

func TestStatusEndpoint(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var view statusView
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &view))
	require.False(t, view.Authenticated)
	require.Equal(t, int64(24*3600), view.ParticipationWindowSecs)

	// 授权后再看
	require.NoError(t, f.tokens.Save(context.Background(), &twitch.Token{
		AccessToken: "at", RefreshToken: "rt", ExpiresAt: time.Now().Unix() + 3600,
	}))
	w = f.do(t, http.MethodGet, "/api/status", "")
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &view))
	require.True(t, view.Authenticated)
}

func TestListRewardsRequiresAuth(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/rewards", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListRewardsResolvesBroadcaster(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.helix.rewards = []twitch.Reward{{ID: "r1", Title: "join", Cost: 100, IsEnabled: true}}
	require.NoError(t, f.tokens.Save(ctx, &twitch.Token{
		AccessToken: "at", RefreshToken: "rt", ExpiresAt: time.Now().Unix() + 3600,
	}))

	w := f.do(t, http.MethodGet, "/api/rewards", "")
	require.Equal(t, http.StatusOK, w.Code)

	var rewards []twitch.Reward
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &rewards))
	require.Len(t, rewards, 1)
	require.Equal(t, "r1", rewards[0].ID)

	// 顺带把主播身份落到 app_kv
	id, login, err := f.h.identity.GetBroadcaster(ctx)
	require.NoError(t, err)
	require.Equal(t, "b1", id)
	require.Equal(t, "streamer", login)
}

func TestAuthStart(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/auth/start", "")
	require.Equal(t, http.StatusTemporaryRedirect, w.Code)
	loc := w.Header().Get("Location")
	require.Contains(t, loc, "https://id.example/authorize?state=")

	// 发出的 state 要能通过回调侧校验
	state := strings.TrimPrefix(loc, "https://id.example/authorize?state=")
	require.NoError(t, f.h.verifyState(state))
}

func TestAuthStartRequiresCredentials(t *testing.T) {
	f := newFixture(t)
	f.h.cfg.Twitch.ClientID = ""

	w := f.do(t, http.MethodGet, "/auth/start", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthCallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	state, err := f.h.signState()
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/auth/callback?code=abc&state="+state, "")
	require.Equal(t, http.StatusTemporaryRedirect, w.Code)
	require.Equal(t, "/admin", w.Header().Get("Location"))

	// 凭证与主播身份都已持久化
	ok, err := f.tokens.Validish(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	id, _, err := f.h.identity.GetBroadcaster(ctx)
	require.NoError(t, err)
	require.Equal(t, "b1", id)
}

func TestAuthCallbackRejectsBadState(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/auth/callback?code=abc&state=forged", "").Code)
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/auth/callback?code=abc", "").Code)
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/auth/callback?error=access_denied", "").Code)

	ok, err := f.tokens.Validish(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAuthLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.tokens.Save(ctx, &twitch.Token{
		AccessToken: "at", RefreshToken: "rt", ExpiresAt: time.Now().Unix() + 3600,
	}))

	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/auth/logout", "").Code)

	ok, err := f.tokens.Validish(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}
