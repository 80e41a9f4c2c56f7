// Package twitch 封装上游协作方：OAuth 授权、Helix 接口以及 EventSub 会话客户端。
package twitch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kagari-lab/viewerqueue/config"
)

const (
	DefaultAuthorizeEndpoint = "https://id.twitch.tv/oauth2/authorize"
	DefaultTokenEndpoint     = "https://id.twitch.tv/oauth2/token"
	DefaultHelixEndpoint     = "https://api.twitch.tv/helix"
	DefaultEventSubURL       = "wss://eventsub.wss.twitch.tv/ws"

	RequiredScopes = "channel:read:redemptions"

	// SubTypeRedemptionAdd 频道积分兑换事件类型。
	SubTypeRedemptionAdd = "channel.channel_points_custom_reward_redemption.add"
)

// Token 授权凭证。ExpiresAt 为 unix 秒。
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
}

// User Helix 用户信息。
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"profile_image_url"`
}

// Reward 频道积分奖励。
type Reward struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Cost      int64  `json:"cost"`
	IsEnabled bool   `json:"is_enabled"`
}

// Subscription EventSub 订阅。
type Subscription struct {
	ID        string                 `json:"id"`
	Status    string                 `json:"status"`
	Type      string                 `json:"type"`
	Condition map[string]interface{} `json:"condition"`
	Transport SubTransport           `json:"transport"`
}

type SubTransport struct {
	Method    string `json:"method"`
	SessionID string `json:"session_id,omitempty"`
}

// SubCondition 订阅条件；RewardID 为空时订阅该频道全部兑换。
type SubCondition struct {
	BroadcasterUserID string `json:"broadcaster_user_id"`
	RewardID          string `json:"reward_id,omitempty"`
}

// Client 上游 HTTP 客户端。Helix 全局限流（客户端侧），避免触发 429。
type Client struct {
	httpc        *http.Client
	clientID     string
	clientSecret string
	redirectURL  string

	authorizeURL string
	tokenURL     string
	helixURL     string

	limiter *rate.Limiter
	now     func() int64
}

// Option 仅测试用：改写上游端点等。
type Option func(*Client)

func WithEndpoints(tokenURL, helixURL string) Option {
	return func(c *Client) {
		c.tokenURL = tokenURL
		c.helixURL = helixURL
	}
}

func WithClock(now func() int64) Option {
	return func(c *Client) { c.now = now }
}

func NewClient(cfg config.TwitchConfig, opts ...Option) *Client {
	c := &Client{
		httpc:        &http.Client{Timeout: 15 * time.Second},
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURL:  cfg.RedirectURL,
		authorizeURL: DefaultAuthorizeEndpoint,
		tokenURL:     DefaultTokenEndpoint,
		helixURL:     DefaultHelixEndpoint,
		limiter:      rate.NewLimiter(rate.Limit(10), 20),
		now:          func() int64 { return time.Now().Unix() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AuthorizeURL 拼装授权跳转地址。
func (c *Client) AuthorizeURL(state string) string {
	q := url.Values{}
	q.Set("client_id", c.clientID)
	q.Set("redirect_uri", c.redirectURL)
	q.Set("response_type", "code")
	q.Set("scope", RequiredScopes)
	q.Set("state", state)
	return c.authorizeURL + "?" + q.Encode()
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (c *Client) requestToken(ctx context.Context, form url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("token endpoint: %s %s", resp.Status, body)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, err
	}
	return &Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    c.now() + tr.ExpiresIn,
	}, nil
}

// ExchangeCode 授权码换凭证。
func (c *Client) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("code", code)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", c.redirectURL)
	return c.requestToken(ctx, form)
}

// Refresh 刷新凭证。
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("refresh_token", refreshToken)
	form.Set("grant_type", "refresh_token")
	return c.requestToken(ctx, form)
}

func (c *Client) helixDo(ctx context.Context, method, path, accessToken string, query url.Values, body interface{}) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := c.helixURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rd io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Client-Id", c.clientID)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpc.Do(req)
}

type helixEnvelope struct {
	Data       json.RawMessage `json:"data"`
	Pagination struct {
		Cursor string `json:"cursor"`
	} `json:"pagination"`
}

func decodeHelix(resp *http.Response, out interface{}) (cursor string, err error) {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("helix: %s %s", resp.Status, body)
	}
	var env helixEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", err
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return "", err
		}
	}
	return env.Pagination.Cursor, nil
}

func (c *Client) getUser(ctx context.Context, accessToken string, query url.Values) (*User, error) {
	resp, err := c.helixDo(ctx, http.MethodGet, "/users", accessToken, query, nil)
	if err != nil {
		return nil, err
	}
	var users []User
	if _, err := decodeHelix(resp, &users); err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("helix /users returned empty data")
	}
	return &users[0], nil
}

// GetSelf 返回当前凭证对应的账号。
func (c *Client) GetSelf(ctx context.Context, accessToken string) (*User, error) {
	return c.getUser(ctx, accessToken, nil)
}

// GetUserByID 按 id 查询用户（头像补全用）。
func (c *Client) GetUserByID(ctx context.Context, accessToken, userID string) (*User, error) {
	q := url.Values{}
	q.Set("id", userID)
	return c.getUser(ctx, accessToken, q)
}

// GetCustomRewards 列出频道积分奖励。
func (c *Client) GetCustomRewards(ctx context.Context, accessToken, broadcasterID string) ([]Reward, error) {
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	q.Set("only_manageable_rewards", "false")
	resp, err := c.helixDo(ctx, http.MethodGet, "/channel_points/custom_rewards", accessToken, q, nil)
	if err != nil {
		return nil, err
	}
	var rewards []Reward
	if _, err := decodeHelix(resp, &rewards); err != nil {
		return nil, err
	}
	return rewards, nil
}

// ListSubscriptions 按类型分页列出 EventSub 订阅，最多 50 页。
func (c *Client) ListSubscriptions(ctx context.Context, accessToken, typ string) ([]Subscription, error) {
	var out []Subscription
	cursor := ""
	for page := 0; page < 50; page++ {
		q := url.Values{}
		q.Set("type", typ)
		if cursor != "" {
			q.Set("after", cursor)
		}
		resp, err := c.helixDo(ctx, http.MethodGet, "/eventsub/subscriptions", accessToken, q, nil)
		if err != nil {
			return nil, err
		}
		var subs []Subscription
		next, err := decodeHelix(resp, &subs)
		if err != nil {
			return nil, err
		}
		out = append(out, subs...)
		if next == "" {
			break
		}
		cursor = next
	}
	return out, nil
}

// DeleteSubscription 删除订阅；404 视为已删除。
func (c *Client) DeleteSubscription(ctx context.Context, accessToken, id string) error {
	q := url.Values{}
	q.Set("id", id)
	resp, err := c.helixDo(ctx, http.MethodDelete, "/eventsub/subscriptions", accessToken, q, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("delete subscription: %s %s", resp.Status, body)
	}
	return nil
}

type createSubRequest struct {
	Type      string       `json:"type"`
	Version   string       `json:"version"`
	Condition SubCondition `json:"condition"`
	Transport SubTransport `json:"transport"`
}

// CreateSubscription 在给定 websocket 会话上注册一条订阅。
func (c *Client) CreateSubscription(ctx context.Context, accessToken, typ string, cond SubCondition, sessionID string) error {
	req := createSubRequest{
		Type:      typ,
		Version:   "1",
		Condition: cond,
		Transport: SubTransport{Method: "websocket", SessionID: sessionID},
	}
	resp, err := c.helixDo(ctx, http.MethodPost, "/eventsub/subscriptions", accessToken, nil, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("create subscription: %s %s", resp.Status, body)
	}
	return nil
}
