package dingtalk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/smartbill/smartbill/internal/metrics"
)

const (
	// defaultTokenTTL applies when the platform omits expires_in.
	defaultTokenTTL = 2 * time.Hour
	// tokenExpirySlack refreshes tokens slightly before they lapse.
	tokenExpirySlack = time.Minute
)

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// TokenBroker exchanges app credentials for short-lived access tokens
// and caches them per app key until expiry.
type TokenBroker struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]cachedToken
}

// NewTokenBroker creates a broker against the given token endpoint.
func NewTokenBroker(log *slog.Logger, endpoint string, client *http.Client, m *metrics.Metrics) *TokenBroker {
	if log == nil {
		log = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &TokenBroker{
		endpoint: endpoint,
		client:   client,
		logger:   log.With(slog.String("service", "dingtalk_token")),
		metrics:  m,
		now:      time.Now,
		cache:    map[string]cachedToken{},
	}
}

type tokenResponse struct {
	ErrCode     int    `json:"errcode"`
	ErrMsg      string `json:"errmsg"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// AccessToken returns a valid access token for the credential pair,
// reusing a cached one when it has not expired.
func (b *TokenBroker) AccessToken(ctx context.Context, appKey, appSecret string) (string, error) {
	if appKey == "" || appSecret == "" {
		return "", &TokenError{Msg: "app key and secret are required"}
	}

	b.mu.Lock()
	if entry, ok := b.cache[appKey]; ok && b.now().Before(entry.expiresAt) {
		b.mu.Unlock()
		return entry.value, nil
	}
	b.mu.Unlock()

	token, ttl, err := b.fetch(ctx, appKey, appSecret)
	if err != nil {
		b.count("error")
		return "", err
	}
	b.count("ok")

	b.mu.Lock()
	b.cache[appKey] = cachedToken{
		value:     token,
		expiresAt: b.now().Add(ttl - tokenExpirySlack),
	}
	b.mu.Unlock()
	return token, nil
}

func (b *TokenBroker) fetch(ctx context.Context, appKey, appSecret string) (string, time.Duration, error) {
	reqURL := fmt.Sprintf("%s?appkey=%s&appsecret=%s",
		b.endpoint, url.QueryEscape(appKey), url.QueryEscape(appSecret))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", 0, &TokenError{Err: err}
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return "", 0, &TokenError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, &TokenError{Err: err}
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", 0, &TokenError{Err: fmt.Errorf("decode token response: %w", err)}
	}
	if parsed.ErrCode != 0 || parsed.AccessToken == "" {
		msg := parsed.ErrMsg
		if msg == "" {
			msg = "failed to get access token"
		}
		return "", 0, &TokenError{Msg: msg}
	}

	ttl := defaultTokenTTL
	if parsed.ExpiresIn > 0 {
		ttl = time.Duration(parsed.ExpiresIn) * time.Second
	}
	return parsed.AccessToken, ttl, nil
}

func (b *TokenBroker) count(status string) {
	if b.metrics != nil {
		b.metrics.TokenRequests.WithLabelValues(status).Inc()
	}
}
