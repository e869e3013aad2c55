package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	contractx "github.com/caretaker-labs/caretaker/agent/contract"
)

// AuthToken is the cached bearer credential for the gateway channel.
type AuthToken struct {
	Value     string
	Scope     string
	ExpiresAt time.Time
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// tokenManager performs the client-credentials exchange and caches the
// result. Refresh is single-flighted: concurrent callers needing a fresh
// token share one outstanding exchange.
type tokenManager struct {
	endpoint     string
	clientID     string
	clientSecret string
	scope        string
	margin       time.Duration
	httpClient   *http.Client

	mu     sync.RWMutex
	cached AuthToken

	group singleflight.Group
	now   func() time.Time
}

func newTokenManager(cfg Config, httpClient *http.Client) (*tokenManager, error) {
	endpoint := strings.TrimSpace(cfg.TokenURL)
	if endpoint == "" {
		return nil, fmt.Errorf("%w: gateway token url is required", contractx.ErrConfiguration)
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("%w: invalid token url: %v", contractx.ErrConfiguration, err)
	}
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, fmt.Errorf("%w: gateway client credentials are required", contractx.ErrConfiguration)
	}

	margin := cfg.RefreshMargin
	if margin <= 0 {
		margin = 30 * time.Second
	}

	return &tokenManager{
		endpoint:     endpoint,
		clientID:     strings.TrimSpace(cfg.ClientID),
		clientSecret: strings.TrimSpace(cfg.ClientSecret),
		scope:        strings.TrimSpace(cfg.Scope),
		margin:       margin,
		httpClient:   httpClient,
		now:          time.Now,
	}, nil
}

// Token returns a bearer value valid for at least the refresh margin,
// exchanging credentials only when the cached one is missing or near
// expiry.
func (t *tokenManager) Token(ctx context.Context) (string, error) {
	t.mu.RLock()
	cached := t.cached
	t.mu.RUnlock()

	if t.usable(cached) {
		return cached.Value, nil
	}

	value, err, _ := t.group.Do("refresh", func() (any, error) {
		t.mu.RLock()
		current := t.cached
		t.mu.RUnlock()
		// A caller that queued behind the winning refresh reuses it.
		if t.usable(current) {
			return current.Value, nil
		}

		fresh, err := t.exchange(ctx)
		if err != nil {
			return "", err
		}

		t.mu.Lock()
		t.cached = fresh
		t.mu.Unlock()
		return fresh.Value, nil
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

// Invalidate drops the cached token if it still matches value, forcing
// the next caller through a refresh. Used after a 401.
func (t *tokenManager) Invalidate(value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cached.Value == value {
		t.cached = AuthToken{}
	}
}

func (t *tokenManager) usable(tok AuthToken) bool {
	return tok.Value != "" && t.now().Before(tok.ExpiresAt.Add(-t.margin))
}

func (t *tokenManager) exchange(ctx context.Context) (AuthToken, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	if t.scope != "" {
		form.Set("scope", t.scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return AuthToken{}, fmt.Errorf("%w: build token request: %v", contractx.ErrUpstream, err)
	}
	req.SetBasicAuth(t.clientID, t.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return AuthToken{}, fmt.Errorf("%w: token exchange: %v", contractx.ErrUpstream, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return AuthToken{}, fmt.Errorf("%w: read token response: %v", contractx.ErrUpstream, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return AuthToken{}, fmt.Errorf("%w: token endpoint status=%d body=%s", contractx.ErrUpstream, resp.StatusCode, string(raw))
	}

	var parsed tokenResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return AuthToken{}, fmt.Errorf("%w: decode token response: %v", contractx.ErrUpstream, err)
	}
	if strings.TrimSpace(parsed.AccessToken) == "" {
		return AuthToken{}, fmt.Errorf("%w: token endpoint returned empty token", contractx.ErrUpstream)
	}

	return AuthToken{
		Value:     parsed.AccessToken,
		Scope:     t.scope,
		ExpiresAt: t.now().Add(time.Duration(parsed.ExpiresIn) * time.Second),
	}, nil
}
