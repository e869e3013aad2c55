package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/caretaker-labs/caretaker/agent/contract"
)

const maxResponseSizeBytes = 2 << 20

type Config struct {
	TokenURL      string        `envconfig:"TOKEN_URL" split_words:"true" required:"true"`
	ClientID      string        `envconfig:"CLIENT_ID" split_words:"true" required:"true"`
	ClientSecret  string        `envconfig:"CLIENT_SECRET" split_words:"true" required:"true"`
	Scope         string        `envconfig:"SCOPE" split_words:"true" default:"returns-agent-api/read"`
	Timeout       time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
	RefreshMargin time.Duration `envconfig:"REFRESH_MARGIN" split_words:"true" default:"30s"`
	RetryCeiling  int           `envconfig:"RETRY_CEILING" split_words:"true" default:"4"`
	BackoffBase   time.Duration `envconfig:"BACKOFF_BASE" split_words:"true" default:"100ms"`
	BackoffMax    time.Duration `envconfig:"BACKOFF_MAX" split_words:"true" default:"2s"`
}

// Client is the single authenticated channel to external targets. All
// targets are idempotent lookups by contract, so retrying an invocation
// never risks duplicate side effects.
type Client struct {
	tokens  *tokenManager
	targets *targetRegistry

	httpClient   *http.Client
	retryCeiling int
	backoffBase  time.Duration
	backoffMax   time.Duration
}

type ClientOption func(*Client)

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
			c.tokens.httpClient = httpClient
		}
	}
}

func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	tokens, err := newTokenManager(cfg, httpClient)
	if err != nil {
		return nil, err
	}

	ceiling := cfg.RetryCeiling
	if ceiling <= 0 {
		ceiling = 4
	}
	base := cfg.BackoffBase
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	max := cfg.BackoffMax
	if max < base {
		max = 2 * time.Second
	}

	c := &Client{
		tokens:       tokens,
		targets:      newTargetRegistry(),
		httpClient:   httpClient,
		retryCeiling: ceiling,
		backoffBase:  base,
		backoffMax:   max,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

func MustNew(cfg Config, opts ...ClientOption) *Client {
	c, err := NewClient(cfg, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// RegisterTarget is the administrative registration operation. The new
// target starts pending; Invoke probes it into readiness.
func (c *Client) RegisterTarget(name, endpoint string) error {
	return c.targets.register(name, endpoint)
}

// ReportReadiness lets the external system mark a target ready or
// unavailable without waiting for a probe.
func (c *Client) ReportReadiness(name string, state ReadinessState) {
	c.targets.setState(name, state)
}

// TargetState reports the last observed readiness of a target.
func (c *Client) TargetState(name string) (ReadinessState, bool) {
	t, ok := c.targets.get(name)
	if !ok {
		return "", false
	}
	return t.State, true
}

// Invoke sends payload to the named target through the authenticated
// channel. Non-ready targets and transient upstream failures are retried
// with bounded exponential backoff and jitter; after the ceiling the call
// fails explicitly, never silently.
func (c *Client) Invoke(ctx context.Context, targetName string, payload map[string]any) (any, error) {
	target, ok := c.targets.get(targetName)
	if !ok {
		return nil, fmt.Errorf("%w: target %s is not registered", contractx.ErrTargetUnavailable, targetName)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryCeiling; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, attempt); err != nil {
				return nil, err
			}
			target, _ = c.targets.get(targetName)
		}

		if target.State != StateReady {
			if err := c.probe(ctx, target); err != nil {
				lastErr = err
				continue
			}
			target, _ = c.targets.get(targetName)
		}

		result, err := c.invokeOnce(ctx, target, payload)
		if err == nil {
			return result, nil
		}
		lastErr = err

		// Auth and validation failures are not retryable here: the auth
		// path already performed its one refresh-and-retry.
		if errors.Is(err, contractx.ErrAuthExpired) || errors.Is(err, contractx.ErrValidation) {
			return nil, err
		}
		if errors.Is(err, contractx.ErrInvocationTimeout) && ctx.Err() != nil {
			return nil, err
		}
		if errors.Is(err, contractx.ErrUpstream) {
			c.targets.setState(target.Name, StateUnavailable)
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("%w: target %s not ready after %d attempts", contractx.ErrTargetUnavailable, targetName, c.retryCeiling+1)
	}
	if !errors.Is(lastErr, contractx.ErrUpstream) && !errors.Is(lastErr, contractx.ErrInvocationTimeout) {
		lastErr = fmt.Errorf("%w: target %s: %v", contractx.ErrTargetUnavailable, targetName, lastErr)
	}
	return nil, lastErr
}

// probe confirms a target answers before routing real traffic to it.
func (c *Client) probe(ctx context.Context, target Target) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: build probe request: %v", contractx.ErrTargetUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.targets.setState(target.Name, StateUnavailable)
		return fmt.Errorf("%w: probe %s: %v", contractx.ErrTargetUnavailable, target.Name, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSizeBytes))

	if resp.StatusCode >= http.StatusInternalServerError {
		c.targets.setState(target.Name, StateUnavailable)
		return fmt.Errorf("%w: probe %s status=%d", contractx.ErrTargetUnavailable, target.Name, resp.StatusCode)
	}

	c.targets.setState(target.Name, StateReady)
	log.Debug().Str("target", target.Name).Msg("gateway target ready")
	return nil
}

func (c *Client) invokeOnce(ctx context.Context, target Target, payload map[string]any) (any, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	result, status, err := c.send(ctx, target, payload, token)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		// One refresh-and-retry, then give up on auth for this call.
		c.tokens.Invalidate(token)
		refreshed, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: refresh after rejection: %v", contractx.ErrAuthExpired, err)
		}
		result, status, err = c.send(ctx, target, payload, refreshed)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: target %s rejected a fresh token", contractx.ErrAuthExpired, target.Name)
		}
	}
	return result, nil
}

func (c *Client) send(ctx context.Context, target Target, payload map[string]any, token string) (any, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: marshal payload: %v", contractx.ErrValidation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: build invoke request: %v", contractx.ErrUpstream, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil || isTimeout(err) {
			return nil, 0, fmt.Errorf("%w: target %s: %v", contractx.ErrInvocationTimeout, target.Name, err)
		}
		return nil, 0, fmt.Errorf("%w: target %s: %v", contractx.ErrUpstream, target.Name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: read response from %s: %v", contractx.ErrUpstream, target.Name, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, resp.StatusCode, nil
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return nil, resp.StatusCode, fmt.Errorf("%w: target %s status=%d body=%s", contractx.ErrUpstream, target.Name, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var result any
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, resp.StatusCode, fmt.Errorf("%w: decode response from %s: %v", contractx.ErrUpstream, target.Name, err)
		}
	}
	return result, resp.StatusCode, nil
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	backoff := c.backoffBase << (attempt - 1)
	if backoff > c.backoffMax {
		backoff = c.backoffMax
	}
	// Full jitter keeps concurrent retries from stampeding the target.
	jittered := time.Duration(rand.Int63n(int64(backoff)) + 1)

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", contractx.ErrInvocationTimeout, ctx.Err())
	case <-time.After(jittered):
		return nil
	}
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
