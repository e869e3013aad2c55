package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/caretaker-labs/caretaker/agent/contract"
)

const maxResponseSizeBytes = 2 << 20

type Config struct {
	URL     string        `split_words:"true" required:"true"`
	APIKey  string        `envconfig:"API_KEY" split_words:"true"`
	TopK    int           `envconfig:"TOP_K" split_words:"true" default:"3"`
	Timeout time.Duration `split_words:"true" default:"5s"`
}

// Client queries the external knowledge store for grounding snippets.
// Grounding is an enhancement: on backend failure Search returns a
// degraded empty result alongside ErrRetrievalUnavailable so callers can
// log and move on without failing the turn.
type Client struct {
	baseURL    string
	apiKey     string
	topK       int
	httpClient *http.Client
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type searchResponse struct {
	Snippets []contractx.Snippet `json:"snippets"`
}

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("retrieval url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, err
	}

	topK := cfg.TopK
	if topK <= 0 {
		topK = 3
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		topK:    topK,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

func MustNew(cfg Config) *Client {
	client, err := NewClient(cfg)
	if err != nil {
		panic(err)
	}
	return client
}

// Search returns ranked snippets for the query, possibly empty. A failed
// backend degrades rather than erroring the caller's turn.
func (c *Client) Search(ctx context.Context, query string) (contractx.RetrievalResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return contractx.RetrievalResult{}, fmt.Errorf("%w: query is empty", contractx.ErrValidation)
	}

	body, err := json.Marshal(searchRequest{Query: query, TopK: c.topK})
	if err != nil {
		return contractx.RetrievalResult{}, fmt.Errorf("%w: marshal search request: %v", contractx.ErrValidation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return c.degrade(query, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.degrade(query, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return c.degrade(query, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return c.degrade(query, fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var parsed searchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return c.degrade(query, err)
	}

	sort.SliceStable(parsed.Snippets, func(i, j int) bool {
		return parsed.Snippets[i].Relevance > parsed.Snippets[j].Relevance
	})
	return contractx.RetrievalResult{Snippets: parsed.Snippets}, nil
}

func (c *Client) degrade(query string, cause error) (contractx.RetrievalResult, error) {
	log.Warn().Str("query", query).Err(cause).Msg("retrieval degraded")
	return contractx.RetrievalResult{Degraded: true},
		fmt.Errorf("%w: %v", contractx.ErrRetrievalUnavailable, cause)
}
