package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	contractx "github.com/caretaker-labs/caretaker/agent/contract"
)

func TestSearchRanksSnippets(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.TopK != 3 {
			t.Errorf("TopK = %d, want 3", req.TopK)
		}
		json.NewEncoder(w).Encode(searchResponse{Snippets: []contractx.Snippet{
			{Text: "Furniture returns need original packaging.", Relevance: 0.4},
			{Text: "Electronics can be returned within 30 days.", Relevance: 0.9},
		}})
	}))
	t.Cleanup(srv.Close)

	c := MustNew(Config{URL: srv.URL})
	res, err := c.Search(context.Background(), "return window electronics")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if res.Degraded {
		t.Fatal("unexpected degraded result")
	}
	if len(res.Snippets) != 2 || res.Snippets[0].Relevance < res.Snippets[1].Relevance {
		t.Fatalf("snippets not ranked: %+v", res.Snippets)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	t.Parallel()

	c := MustNew(Config{URL: "http://localhost:0"})
	_, err := c.Search(context.Background(), "   ")
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSearchDegradesOnServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index rebuilding", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c := MustNew(Config{URL: srv.URL})
	res, err := c.Search(context.Background(), "policy")
	if !errors.Is(err, contractx.ErrRetrievalUnavailable) {
		t.Fatalf("expected ErrRetrievalUnavailable, got %v", err)
	}
	if !res.Degraded || len(res.Snippets) != 0 {
		t.Fatalf("expected an empty degraded result, got %+v", res)
	}
}

func TestSearchDegradesOnUnreachableBackend(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := MustNew(Config{URL: srv.URL})
	res, err := c.Search(context.Background(), "policy")
	if !errors.Is(err, contractx.ErrRetrievalUnavailable) {
		t.Fatalf("expected ErrRetrievalUnavailable, got %v", err)
	}
	if !res.Degraded {
		t.Fatal("expected the degraded flag")
	}
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected an error for a missing url")
	}
	if _, err := NewClient(Config{URL: "not a url"}); err == nil {
		t.Fatal("expected an error for an invalid url")
	}
}
