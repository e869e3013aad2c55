package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	contractx "github.com/caretaker-labs/caretaker/agent/contract"
)

// ErrExtractionPending is returned by AwaitExtraction when the watermark
// did not reach the requested point within the bounded wait.
var ErrExtractionPending = errors.New("memory extraction still pending")

type Config struct {
	QueryLimit     int           `envconfig:"QUERY_LIMIT" split_words:"true" default:"5"`
	ContextTimeout time.Duration `envconfig:"CONTEXT_TIMEOUT" split_words:"true" default:"2s"`
	PollInitial    time.Duration `envconfig:"POLL_INITIAL" split_words:"true" default:"250ms"`
	PollMax        time.Duration `envconfig:"POLL_MAX" split_words:"true" default:"4s"`
}

// Manager serves the three derived namespace views over the append-only
// event log. It never performs extraction itself; it only observes the
// extractor's checkpoint to answer "has this batch settled yet".
type Manager struct {
	store Store
	cfg   Config
	now   func() time.Time
}

func NewManager(store Store, cfg Config) (*Manager, error) {
	if store == nil {
		return nil, errors.New("memory store is required")
	}
	if cfg.QueryLimit <= 0 {
		cfg.QueryLimit = 5
	}
	if cfg.ContextTimeout <= 0 {
		cfg.ContextTimeout = 2 * time.Second
	}
	if cfg.PollInitial <= 0 {
		cfg.PollInitial = 250 * time.Millisecond
	}
	if cfg.PollMax < cfg.PollInitial {
		cfg.PollMax = 4 * time.Second
	}
	return &Manager{store: store, cfg: cfg, now: time.Now}, nil
}

// Append durably records one event in the raw log. It returns as soon as
// the insert lands; derived views catch up whenever extraction runs.
func (m *Manager) Append(ctx context.Context, event contractx.MemoryEvent) error {
	if strings.TrimSpace(event.CustomerID) == "" {
		return fmt.Errorf("%w: event customer id is empty", contractx.ErrValidation)
	}
	if strings.TrimSpace(event.Content) == "" {
		return fmt.Errorf("%w: event content is empty", contractx.ErrValidation)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = m.now().UTC()
	}
	return m.store.InsertEvent(ctx, event)
}

// Query reads the current, possibly stale contents of one namespace view.
// A view the extractor has not populated yet is an empty result, not an
// error; only an unreachable store fails.
func (m *Manager) Query(ctx context.Context, customerID string, ns contractx.Namespace, search string) ([]contractx.MemoryRecord, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, fmt.Errorf("%w: customer id is empty", contractx.ErrValidation)
	}
	if !ns.Valid() {
		return nil, fmt.Errorf("%w: unknown namespace %q", contractx.ErrValidation, ns)
	}
	return m.store.QueryRecords(ctx, customerID, ns, search, m.cfg.QueryLimit)
}

// Context assembles the best-effort personalization context used before
// planning. Each namespace serves its most relevant records unfiltered;
// the wait is bounded, and any namespace failure degrades to an empty
// slice and flips the Degraded flag instead of failing the turn.
func (m *Manager) Context(ctx context.Context, customerID, utterance string) contractx.MemoryContext {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ContextTimeout)
	defer cancel()

	var out contractx.MemoryContext
	var degraded atomic.Bool
	g, gctx := errgroup.WithContext(ctx)

	fetch := func(ns contractx.Namespace, dst *[]contractx.MemoryRecord) func() error {
		return func() error {
			records, err := m.Query(gctx, customerID, ns, "")
			if err != nil {
				log.Warn().
					Str("customer_id", customerID).
					Str("namespace", string(ns)).
					Err(err).
					Msg("memory view degraded")
				degraded.Store(true)
				return nil
			}
			*dst = records
			return nil
		}
	}

	g.Go(fetch(contractx.NamespaceSummary, &out.Summary))
	g.Go(fetch(contractx.NamespacePreference, &out.Preferences))
	g.Go(fetch(contractx.NamespaceSemantic, &out.Facts))
	_ = g.Wait()

	out.Degraded = degraded.Load()
	return out
}

// AwaitExtraction blocks until the extractor's watermark covers events
// appended at or before since, polling with capped exponential backoff.
// The wait is bounded by ctx; expiry yields ErrExtractionPending rather
// than guessing at a fixed settle interval.
func (m *Manager) AwaitExtraction(ctx context.Context, customerID string, since time.Time) error {
	delay := m.cfg.PollInitial
	for {
		watermark, err := m.store.Checkpoint(ctx, customerID)
		if err != nil {
			return err
		}
		if !watermark.Before(since) {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: watermark=%s since=%s", ErrExtractionPending,
				watermark.Format(time.RFC3339), since.Format(time.RFC3339))
		case <-time.After(delay):
		}

		delay *= 2
		if delay > m.cfg.PollMax {
			delay = m.cfg.PollMax
		}
	}
}
