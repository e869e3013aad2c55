package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	contractx "github.com/caretaker-labs/caretaker/agent/contract"
)

type fakeMemStore struct {
	mu         sync.Mutex
	events     []contractx.MemoryEvent
	records    map[contractx.Namespace][]contractx.MemoryRecord
	queryErr   map[contractx.Namespace]error
	insertErr  error
	checkpoint time.Time
	checkErr   error
	checkCalls int
}

func (f *fakeMemStore) InsertEvent(ctx context.Context, event contractx.MemoryEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeMemStore) QueryRecords(ctx context.Context, customerID string, ns contractx.Namespace, search string, limit int) ([]contractx.MemoryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.queryErr[ns]; err != nil {
		return nil, err
	}
	return f.records[ns], nil
}

func (f *fakeMemStore) Checkpoint(ctx context.Context, customerID string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkCalls++
	if f.checkErr != nil {
		return time.Time{}, f.checkErr
	}
	return f.checkpoint, nil
}

func newTestManager(t *testing.T, store Store) *Manager {
	t.Helper()
	m, err := NewManager(store, Config{
		QueryLimit:     5,
		ContextTimeout: time.Second,
		PollInitial:    time.Millisecond,
		PollMax:        4 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

func TestAppendValidates(t *testing.T) {
	t.Parallel()

	store := &fakeMemStore{}
	m := newTestManager(t, store)

	err := m.Append(context.Background(), contractx.MemoryEvent{Content: "hi"})
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation for missing customer, got %v", err)
	}
	err = m.Append(context.Background(), contractx.MemoryEvent{CustomerID: "cust-1"})
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation for empty content, got %v", err)
	}

	if err := m.Append(context.Background(), contractx.MemoryEvent{
		CustomerID: "cust-1",
		Role:       "user",
		Content:    "I prefer refunds over store credit",
	}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if len(store.events) != 1 {
		t.Fatalf("expected one stored event, got %d", len(store.events))
	}
	if store.events[0].CreatedAt.IsZero() {
		t.Fatal("expected a stamped CreatedAt")
	}
}

func TestQueryEmptyViewIsNotAnError(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, &fakeMemStore{})

	records, err := m.Query(context.Background(), "cust-1", contractx.NamespacePreference, "refund")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected an empty view, got %d records", len(records))
	}
}

func TestQueryRejectsUnknownNamespace(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, &fakeMemStore{})

	_, err := m.Query(context.Background(), "cust-1", contractx.Namespace("episodic"), "")
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestQueryUnreachableStore(t *testing.T) {
	t.Parallel()

	store := &fakeMemStore{queryErr: map[contractx.Namespace]error{
		contractx.NamespaceSummary: fmt.Errorf("%w: connection refused", contractx.ErrMemoryUnavailable),
	}}
	m := newTestManager(t, store)

	_, err := m.Query(context.Background(), "cust-1", contractx.NamespaceSummary, "")
	if !errors.Is(err, contractx.ErrMemoryUnavailable) {
		t.Fatalf("expected ErrMemoryUnavailable, got %v", err)
	}
}

func TestContextFetchesAllNamespaces(t *testing.T) {
	t.Parallel()

	store := &fakeMemStore{records: map[contractx.Namespace][]contractx.MemoryRecord{
		contractx.NamespaceSummary:    {{Namespace: contractx.NamespaceSummary, Content: "returned a laptop in May"}},
		contractx.NamespacePreference: {{Namespace: contractx.NamespacePreference, Content: "prefers concise replies"}},
		contractx.NamespaceSemantic:   {{Namespace: contractx.NamespaceSemantic, Content: "owns model X headphones"}},
	}}
	m := newTestManager(t, store)

	out := m.Context(context.Background(), "cust-1", "refund please")
	if out.Degraded {
		t.Fatal("unexpected degraded context")
	}
	if len(out.Summary) != 1 || len(out.Preferences) != 1 || len(out.Facts) != 1 {
		t.Fatalf("unexpected context shape: %+v", out)
	}
}

func TestContextDegradesPerNamespace(t *testing.T) {
	t.Parallel()

	store := &fakeMemStore{
		records: map[contractx.Namespace][]contractx.MemoryRecord{
			contractx.NamespacePreference: {{Namespace: contractx.NamespacePreference, Content: "prefers email"}},
		},
		queryErr: map[contractx.Namespace]error{
			contractx.NamespaceSummary: fmt.Errorf("%w: timeout", contractx.ErrMemoryUnavailable),
		},
	}
	m := newTestManager(t, store)

	out := m.Context(context.Background(), "cust-1", "hello")
	if !out.Degraded {
		t.Fatal("expected the degraded flag")
	}
	if len(out.Summary) != 0 {
		t.Fatalf("failed namespace must come back empty, got %d", len(out.Summary))
	}
	if len(out.Preferences) != 1 {
		t.Fatal("healthy namespaces must still be served")
	}
}

func TestAwaitExtractionSettled(t *testing.T) {
	t.Parallel()

	since := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	store := &fakeMemStore{checkpoint: since.Add(time.Second)}
	m := newTestManager(t, store)

	if err := m.AwaitExtraction(context.Background(), "cust-1", since); err != nil {
		t.Fatalf("AwaitExtraction() error = %v", err)
	}
	if store.checkCalls != 1 {
		t.Fatalf("expected a single checkpoint read, got %d", store.checkCalls)
	}
}

func TestAwaitExtractionPollsUntilWatermark(t *testing.T) {
	t.Parallel()

	since := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	store := &fakeMemStore{}
	m := newTestManager(t, store)

	go func() {
		time.Sleep(10 * time.Millisecond)
		store.mu.Lock()
		store.checkpoint = since
		store.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.AwaitExtraction(ctx, "cust-1", since); err != nil {
		t.Fatalf("AwaitExtraction() error = %v", err)
	}
	if store.checkCalls < 2 {
		t.Fatalf("expected repeated polling, got %d calls", store.checkCalls)
	}
}

func TestAwaitExtractionBoundedWait(t *testing.T) {
	t.Parallel()

	store := &fakeMemStore{}
	m := newTestManager(t, store)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.AwaitExtraction(ctx, "cust-1", time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC))
	if !errors.Is(err, ErrExtractionPending) {
		t.Fatalf("expected ErrExtractionPending, got %v", err)
	}
}
