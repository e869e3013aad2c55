package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type recordingHandler struct {
	mu      sync.Mutex
	byCust  map[string][]string
	inGate  chan struct{}
	block   chan struct{}
	failFor string
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{byCust: make(map[string][]string)}
}

func (h *recordingHandler) HandleTurn(ctx context.Context, customerID, utterance string) (string, error) {
	if h.inGate != nil {
		h.inGate <- struct{}{}
	}
	if h.block != nil {
		<-h.block
	}
	h.mu.Lock()
	h.byCust[customerID] = append(h.byCust[customerID], utterance)
	h.mu.Unlock()
	if customerID == h.failFor {
		return "", errors.New("turn failed")
	}
	return "reply to " + utterance, nil
}

func (h *recordingHandler) turns(customerID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.byCust[customerID]...)
}

func TestPoolSerializesSameCustomer(t *testing.T) {
	t.Parallel()

	handler := newRecordingHandler()
	pool, err := NewPool(handler, PoolConfig{Lanes: 4, QueueSize: 32})
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}

	var results []<-chan TurnResult
	for i := 0; i < 10; i++ {
		done, err := pool.Submit(context.Background(), "cust-1", fmt.Sprintf("turn-%d", i))
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		results = append(results, done)
	}
	for _, done := range results {
		if res := <-done; res.Err != nil {
			t.Fatalf("turn error: %v", res.Err)
		}
	}
	pool.Close()

	turns := handler.turns("cust-1")
	for i, got := range turns {
		if want := fmt.Sprintf("turn-%d", i); got != want {
			t.Fatalf("turn %d out of order: got %s, want %s", i, got, want)
		}
	}
}

func TestPoolRunsCustomersConcurrently(t *testing.T) {
	t.Parallel()

	handler := newRecordingHandler()
	handler.inGate = make(chan struct{}, 4)
	handler.block = make(chan struct{})

	pool, err := NewPool(handler, PoolConfig{Lanes: 8, QueueSize: 4})
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	defer pool.Close()

	// cust-a and cust-b land on different fnv lanes with 8 lanes.
	if _, err := pool.Submit(context.Background(), "cust-a", "hello"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := pool.Submit(context.Background(), "cust-b", "hello"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-handler.inGate:
		case <-time.After(2 * time.Second):
			t.Fatal("expected both customers in flight at once")
		}
	}
	close(handler.block)
}

func TestPoolReportsHandlerErrors(t *testing.T) {
	t.Parallel()

	handler := newRecordingHandler()
	handler.failFor = "cust-bad"
	pool, err := NewPool(handler, PoolConfig{})
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	defer pool.Close()

	done, err := pool.Submit(context.Background(), "cust-bad", "hello")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if res := <-done; res.Err == nil {
		t.Fatal("expected the handler error in the result")
	}
}

func TestPoolRejectsAfterClose(t *testing.T) {
	t.Parallel()

	pool, err := NewPool(newRecordingHandler(), PoolConfig{})
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	pool.Close()

	if _, err := pool.Submit(context.Background(), "cust-1", "hello"); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
}

func TestPoolDropsTurnWithCancelledContext(t *testing.T) {
	t.Parallel()

	pool, err := NewPool(newRecordingHandler(), PoolConfig{})
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done, err := pool.Submit(ctx, "cust-1", "hello")
	if err != nil {
		// Cancellation during enqueue is also acceptable.
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected Submit error: %v", err)
		}
		return
	}
	if res := <-done; !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", res.Err)
	}
}
