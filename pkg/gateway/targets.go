package gateway

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	contractx "github.com/caretaker-labs/caretaker/agent/contract"
)

// ReadinessState tracks a target's availability as seen by this client.
// Registration produces a pending target; a successful probe (or an
// external readiness report) promotes it to ready. The backing
// infrastructure is eventually consistent, so pending is the honest
// initial answer.
type ReadinessState string

const (
	StatePending     ReadinessState = "pending"
	StateReady       ReadinessState = "ready"
	StateUnavailable ReadinessState = "unavailable"
)

// Target is one registered external capability behind the gateway.
type Target struct {
	Name     string
	Endpoint string
	State    ReadinessState
}

// targetRegistry guards the target table with copy-on-register so invoke
// paths read without holding a write lock.
type targetRegistry struct {
	mu     sync.RWMutex
	byName map[string]Target
}

func newTargetRegistry() *targetRegistry {
	return &targetRegistry{byName: make(map[string]Target)}
}

func (r *targetRegistry) register(name, endpoint string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: target name is empty", contractx.ErrValidation)
	}
	endpoint = strings.TrimSpace(endpoint)
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return fmt.Errorf("%w: target %s endpoint: %v", contractx.ErrValidation, name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("%w: target %s already registered", contractx.ErrValidation, name)
	}
	next := make(map[string]Target, len(r.byName)+1)
	for k, v := range r.byName {
		next[k] = v
	}
	next[name] = Target{Name: name, Endpoint: endpoint, State: StatePending}
	r.byName = next
	return nil
}

func (r *targetRegistry) get(name string) (Target, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

func (r *targetRegistry) setState(name string, state ReadinessState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byName[name]
	if !ok {
		return
	}
	t.State = state
	next := make(map[string]Target, len(r.byName))
	for k, v := range r.byName {
		next[k] = v
	}
	next[name] = t
	r.byName = next
}
