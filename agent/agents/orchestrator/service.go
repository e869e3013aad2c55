package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"

	contractx "github.com/caretaker-labs/caretaker/agent/contract"
	turnnode "github.com/caretaker-labs/caretaker/agent/nodes/turn"
	statex "github.com/caretaker-labs/caretaker/agent/state"
)

var (
	ErrInvalidUtterance = turnnode.ErrInvalidUtterance
	ErrInvalidCustomer  = turnnode.ErrInvalidCustomer

	// ErrOrchestratorHalted is returned once the service has entered its
	// terminal error state; every later turn fails fast with the original
	// reason attached.
	ErrOrchestratorHalted = errors.New("orchestrator halted")
)

type Config struct {
	TurnDeadline time.Duration `envconfig:"TURN_DEADLINE" split_words:"true" default:"20s"`
}

// Orchestrator owns the turn pipeline. It is safe for concurrent use
// across customers; the runtime pool serializes turns per customer
// before they reach HandleTurn.
type Orchestrator struct {
	sessions   statex.Store
	planner    contractx.Planner
	responder  contractx.Responder
	dispatcher contractx.Dispatcher
	memory     contractx.Memory

	graphRunner compose.Runnable[turnnode.GraphInput, *turnnode.GraphOutput]

	turnDeadline time.Duration
	now          func() time.Time

	mu     sync.RWMutex
	halted error
}

func New(
	sessions statex.Store,
	planner contractx.Planner,
	responder contractx.Responder,
	dispatcher contractx.Dispatcher,
	memory contractx.Memory,
	cfg Config,
) (*Orchestrator, error) {
	if sessions == nil {
		return nil, errors.New("session store is required")
	}
	if planner == nil {
		return nil, errors.New("planner is required")
	}
	if responder == nil {
		return nil, errors.New("responder is required")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if memory == nil {
		return nil, errors.New("memory manager is required")
	}
	if cfg.TurnDeadline <= 0 {
		cfg.TurnDeadline = 20 * time.Second
	}

	o := &Orchestrator{
		sessions:     sessions,
		planner:      planner,
		responder:    responder,
		dispatcher:   dispatcher,
		memory:       memory,
		turnDeadline: cfg.TurnDeadline,
		now:          time.Now,
	}

	graphRunner, err := o.compileHandleTurnGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

// HandleTurn runs one conversational turn end to end and returns the
// reply. Per-tool failures are absorbed into the reply context; only an
// unreachable inference collaborator halts the service.
func (o *Orchestrator) HandleTurn(ctx context.Context, customerID, utterance string) (string, error) {
	if err := o.Halted(); err != nil {
		return "", err
	}

	out, err := o.graphRunner.Invoke(ctx, turnnode.GraphInput{
		CustomerID: customerID,
		Utterance:  utterance,
	})
	if err != nil {
		// A cancelled or expired turn fails on its own; halting is
		// reserved for genuine collaborator unreachability.
		if errors.Is(err, contractx.ErrPlannerInvoke) && ctx.Err() == nil {
			o.halt(err)
			log.Error().Err(err).Msg("orchestrator halted: inference collaborator unreachable")
		}
		return "", err
	}

	log.Debug().
		Str("customer_id", customerID).
		Str("turn_id", out.TurnID).
		Msg("turn completed")
	return out.Reply, nil
}

// Halted reports the terminal error state, if entered.
func (o *Orchestrator) Halted() error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.halted != nil {
		return fmt.Errorf("%w: %s", ErrOrchestratorHalted, o.halted)
	}
	return nil
}

func (o *Orchestrator) halt(reason error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.halted == nil {
		o.halted = reason
	}
}
