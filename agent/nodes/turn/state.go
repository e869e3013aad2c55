package turnnode

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	contractx "github.com/caretaker-labs/caretaker/agent/contract"
	statex "github.com/caretaker-labs/caretaker/agent/state"
)

var (
	ErrInvalidUtterance = errors.New("utterance is empty")
	ErrInvalidCustomer  = errors.New("customer id is empty")
)

// Phase mirrors the turn state machine for logging and inspection.
type Phase string

const (
	PhasePlanning    Phase = "planning"
	PhaseExecuting   Phase = "executing"
	PhaseIntegrating Phase = "integrating"
	PhaseResponding  Phase = "responding"
)

type GraphInput struct {
	CustomerID string
	Utterance  string
}

type GraphOutput struct {
	TurnID string
	Reply  string
}

// GraphState threads one turn through the pipeline nodes.
type GraphState struct {
	TurnID     string
	CustomerID string
	Utterance  string
	Now        time.Time
	Phase      Phase

	Session *statex.CustomerSession
	Memory  contractx.MemoryContext
	Plan    contractx.PlanResponse

	Results  []contractx.ToolResult
	Snippets []contractx.Snippet
	Degraded []string
	Patch    contractx.MemoryPatch

	Reply string
}

// ValidateTurn screens the incoming turn and stamps its identity.
func ValidateTurn(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	customerID := strings.TrimSpace(in.CustomerID)
	if customerID == "" {
		return nil, ErrInvalidCustomer
	}
	utterance := strings.TrimSpace(in.Utterance)
	if utterance == "" {
		return nil, ErrInvalidUtterance
	}

	return &GraphState{
		TurnID:     uuid.NewString(),
		CustomerID: customerID,
		Utterance:  utterance,
		Now:        nowFn().UTC(),
	}, nil
}
