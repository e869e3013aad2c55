package turnnode

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/caretaker-labs/caretaker/agent/contract"
)

// Finalize closes out the turn and emits the reply. An empty reply at
// this point means an upstream node broke its contract.
func Finalize(_ context.Context, in *GraphState) (*GraphOutput, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if strings.TrimSpace(in.Reply) == "" {
		return nil, fmt.Errorf("%w: turn produced an empty reply", contractx.ErrSchemaViolation)
	}
	return &GraphOutput{TurnID: in.TurnID, Reply: in.Reply}, nil
}
