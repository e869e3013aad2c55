package turnnode

import (
	"context"
	"fmt"

	contractx "github.com/caretaker-labs/caretaker/agent/contract"
)

// ReadMemory fetches the personalization context under a bounded wait.
// A degraded memory subsystem never blocks the turn; the limitation is
// surfaced in the merged context instead.
func ReadMemory(ctx context.Context, in *GraphState, memory contractx.Memory) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	in.Memory = memory.Context(ctx, in.CustomerID, in.Utterance)
	if in.Memory.Degraded {
		in.Degraded = append(in.Degraded, "personalization context is incomplete")
	}
	return in, nil
}
