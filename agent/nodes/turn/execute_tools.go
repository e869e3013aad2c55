package turnnode

import (
	"context"
	"fmt"
	"sync"
	"time"

	contractx "github.com/caretaker-labs/caretaker/agent/contract"
)

// ExecuteTools runs the planned tool calls concurrently under the per-turn
// deadline. Every call reaches a terminal result: calls still in flight at
// the deadline are folded in as timeouts and the turn proceeds with
// whatever completed.
func ExecuteTools(
	ctx context.Context,
	in *GraphState,
	dispatcher contractx.Dispatcher,
	deadline time.Duration,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	in.Phase = PhaseExecuting

	calls := in.Plan.ToolCalls
	if len(calls) == 0 {
		return in, nil
	}

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	results := make([]contractx.ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call contractx.ToolCall) {
			defer wg.Done()

			done := make(chan contractx.ToolResult, 1)
			go func() {
				done <- dispatcher.Dispatch(ctx, call)
			}()

			select {
			case res := <-done:
				results[i] = res
			case <-ctx.Done():
				results[i] = contractx.ToolResult{
					Tool:        call.Tool,
					Status:      contractx.ToolStatusError,
					Detail:      fmt.Sprintf("%v: turn deadline reached", contractx.ErrInvocationTimeout),
					CompletedAt: time.Now().UTC(),
				}
			}
		}(i, call)
	}
	wg.Wait()

	in.Results = results
	return in, nil
}
