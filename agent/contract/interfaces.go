package contract

import "context"

// Planner is the inference collaborator's planning boundary: given the turn
// context and the available tool schemas it returns desired tool calls or a
// direct final answer.
type Planner interface {
	Plan(ctx context.Context, req PlanRequest) (PlanResponse, error)
}

// Responder synthesizes the end-user reply from the merged turn context.
type Responder interface {
	Respond(ctx context.Context, req RespondRequest) (string, error)
}

// Dispatcher resolves and executes tool calls. Implementations isolate
// per-tool failures: Dispatch reports them inside the ToolResult.
type Dispatcher interface {
	Dispatch(ctx context.Context, call ToolCall) ToolResult
}

// Memory is the multi-namespace memory subsystem seen by the orchestrator.
type Memory interface {
	Append(ctx context.Context, event MemoryEvent) error
	Query(ctx context.Context, customerID string, ns Namespace, search string) ([]MemoryRecord, error)
	Context(ctx context.Context, customerID, utterance string) MemoryContext
}

// Retriever grounds replies with knowledge snippets, degrading on failure.
type Retriever interface {
	Search(ctx context.Context, query string) (RetrievalResult, error)
}
