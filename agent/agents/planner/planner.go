package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/caretaker-labs/caretaker/agent/contract"
	promptx "github.com/caretaker-labs/caretaker/agent/prompt"
	inferencex "github.com/caretaker-labs/caretaker/pkg/inference"
)

// plannerImpl turns one utterance plus memory context into tool calls or
// a direct answer, via a tool-bound chat model.
type plannerImpl struct {
	runner       compose.Runnable[map[string]any, *schema.Message]
	allowedTools map[string]struct{}
}

var _ contractx.Planner = (*plannerImpl)(nil)

func (p *plannerImpl) Plan(ctx context.Context, req contractx.PlanRequest) (contractx.PlanResponse, error) {
	if strings.TrimSpace(req.Utterance) == "" {
		return contractx.PlanResponse{}, fmt.Errorf("%w: utterance is required", contractx.ErrValidation)
	}

	payload := map[string]any{
		"customer_id": req.CustomerID,
		"utterance":   req.Utterance,
		"memory":      req.Memory,
		"history":     req.History,
		"now":         req.Now,
	}
	input, err := json.Marshal(payload)
	if err != nil {
		return contractx.PlanResponse{}, fmt.Errorf("%w: marshal plan payload: %v", contractx.ErrValidation, err)
	}

	msg, err := p.runner.Invoke(ctx, map[string]any{"input": string(input)})
	if err != nil {
		// The caller's own cancellation or deadline is a failed turn, not
		// an unreachable collaborator; only the latter carries the
		// halting sentinel.
		if cause := ctx.Err(); cause != nil {
			return contractx.PlanResponse{}, fmt.Errorf("plan abandoned: %w", cause)
		}
		return contractx.PlanResponse{}, fmt.Errorf("%w: plan invoke: %v", contractx.ErrPlannerInvoke, err)
	}
	if msg == nil {
		return contractx.PlanResponse{}, fmt.Errorf("%w: empty plan response", contractx.ErrSchemaViolation)
	}

	calls, err := toToolCalls(msg.ToolCalls)
	if err != nil {
		return contractx.PlanResponse{}, err
	}

	if len(calls) == 0 {
		text := strings.TrimSpace(msg.Content)
		if text == "" {
			return contractx.PlanResponse{}, fmt.Errorf("%w: plan has neither tool calls nor text", contractx.ErrSchemaViolation)
		}
		return contractx.PlanResponse{FinalText: text}, nil
	}

	for _, call := range calls {
		if _, ok := p.allowedTools[call.Tool]; !ok {
			return contractx.PlanResponse{}, fmt.Errorf("%w: planned tool %q is not registered", contractx.ErrSchemaViolation, call.Tool)
		}
	}
	return contractx.PlanResponse{ToolCalls: calls}, nil
}

// responderImpl synthesizes the final reply from the merged turn context.
type responderImpl struct {
	runner compose.Runnable[map[string]any, *schema.Message]
}

var _ contractx.Responder = (*responderImpl)(nil)

func (r *responderImpl) Respond(ctx context.Context, req contractx.RespondRequest) (string, error) {
	payload := map[string]any{
		"customer_id":  req.CustomerID,
		"utterance":    req.Utterance,
		"memory":       req.Memory,
		"tool_results": req.ToolResults,
		"snippets":     req.Snippets,
		"degraded":     req.Degraded,
	}
	input, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: marshal respond payload: %v", contractx.ErrValidation, err)
	}

	msg, err := r.runner.Invoke(ctx, map[string]any{"input": string(input)})
	if err != nil {
		if cause := ctx.Err(); cause != nil {
			return "", fmt.Errorf("respond abandoned: %w", cause)
		}
		return "", fmt.Errorf("%w: respond invoke: %v", contractx.ErrPlannerInvoke, err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", fmt.Errorf("%w: responder returned empty text", contractx.ErrSchemaViolation)
	}
	return strings.TrimSpace(msg.Content), nil
}

// NewEngine builds the planning and responding collaborators over one
// configured chat model, binding the registered tool schemas to the
// planning flow.
func NewEngine(
	ctx context.Context,
	builder inferencex.ModelBuilder,
	tools []*schema.ToolInfo,
) (contractx.Planner, contractx.Responder, error) {
	chatModel, err := builder.New(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: create chat model: %v", contractx.ErrPlannerInvoke, err)
	}

	prompts := promptx.LoadPromptSet()

	toolModel, err := chatModel.WithTools(tools)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: bind tools: %v", contractx.ErrPlannerInvoke, err)
	}

	planRunner, err := compileModelGraph(ctx, toolModel, prompts.Planner, "planner.plan_graph")
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", contractx.ErrPlannerInvoke, err)
	}
	respondRunner, err := compileModelGraph(ctx, chatModel, prompts.Responder, "planner.respond_graph")
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", contractx.ErrPlannerInvoke, err)
	}

	allowed := make(map[string]struct{}, len(tools))
	for _, t := range tools {
		if t == nil || strings.TrimSpace(t.Name) == "" {
			continue
		}
		allowed[t.Name] = struct{}{}
	}

	return &plannerImpl{runner: planRunner, allowedTools: allowed},
		&responderImpl{runner: respondRunner},
		nil
}

func toToolCalls(calls []schema.ToolCall) ([]contractx.ToolCall, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	out := make([]contractx.ToolCall, 0, len(calls))
	for _, call := range calls {
		tool := strings.TrimSpace(call.Function.Name)
		if tool == "" {
			return nil, fmt.Errorf("%w: tool call name is empty", contractx.ErrSchemaViolation)
		}

		args := map[string]any{}
		if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return nil, fmt.Errorf("%w: invalid args for tool=%s: %v", contractx.ErrSchemaViolation, tool, err)
			}
		}
		out = append(out, contractx.ToolCall{Tool: tool, Args: args})
	}
	return out, nil
}
