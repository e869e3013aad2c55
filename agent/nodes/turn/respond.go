package turnnode

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/caretaker-labs/caretaker/agent/contract"
)

// Respond asks the inference collaborator for the final reply. When the
// plan already carried a direct answer, no second model call is made.
func Respond(ctx context.Context, in *GraphState, responder contractx.Responder) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	in.Phase = PhaseResponding

	if text := strings.TrimSpace(in.Plan.FinalText); text != "" {
		in.Reply = text
		return in, nil
	}

	reply, err := responder.Respond(ctx, contractx.RespondRequest{
		CustomerID:  in.CustomerID,
		Utterance:   in.Utterance,
		Memory:      in.Memory,
		ToolResults: in.Results,
		Snippets:    in.Snippets,
		Degraded:    in.Degraded,
	})
	if err != nil {
		return nil, err
	}
	in.Reply = reply
	return in, nil
}
