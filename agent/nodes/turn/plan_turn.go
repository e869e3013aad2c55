package turnnode

import (
	"context"
	"fmt"

	contractx "github.com/caretaker-labs/caretaker/agent/contract"
)

const historyDepth = 6

func PlanTurn(ctx context.Context, in *GraphState, planner contractx.Planner) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	in.Phase = PhasePlanning

	plan, err := planner.Plan(ctx, contractx.PlanRequest{
		CustomerID: in.CustomerID,
		Utterance:  in.Utterance,
		Memory:     in.Memory,
		History:    in.Session.RecentTurns(historyDepth),
		Now:        in.Now,
	})
	if err != nil {
		return nil, err
	}

	for i := range plan.ToolCalls {
		plan.ToolCalls[i].TurnID = in.TurnID
	}
	in.Plan = plan
	return in, nil
}
