package turnnode

import (
	"context"
	"fmt"

	contractx "github.com/caretaker-labs/caretaker/agent/contract"
	statex "github.com/caretaker-labs/caretaker/agent/state"
)

func SaveSession(ctx context.Context, in *GraphState, store statex.Store) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	in.Session.AppendTurn(contractx.TurnRecord{
		TurnID:    in.TurnID,
		Utterance: in.Utterance,
		Reply:     in.Reply,
		At:        in.Now,
	}, in.Now)

	if err := in.Session.Validate(); err != nil {
		return nil, fmt.Errorf("session validation failed: %w", err)
	}
	if err := store.Save(ctx, in.Session); err != nil {
		return nil, err
	}
	return in, nil
}
