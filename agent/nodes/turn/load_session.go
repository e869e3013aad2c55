package turnnode

import (
	"context"
	"errors"
	"fmt"

	contractx "github.com/caretaker-labs/caretaker/agent/contract"
	statex "github.com/caretaker-labs/caretaker/agent/state"
)

func LoadSession(ctx context.Context, in *GraphState, store statex.Store) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	session, err := store.Load(ctx, in.CustomerID)
	if err != nil {
		if !errors.Is(err, statex.ErrSessionNotFound) {
			return nil, err
		}
		session = statex.NewCustomerSession(in.CustomerID, in.Now)
	}
	in.Session = session
	return in, nil
}
