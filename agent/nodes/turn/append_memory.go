package turnnode

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/caretaker-labs/caretaker/agent/contract"
)

// appendTimeout bounds the background write so a stalled store cannot
// leak goroutines across turns.
const appendTimeout = 5 * time.Second

// AppendMemory records the turn's raw events in the append-only log.
// The write happens off the turn path; a failed append degrades future
// personalization but never the reply already produced.
func AppendMemory(ctx context.Context, in *GraphState, mem contractx.Memory) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	events := []contractx.MemoryEvent{
		{
			CustomerID: in.CustomerID,
			SessionID:  in.TurnID,
			Role:       "user",
			Content:    in.Utterance,
			CreatedAt:  in.Now,
		},
		{
			CustomerID: in.CustomerID,
			SessionID:  in.TurnID,
			Role:       "assistant",
			Content:    in.Reply,
			CreatedAt:  in.Now,
		},
	}

	keys := make([]string, 0, len(in.Patch))
	for k := range in.Patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		events = append(events, contractx.MemoryEvent{
			CustomerID: in.CustomerID,
			SessionID:  in.TurnID,
			Role:       "system",
			Content:    k + "=" + in.Patch[k],
			CreatedAt:  in.Now,
		})
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
		defer cancel()
		for _, event := range events {
			if err := mem.Append(ctx, event); err != nil {
				log.Warn().
					Str("customer_id", event.CustomerID).
					Str("turn_id", event.SessionID).
					Str("role", event.Role).
					Err(err).
					Msg("memory append dropped")
			}
		}
	}()

	return in, nil
}
