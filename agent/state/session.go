package state

import (
	"errors"
	"strings"
	"time"

	contractx "github.com/caretaker-labs/caretaker/agent/contract"
)

var (
	ErrNilSession        = errors.New("customer session is nil")
	ErrInvalidCustomerID = errors.New("customer id is empty")
)

// CustomerSession is the per-customer conversation record. It is owned by
// the orchestrator for the duration of a turn; the runtime pool guarantees
// no two turns for the same customer touch it concurrently.
type CustomerSession struct {
	CustomerID string                 `json:"customer_id"`
	Turns      []contractx.TurnRecord `json:"turns,omitempty"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

func NewCustomerSession(customerID string, now time.Time) *CustomerSession {
	return &CustomerSession{
		CustomerID: customerID,
		UpdatedAt:  now.UTC(),
	}
}

func (s *CustomerSession) AppendTurn(turn contractx.TurnRecord, now time.Time) {
	s.Turns = append(s.Turns, turn)
	s.UpdatedAt = now.UTC()
}

// RecentTurns returns up to n most recent turns, oldest first.
func (s *CustomerSession) RecentTurns(n int) []contractx.TurnRecord {
	if s == nil || n <= 0 || len(s.Turns) == 0 {
		return nil
	}
	if len(s.Turns) <= n {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-n:]
}

func (s *CustomerSession) Validate() error {
	if s == nil {
		return ErrNilSession
	}
	if strings.TrimSpace(s.CustomerID) == "" {
		return ErrInvalidCustomerID
	}
	return nil
}
