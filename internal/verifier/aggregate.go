// Package verifier is the verification engine and its event-sourced aggregate.
// The aggregate keeps an explicit two-phase contract: HandleVerifyMessage is
// the pure decision step producing events from a read of the projection, and
// Apply is the separate fold step mutating it. The host serializes
// decide-commit-apply so replay stays deterministic.
package verifier

import (
	"time"

	"github.com/google/uuid"

	"registrar/internal/identity"
)

// Aggregate turns VerifyMessage commands into IdentityVerification events and
// folds accepted events back onto the identity state projection.
type Aggregate struct {
	state *identity.State
}

func NewAggregate(state *identity.State) *Aggregate {
	return &Aggregate{state: state}
}

// HandleVerifyMessage is the decision step. It reads the projection but never
// mutates it; the is_fully_verified flag therefore reflects only previously
// committed events, not the batch in progress. A command matching no identity
// returns no events and no error.
func (a *Aggregate) HandleVerifyMessage(msg ExternalMessage) ([]IdentityVerification, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	outcomes := a.state.VerifyMessage(msg.Field(), msg.Message)
	if len(outcomes) == 0 {
		return nil, nil
	}

	events := make([]IdentityVerification, 0, len(outcomes))
	for _, outcome := range outcomes {
		event := IdentityVerification{
			ID:              uuid.New(),
			PubKey:          outcome.PubKey,
			Field:           msg.Field(),
			ProvidedMessage: msg.Message,
			ExpectedMessage: outcome.ExpectedMessage,
			CreatedAt:       time.Now().UTC(),
		}
		if outcome.Status == identity.ValidityValid {
			event.IsValid = true
			fully, err := a.state.IsFullyVerified(outcome.PubKey)
			if err != nil {
				return nil, err
			}
			event.IsFullyVerified = fully
		}
		events = append(events, event)
	}
	return events, nil
}

// Apply folds one accepted event into the projection. Only valid events
// mutate; an invalid event is history, an audit record of a rejected attempt.
func (a *Aggregate) Apply(event IdentityVerification) error {
	if !event.IsValid {
		return nil
	}
	return a.state.SetVerified(event.PubKey, event.Field)
}
