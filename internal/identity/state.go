package identity

import (
	"fmt"
	"strings"
	"sync"

	"registrar/pkg/platform/sentinel"
)

// State is the in-memory projection of on-chain identities and their field
// verification status. It is exclusively owned by the aggregate: VerifyMessage
// and the read accessors take the read lock, the mutators the write lock, so a
// decision computed from a stale read can never interleave with a fold.
type State struct {
	mu     sync.RWMutex
	idents map[PubKey]*OnChainIdentity
	order  []PubKey
}

func NewState() *State {
	return &State{idents: make(map[PubKey]*OnChainIdentity)}
}

// Add registers a new identity. Returns false if the pub key is already
// tracked; the existing record is kept untouched.
func (s *State) Add(ident OnChainIdentity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.idents[ident.PubKey]; ok {
		return false
	}
	clone := ident.Clone()
	s.idents[ident.PubKey] = &clone
	s.order = append(s.order, ident.PubKey)
	return true
}

// VerifyMessage scans all tracked identities whose unresolved AddressState
// matches the field and compares the provided text against the expected
// challenge message using exact substring containment. Fields already Valid
// produce no outcome; a structurally matching field without the token yields
// an Invalid outcome, recording a wrong or garbled attempt.
func (s *State) VerifyMessage(field IdentityField, provided string) []VerificationOutcome {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var outcomes []VerificationOutcome
	for _, pk := range s.order {
		state := s.idents[pk].Field(field.Channel)
		if state == nil || state.Address != field.Address {
			continue
		}
		if state.Validity == ValidityValid {
			// Re-sending a correct proof after success is a no-op.
			continue
		}
		status := ValidityInvalid
		if strings.Contains(provided, state.Challenge.ExpectedMessage()) {
			status = ValidityValid
		}
		outcomes = append(outcomes, VerificationOutcome{
			PubKey:          pk,
			Account:         Account{Channel: field.Channel, Address: state.Address},
			Status:          status,
			ExpectedMessage: state.Challenge.ExpectedMessage(),
		})
	}
	return outcomes
}

// IsFullyVerified reports whether every registered field of the identity has
// validity Valid.
func (s *State) IsFullyVerified(pk PubKey) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ident, ok := s.idents[pk]
	if !ok {
		return false, fmt.Errorf("identity %s: %w", pk, sentinel.ErrNotFound)
	}
	return ident.FullyVerified(), nil
}

// SetVerified flips the field's validity to Valid. It is the only write path
// for validity and is invoked solely by the aggregate after an event has been
// accepted.
func (s *State) SetVerified(pk PubKey, field IdentityField) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ident, ok := s.idents[pk]
	if !ok {
		return fmt.Errorf("identity %s: %w", pk, sentinel.ErrNotFound)
	}
	state := ident.Field(field.Channel)
	if state == nil || state.Address != field.Address {
		return fmt.Errorf("identity %s has no %s field for %q: %w",
			pk, field.Channel, field.Address, sentinel.ErrNotFound)
	}
	state.Validity = ValidityValid
	return nil
}

// SetConfirmed marks the awaiting-first-contact handshake as completed for
// every identity registered under the field.
func (s *State) SetConfirmed(field IdentityField) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ident := range s.idents {
		if state := ident.Field(field.Channel); state != nil && state.Address == field.Address {
			state.Confirmed = true
		}
	}
}

// ChallengeFor returns the live challenge for the account, if the account is a
// registered, unresolved verification candidate.
func (s *State) ChallengeFor(account Account) (Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, pk := range s.order {
		state := s.idents[pk].Field(account.Channel)
		if state == nil || state.Address != account.Address {
			continue
		}
		return state.Challenge, nil
	}
	return "", fmt.Errorf("no challenge for %s %q: %w",
		account.Channel, account.Address, sentinel.ErrNotFound)
}

// Get returns a snapshot of the identity.
func (s *State) Get(pk PubKey) (OnChainIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ident, ok := s.idents[pk]
	if !ok {
		return OnChainIdentity{}, fmt.Errorf("identity %s: %w", pk, sentinel.ErrNotFound)
	}
	return ident.Clone(), nil
}

// AllPending returns snapshots of every identity that is not yet fully
// verified, in admission order.
func (s *State) AllPending() []OnChainIdentity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []OnChainIdentity
	for _, pk := range s.order {
		if ident := s.idents[pk]; !ident.FullyVerified() {
			out = append(out, ident.Clone())
		}
	}
	return out
}

// VerifiedDisplayNames returns every display name that already reached
// validity Valid. Used by the display-name matcher to reject lookalikes.
func (s *State) VerifiedDisplayNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	for _, pk := range s.order {
		if state := s.idents[pk].DisplayName; state != nil && state.Validity == ValidityValid {
			names = append(names, state.Address)
		}
	}
	return names
}
