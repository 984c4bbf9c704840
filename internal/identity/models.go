package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// ChannelType names the off-chain channel a proof travels through.
type ChannelType string

const (
	ChannelDisplayName ChannelType = "display_name"
	ChannelLegalName   ChannelType = "legal_name"
	ChannelEmail       ChannelType = "email"
	ChannelWeb         ChannelType = "web"
	ChannelTwitter     ChannelType = "twitter"
	ChannelMatrix      ChannelType = "matrix"
)

// PubKey identifies an on-chain identity.
type PubKey string

// Account is an external identifier plus its channel type. Equality is
// structural; values are never mutated after creation.
type Account struct {
	Channel ChannelType `json:"channel"`
	Address string      `json:"address"`
}

// IdentityField identifies which proof, on which channel, for which field an
// inbound message is supposed to satisfy.
type IdentityField struct {
	Channel ChannelType `json:"channel"`
	Address string      `json:"address"`
}

// Challenge is an opaque random token bound to one (address, field) pair at
// creation time. Regenerating a challenge invalidates any unconfirmed prior
// proof for that field.
type Challenge string

const challengeBytes = 16

// GenerateChallenge draws a fresh cryptographically random token of fixed length.
func GenerateChallenge() Challenge {
	buf := make([]byte, challengeBytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(fmt.Sprintf("identity: generate challenge: %v", err))
	}
	return Challenge(hex.EncodeToString(buf))
}

// ExpectedMessage is the exact text the account holder must include in their
// proof message. Matching is containment, so this is the token itself.
func (c Challenge) ExpectedMessage() string {
	return string(c)
}

// AddressValidity tracks the verification status of a single field.
type AddressValidity string

const (
	ValidityUnknown AddressValidity = "unknown"
	ValidityValid   AddressValidity = "valid"
	ValidityInvalid AddressValidity = "invalid"
)

// AddressState is the per-identity, per-field verification record. It is
// mutated only by the aggregate in response to accepted events.
type AddressState struct {
	Address   string          `json:"address"`
	Validity  AddressValidity `json:"validity"`
	Challenge Challenge       `json:"challenge"`
	// Confirmed reports whether the channel's awaiting-first-contact
	// handshake has completed.
	Confirmed bool `json:"confirmed"`
}

// NewAddressState creates an unresolved record with a fresh challenge.
func NewAddressState(address string) *AddressState {
	return &AddressState{
		Address:   address,
		Validity:  ValidityUnknown,
		Challenge: GenerateChallenge(),
	}
}

// OnChainIdentity is a public key plus one optional AddressState per supported
// field type.
type OnChainIdentity struct {
	PubKey      PubKey        `json:"pub_key"`
	DisplayName *AddressState `json:"display_name,omitempty"`
	LegalName   *AddressState `json:"legal_name,omitempty"`
	Email       *AddressState `json:"email,omitempty"`
	Web         *AddressState `json:"web,omitempty"`
	Twitter     *AddressState `json:"twitter,omitempty"`
	Matrix      *AddressState `json:"matrix,omitempty"`
}

// Field returns the AddressState registered for the given channel, or nil.
func (id *OnChainIdentity) Field(ch ChannelType) *AddressState {
	switch ch {
	case ChannelDisplayName:
		return id.DisplayName
	case ChannelLegalName:
		return id.LegalName
	case ChannelEmail:
		return id.Email
	case ChannelWeb:
		return id.Web
	case ChannelTwitter:
		return id.Twitter
	case ChannelMatrix:
		return id.Matrix
	}
	return nil
}

// Fields returns every registered (channel, state) pair in declaration order.
func (id *OnChainIdentity) Fields() map[ChannelType]*AddressState {
	fields := make(map[ChannelType]*AddressState, 6)
	for _, ch := range []ChannelType{
		ChannelDisplayName, ChannelLegalName, ChannelEmail,
		ChannelWeb, ChannelTwitter, ChannelMatrix,
	} {
		if state := id.Field(ch); state != nil {
			fields[ch] = state
		}
	}
	return fields
}

// FullyVerified reports whether every registered field has validity Valid.
func (id *OnChainIdentity) FullyVerified() bool {
	for _, state := range id.Fields() {
		if state.Validity != ValidityValid {
			return false
		}
	}
	return true
}

// Clone deep-copies the identity so projections can hand out snapshots without
// sharing mutable state.
func (id *OnChainIdentity) Clone() OnChainIdentity {
	out := OnChainIdentity{PubKey: id.PubKey}
	cp := func(s *AddressState) *AddressState {
		if s == nil {
			return nil
		}
		c := *s
		return &c
	}
	out.DisplayName = cp(id.DisplayName)
	out.LegalName = cp(id.LegalName)
	out.Email = cp(id.Email)
	out.Web = cp(id.Web)
	out.Twitter = cp(id.Twitter)
	out.Matrix = cp(id.Matrix)
	return out
}

// VerificationOutcome is the transient result of matching one inbound message
// against a live challenge. It is never persisted; the aggregate turns it into
// an IdentityVerification event.
type VerificationOutcome struct {
	PubKey          PubKey
	Account         Account
	Status          AddressValidity
	ExpectedMessage string
}
