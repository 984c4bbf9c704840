package verifier

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"registrar/internal/identity"
)

// ExternalMessage is one inbound unit of proof, produced exclusively by
// channel adapters.
type ExternalMessage struct {
	Origin identity.ChannelType `json:"origin"`
	// FieldAddress is the sender's address on the origin channel.
	FieldAddress string `json:"field_address"`
	Message      string `json:"message"`
	// NativeID is the sender-channel-native message id.
	NativeID string `json:"native_id"`
	// Created is the channel-reported unix timestamp of the message.
	Created uint64 `json:"created"`
}

// MalformedMessageError reports a structurally invalid command. It fails the
// whole command rather than silently dropping data.
type MalformedMessageError struct {
	Missing string
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("malformed external message: missing %s", e.Missing)
}

// Validate checks the structural invariants of the command payload.
func (m ExternalMessage) Validate() error {
	switch {
	case m.Origin == "":
		return &MalformedMessageError{Missing: "origin"}
	case m.FieldAddress == "":
		return &MalformedMessageError{Missing: "field address"}
	case m.NativeID == "":
		return &MalformedMessageError{Missing: "native message id"}
	case m.Created == 0:
		return &MalformedMessageError{Missing: "timestamp"}
	}
	return nil
}

// Field derives the identity field an inbound message is supposed to satisfy.
func (m ExternalMessage) Field() identity.IdentityField {
	return identity.IdentityField{Channel: m.Origin, Address: m.FieldAddress}
}

// IdentityVerification is the persisted, replayable fact produced by judging
// one message against one live challenge. It is the unit the aggregate applies
// to mutate AddressState.
type IdentityVerification struct {
	ID              uuid.UUID              `json:"id"`
	PubKey          identity.PubKey        `json:"pub_key"`
	Field           identity.IdentityField `json:"field"`
	ProvidedMessage string                 `json:"provided_message"`
	ExpectedMessage string                 `json:"expected_message"`
	IsValid         bool                   `json:"is_valid"`
	// IsFullyVerified is computed at emission time from the state store,
	// reflecting only previously committed events.
	IsFullyVerified bool      `json:"is_fully_verified"`
	CreatedAt       time.Time `json:"created_at"`
}
