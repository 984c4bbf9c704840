package identity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateChallenge(t *testing.T) {
	c1 := GenerateChallenge()
	c2 := GenerateChallenge()

	assert.Len(t, string(c1), challengeBytes*2)
	assert.NotEqual(t, c1, c2)
	assert.Equal(t, string(c1), c1.ExpectedMessage())
}

func TestFullyVerified(t *testing.T) {
	ident := OnChainIdentity{
		PubKey:  "alice",
		Twitter: NewAddressState("@alice"),
		Email:   NewAddressState("alice@example.com"),
	}
	assert.False(t, ident.FullyVerified())

	ident.Twitter.Validity = ValidityValid
	assert.False(t, ident.FullyVerified())

	ident.Email.Validity = ValidityValid
	assert.True(t, ident.FullyVerified())
}

func TestFullyVerifiedIgnoresUnregisteredFields(t *testing.T) {
	ident := OnChainIdentity{PubKey: "bob", Matrix: NewAddressState("@bob:matrix.org")}
	ident.Matrix.Validity = ValidityValid

	assert.True(t, ident.FullyVerified())
	assert.Nil(t, ident.Field(ChannelTwitter))
	assert.Len(t, ident.Fields(), 1)
}

func TestCloneIsIndependent(t *testing.T) {
	ident := OnChainIdentity{PubKey: "carol", Twitter: NewAddressState("@carol")}
	clone := ident.Clone()

	clone.Twitter.Validity = ValidityValid
	assert.Equal(t, ValidityUnknown, ident.Twitter.Validity)
}

func TestIdentityRoundTripsThroughJSON(t *testing.T) {
	ident := OnChainIdentity{
		PubKey:      "dave",
		DisplayName: NewAddressState("Dave"),
		Twitter:     NewAddressState("@dave"),
	}
	ident.Twitter.Validity = ValidityInvalid
	ident.Twitter.Confirmed = true

	raw, err := json.Marshal(ident)
	require.NoError(t, err)

	var decoded OnChainIdentity
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, ident, decoded)
	assert.Nil(t, decoded.Email)
}
