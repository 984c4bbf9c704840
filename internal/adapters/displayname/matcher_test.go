package displayname

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"registrar/internal/comms"
	"registrar/internal/eventlog"
	"registrar/internal/identity"
	"registrar/internal/store"
	"registrar/internal/verifier"
)

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, similarity("Alice", "alice"))
	assert.Equal(t, 0.0, similarity("", "alice"))
	assert.InDelta(t, 0.8, similarity("alice", "alica"), 0.001)
	assert.Less(t, similarity("alice", "zzzzz"), 0.2)
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein([]rune("kitten"), []rune("kitten")))
	assert.Equal(t, 3, levenshtein([]rune("kitten"), []rune("sitting")))
	assert.Equal(t, 5, levenshtein([]rune(""), []rune("hello")))
}

type matcherFixture struct {
	matcher *Matcher
	service *verifier.Service
	state   *identity.State
	log     *eventlog.MemoryLog
}

func newMatcherFixture(t *testing.T, limit float64) *matcherFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &matcherFixture{
		state: identity.NewState(),
		log:   eventlog.NewMemoryLog(),
	}
	bus := comms.NewBus(16)
	bus.Register(comms.ChannelConnector)
	conn := bus.Register(identity.ChannelDisplayName)

	f.service = verifier.NewService(
		f.state, f.log, bus,
		store.NewMemoryPendingIdentities(), store.NewMemoryRoomBindings(),
		logger,
	)
	f.matcher = New(conn, f.service, f.state, limit, logger)
	return f
}

func (f *matcherFixture) addCandidate(t *testing.T, pk identity.PubKey, name string) {
	t.Helper()
	require.True(t, f.state.Add(identity.OnChainIdentity{
		PubKey:      pk,
		DisplayName: identity.NewAddressState(name),
	}))
}

func (f *matcherFixture) addVerified(t *testing.T, pk identity.PubKey, name string) {
	t.Helper()
	f.addCandidate(t, pk, name)
	require.NoError(t, f.state.SetVerified(pk, identity.IdentityField{
		Channel: identity.ChannelDisplayName, Address: name,
	}))
}

func TestJudgeAcceptsDistinctName(t *testing.T) {
	ctx := context.Background()
	f := newMatcherFixture(t, 0.85)
	f.addVerified(t, "alice", "Alice")
	f.addCandidate(t, "bob", "Bob")

	require.NoError(t, f.matcher.judge(ctx, identity.Account{
		Channel: identity.ChannelDisplayName, Address: "Bob",
	}))

	got, err := f.service.RequestState("bob")
	require.NoError(t, err)
	assert.Equal(t, identity.ValidityValid, got.DisplayName.Validity)
}

func TestJudgeRejectsLookalike(t *testing.T) {
	ctx := context.Background()
	f := newMatcherFixture(t, 0.85)
	f.addVerified(t, "alice", "Alice")
	f.addCandidate(t, "mallory", "alice")

	require.NoError(t, f.matcher.judge(ctx, identity.Account{
		Channel: identity.ChannelDisplayName, Address: "alice",
	}))

	// The rejection lands as an Invalid audit event; the field stays
	// unresolved.
	got, err := f.service.RequestState("mallory")
	require.NoError(t, err)
	assert.Equal(t, identity.ValidityUnknown, got.DisplayName.Validity)

	events, err := f.log.All(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].IsValid)
	assert.Equal(t, identity.PubKey("mallory"), events[0].PubKey)
}

func TestJudgeIgnoresUnknownName(t *testing.T) {
	ctx := context.Background()
	f := newMatcherFixture(t, 0.85)

	require.NoError(t, f.matcher.judge(ctx, identity.Account{
		Channel: identity.ChannelDisplayName, Address: "Nobody",
	}))

	events, err := f.log.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestAcceptableHonorsLimit(t *testing.T) {
	strict := newMatcherFixture(t, 0.5)
	strict.addVerified(t, "alice", "Alice")
	assert.False(t, strict.matcher.acceptable("Alicia"))
	assert.True(t, strict.matcher.acceptable("Zebra"))

	lenient := newMatcherFixture(t, 1.0)
	lenient.addVerified(t, "alice", "Alice")
	assert.True(t, lenient.matcher.acceptable("Alicia"))
	assert.False(t, lenient.matcher.acceptable("alice"))
}
