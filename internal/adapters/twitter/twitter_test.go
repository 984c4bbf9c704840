package twitter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"registrar/internal/comms"
	"registrar/internal/eventlog"
	"registrar/internal/identity"
	"registrar/internal/store"
	"registrar/internal/verifier"
)

const selfID = "999"

type sentMessage struct {
	RecipientID string
	Text        string
}

// fakeAPI is an in-memory stand-in for the Twitter v1.1 surface.
type fakeAPI struct {
	mu       sync.Mutex
	messages []DirectMessage
	users    []User
	sent     []sentMessage
	sendErr  error
	listErr  error
}

func (f *fakeAPI) ListMessages(context.Context) ([]DirectMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]DirectMessage(nil), f.messages...), nil
}

func (f *fakeAPI) LookupUsers(_ context.Context, ids, screenNames []string) ([]User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []User
	for _, user := range f.users {
		for _, id := range ids {
			if user.ID == id {
				out = append(out, user)
			}
		}
		for _, name := range screenNames {
			if user.ScreenName == strings.TrimPrefix(name, "@") {
				out = append(out, user)
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("twitter lookup returned no users")
	}
	return out, nil
}

func (f *fakeAPI) SendMessage(_ context.Context, recipientID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentMessage{RecipientID: recipientID, Text: text})
	return nil
}

func (f *fakeAPI) sentTo(recipientID string) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, msg := range f.sent {
		if msg.RecipientID == recipientID {
			out = append(out, msg)
		}
	}
	return out
}

type adapterFixture struct {
	adapter    *Adapter
	api        *fakeAPI
	service    *verifier.Service
	state      *identity.State
	log        *eventlog.MemoryLog
	watermarks *store.MemoryWatermarks
	ids        *store.MemoryTwitterIDs
	connector  *comms.Conn
}

func newAdapterFixture(t *testing.T) *adapterFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &adapterFixture{
		api:        &fakeAPI{users: []User{{ID: selfID, ScreenName: "registrar_bot"}}},
		state:      identity.NewState(),
		log:        eventlog.NewMemoryLog(),
		watermarks: store.NewMemoryWatermarks(),
		ids:        store.NewMemoryTwitterIDs(),
	}

	bus := comms.NewBus(16)
	f.connector = bus.Register(comms.ChannelConnector)
	conn := bus.Register(identity.ChannelTwitter)

	f.service = verifier.NewService(
		f.state, f.log, bus,
		store.NewMemoryPendingIdentities(), store.NewMemoryRoomBindings(),
		logger,
	)
	f.adapter = New(f.api, conn, f.service, f.watermarks, f.ids,
		"registrar_bot", time.Minute, logger, nil)
	return f
}

// registerCandidate admits one identity with a twitter field and a known
// challenge, plus a matching directory entry.
func (f *adapterFixture) registerCandidate(t *testing.T, pk identity.PubKey, twitterID, screenName string, challenge identity.Challenge) {
	t.Helper()
	require.True(t, f.state.Add(identity.OnChainIdentity{
		PubKey: pk,
		Twitter: &identity.AddressState{
			Address:   "@" + screenName,
			Validity:  identity.ValidityUnknown,
			Challenge: challenge,
		},
	}))
	f.api.users = append(f.api.users, User{ID: twitterID, ScreenName: screenName})
}

func (f *adapterFixture) addMessage(senderID, text string, created uint64) {
	f.api.mu.Lock()
	defer f.api.mu.Unlock()
	f.api.messages = append(f.api.messages, DirectMessage{
		SenderID: senderID, Text: text, Created: created,
	})
}

func (f *adapterFixture) watermark(t *testing.T) uint64 {
	t.Helper()
	mark, err := f.watermarks.Watermark(context.Background(), identity.ChannelTwitter)
	require.NoError(t, err)
	return mark
}

func TestTickFirstContactThenProof(t *testing.T) {
	ctx := context.Background()
	f := newAdapterFixture(t)
	f.registerCandidate(t, "alice", "111", "alice", "ABC123")

	// First contact from an uninduced sender: the adapter answers with the
	// initiation message and judges nothing.
	f.addMessage("111", "hello, I would like to verify", 5)
	require.NoError(t, f.adapter.tick(ctx))

	sent := f.api.sentTo("111")
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "ABC123")

	events, err := f.log.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)

	got, err := f.service.RequestState("alice")
	require.NoError(t, err)
	assert.Equal(t, identity.ValidityUnknown, got.Twitter.Validity)
	assert.True(t, got.Twitter.Confirmed)
	assert.Equal(t, uint64(5), f.watermark(t))

	// The proof arrives on a later tick.
	f.addMessage("111", "please verify ABC123 thanks", 10)
	require.NoError(t, f.adapter.tick(ctx))

	events, err = f.log.All(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].IsValid)

	got, err = f.service.RequestState("alice")
	require.NoError(t, err)
	assert.Equal(t, identity.ValidityValid, got.Twitter.Validity)

	sent = f.api.sentTo("111")
	require.Len(t, sent, 2)
	assert.Contains(t, sent[1].Text, "verified successfully")
	assert.Equal(t, uint64(10), f.watermark(t))

	select {
	case msg := <-f.connector.Recv():
		valid, ok := msg.(comms.ValidAddress)
		require.True(t, ok, "expected ValidAddress, got %T", msg)
		assert.Equal(t, identity.PubKey("alice"), valid.PubKey)
	default:
		t.Fatal("no status notification delivered")
	}
}

func TestTickBatchOrderingWrongThenCorrect(t *testing.T) {
	ctx := context.Background()
	f := newAdapterFixture(t)
	f.registerCandidate(t, "alice", "111", "alice", "ABC123")

	// Sender already induced on a previous run.
	account := identity.Account{Channel: identity.ChannelTwitter, Address: "@alice"}
	require.NoError(t, f.ids.Save(ctx, "111", account))
	require.NoError(t, f.ids.ConfirmInit(ctx, "111"))

	f.addMessage("111", "is it maybe XYZ?", 5)
	f.addMessage("111", "ah no: ABC123", 6)
	require.NoError(t, f.adapter.tick(ctx))

	events, err := f.log.All(ctx)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.False(t, events[0].IsValid)
	assert.True(t, events[1].IsValid)

	got, err := f.service.RequestState("alice")
	require.NoError(t, err)
	assert.Equal(t, identity.ValidityValid, got.Twitter.Validity)

	// One response message summarizing the whole batch.
	require.Len(t, f.api.sentTo("111"), 1)
	assert.Equal(t, uint64(6), f.watermark(t))
}

func TestTickFiltersOwnAndAlreadyProcessedMessages(t *testing.T) {
	ctx := context.Background()
	f := newAdapterFixture(t)
	f.registerCandidate(t, "alice", "111", "alice", "ABC123")
	require.NoError(t, f.watermarks.Set(ctx, identity.ChannelTwitter, 10))

	f.addMessage(selfID, "outbound init message", 20)
	f.addMessage("111", "ABC123", 8)
	require.NoError(t, f.adapter.tick(ctx))

	assert.Empty(t, f.api.sent)
	events, err := f.log.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, uint64(10), f.watermark(t))
}

func TestTickWatermarkHeldBackOnFailure(t *testing.T) {
	ctx := context.Background()
	f := newAdapterFixture(t)
	f.registerCandidate(t, "alice", "111", "alice", "ABC123")

	account := identity.Account{Channel: identity.ChannelTwitter, Address: "@alice"}
	require.NoError(t, f.ids.Save(ctx, "111", account))
	require.NoError(t, f.ids.ConfirmInit(ctx, "111"))

	f.addMessage("111", "ABC123", 7)
	f.api.sendErr = errors.New("rate limited")

	require.Error(t, f.adapter.tick(ctx))
	assert.Zero(t, f.watermark(t))

	// The next tick re-judges the batch; re-verifying an already Valid
	// field is a no-op and the watermark finally advances.
	f.api.sendErr = nil
	require.NoError(t, f.adapter.tick(ctx))

	events, err := f.log.All(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, uint64(7), f.watermark(t))
}

func TestTickIgnoresUnregisteredSenders(t *testing.T) {
	ctx := context.Background()
	f := newAdapterFixture(t)
	f.registerCandidate(t, "alice", "111", "alice", "ABC123")
	// Bob is on the directory but claims no identity field.
	f.api.users = append(f.api.users, User{ID: "222", ScreenName: "bob"})

	f.addMessage("222", "hello?", 4)
	require.NoError(t, f.adapter.tick(ctx))

	assert.Empty(t, f.api.sentTo("222"))
	assert.Equal(t, uint64(4), f.watermark(t))
}

func TestTickResolvesSendersThroughCache(t *testing.T) {
	ctx := context.Background()
	f := newAdapterFixture(t)
	f.registerCandidate(t, "alice", "111", "alice", "ABC123")

	f.addMessage("111", "hello", 3)
	require.NoError(t, f.adapter.tick(ctx))

	// The bulk lookup result was cached with the induction flag.
	cached, err := f.ids.Lookup(ctx, "111")
	require.NoError(t, err)
	assert.Equal(t, "@alice", cached.Account.Address)
	assert.True(t, cached.InitSent)
}

func TestDeliverChallengeOnInform(t *testing.T) {
	ctx := context.Background()
	f := newAdapterFixture(t)
	f.registerCandidate(t, "alice", "111", "alice", "ABC123")

	f.adapter.handleComms(ctx, comms.Inform{
		PubKey:    "alice",
		Account:   identity.Account{Channel: identity.ChannelTwitter, Address: "@alice"},
		Challenge: "ABC123",
	})

	sent := f.api.sentTo("111")
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "ABC123")

	cached, err := f.ids.Lookup(ctx, "111")
	require.NoError(t, err)
	assert.True(t, cached.InitSent)

	got, err := f.service.RequestState("alice")
	require.NoError(t, err)
	assert.True(t, got.Twitter.Confirmed)
}

func TestResponseMessages(t *testing.T) {
	assert.Contains(t, responseMessage(1, 0), "verified successfully")
	assert.Contains(t, responseMessage(1, 2), "did not match")
	assert.Contains(t, responseMessage(0, 1), "did not contain")
	assert.Contains(t, responseMessage(0, 0), "No pending verification")
}
