package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"registrar/internal/comms"
	"registrar/internal/identity"
	"registrar/pkg/platform/sentinel"
)

const signingKey = "test-signing-key"

type fakeStateReader struct {
	idents map[identity.PubKey]identity.OnChainIdentity
}

func (f *fakeStateReader) RequestState(pk identity.PubKey) (identity.OnChainIdentity, error) {
	if ident, ok := f.idents[pk]; ok {
		return ident, nil
	}
	return identity.OnChainIdentity{}, fmt.Errorf("identity %s: %w", pk, sentinel.ErrNotFound)
}

type handlerFixture struct {
	server  *httptest.Server
	service *Service
	bus     *comms.Bus
}

func (f *handlerFixture) send(ctx context.Context, msg comms.Message) error {
	return f.bus.SendTo(ctx, comms.ChannelConnector, msg)
}

func newHandlerFixture(t *testing.T, idents ...identity.OnChainIdentity) *handlerFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reader := &fakeStateReader{idents: make(map[identity.PubKey]identity.OnChainIdentity)}
	for _, ident := range idents {
		reader.idents[ident.PubKey] = ident
	}

	bus := comms.NewBus(16)
	conn := bus.Register(comms.ChannelConnector)
	service := NewService(conn, reader, logger)
	handler := NewHandler(service, signingKey, logger)

	server := httptest.NewServer(handler.Router())
	t.Cleanup(server.Close)
	return &handlerFixture{server: server, service: service, bus: bus}
}

func (f *handlerFixture) get(t *testing.T, path, token string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.server.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, body
}

func signToken(t *testing.T, key string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "registrar-client",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(key))
	require.NoError(t, err)
	return token
}

func TestHealthzIsOpen(t *testing.T) {
	f := newHandlerFixture(t)
	resp, _ := f.get(t, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsIsOpen(t *testing.T) {
	f := newHandlerFixture(t)
	resp, _ := f.get(t, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusRequiresToken(t *testing.T) {
	f := newHandlerFixture(t)

	resp, _ := f.get(t, "/v1/status/alice", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.get(t, "/v1/status/alice", "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.get(t, "/v1/status/alice", signToken(t, "wrong-key"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStatusReturnsIdentity(t *testing.T) {
	ident := identity.OnChainIdentity{PubKey: "alice", Twitter: identity.NewAddressState("@alice")}
	ident.Twitter.Validity = identity.ValidityValid
	f := newHandlerFixture(t, ident)

	resp, body := f.get(t, "/v1/status/alice", signToken(t, signingKey))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Identity      identity.OnChainIdentity `json:"identity"`
		FullyVerified bool                     `json:"fully_verified"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, identity.PubKey("alice"), payload.Identity.PubKey)
	assert.True(t, payload.FullyVerified)
}

func TestStatusUnknownIdentity(t *testing.T) {
	f := newHandlerFixture(t)
	resp, _ := f.get(t, "/v1/status/ghost", signToken(t, signingKey))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNotificationsReflectBusTraffic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newHandlerFixture(t)
	go func() { _ = f.service.Run(ctx) }()

	account := identity.Account{Channel: identity.ChannelTwitter, Address: "@alice"}
	require.NoError(t, f.send(ctx, comms.InvalidAddress{PubKey: "alice", Account: account}))
	require.NoError(t, f.send(ctx, comms.ValidAddress{PubKey: "alice", Account: account}))

	require.Eventually(t, func() bool {
		return len(f.service.Changes("alice")) == 2
	}, time.Second, 10*time.Millisecond)

	resp, body := f.get(t, "/v1/notifications/alice", signToken(t, signingKey))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		PubKey  identity.PubKey `json:"pub_key"`
		Changes []StatusChange  `json:"changes"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, identity.PubKey("alice"), payload.PubKey)
	require.Len(t, payload.Changes, 2)
	assert.False(t, payload.Changes[0].Valid)
	assert.True(t, payload.Changes[1].Valid)
}
