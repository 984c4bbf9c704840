// Package comms is the message-multiplexing layer between channel adapters and
// the verification core. Each adapter holds a private bidirectional Conn; the
// core holds one aggregated inbound channel plus a registry mapping channel
// type to the adapter's outbound handle. All cross-component communication is
// message passing; no mutable state is shared across the boundary.
package comms

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"registrar/internal/identity"
)

// ChannelConnector is the reserved registry slot for the upstream status
// notifier. It is a bus participant, not a proof channel.
const ChannelConnector identity.ChannelType = "connector"

// ErrUnregistered is returned when no adapter holds the target channel slot.
var ErrUnregistered = errors.New("comms: no adapter registered for channel")

// Message is the closed vocabulary moved across the bus.
type Message interface{ commsMessage() }

// NewOnChainIdentity admits an identity into the verification lifecycle.
// Inbound to the core.
type NewOnChainIdentity struct {
	Identity identity.OnChainIdentity
}

// AccountToVerify asks the core to route an account to its channel's verifier.
// Inbound to the core; forwarded outbound to the matching adapter.
type AccountToVerify struct {
	Account identity.Account
}

// RoomID updates the opaque channel session binding for a pub key.
// Inbound to the core.
type RoomID struct {
	PubKey identity.PubKey
	RoomID string
}

// Inform delivers a challenge to a specific channel adapter.
// Outbound from the core.
type Inform struct {
	PubKey    identity.PubKey
	Account   identity.Account
	Challenge identity.Challenge
	RoomID    string
}

// ValidAddress notifies a status change to Valid. Outbound from the core.
type ValidAddress struct {
	PubKey  identity.PubKey
	Account identity.Account
}

// InvalidAddress notifies a rejected verification attempt.
// Outbound from the core.
type InvalidAddress struct {
	PubKey  identity.PubKey
	Account identity.Account
}

func (NewOnChainIdentity) commsMessage() {}
func (AccountToVerify) commsMessage()    {}
func (RoomID) commsMessage()             {}
func (Inform) commsMessage()             {}
func (ValidAddress) commsMessage()       {}
func (InvalidAddress) commsMessage()     {}

// Bus multiplexes adapter traffic. The inbound channel aggregates every
// adapter's sends; per-adapter outbound channels are created on Register.
type Bus struct {
	mu      sync.RWMutex
	inbound chan Message
	conns   map[identity.ChannelType]*Conn
}

// NewBus creates a bus whose channels buffer up to size messages.
func NewBus(size int) *Bus {
	return &Bus{
		inbound: make(chan Message, size),
		conns:   make(map[identity.ChannelType]*Conn),
	}
}

// Register creates the private connection for a channel adapter. Registering
// the same channel twice replaces the previous handle; the old Conn keeps
// receiving nothing.
func (b *Bus) Register(ch identity.ChannelType) *Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	conn := &Conn{
		channel: ch,
		bus:     b,
		recv:    make(chan Message, cap(b.inbound)),
	}
	b.conns[ch] = conn
	return conn
}

// Inbound is the core's aggregated receive channel.
func (b *Bus) Inbound() <-chan Message {
	return b.inbound
}

// SendTo delivers a message to the adapter registered for the channel.
func (b *Bus) SendTo(ctx context.Context, ch identity.ChannelType, msg Message) error {
	b.mu.RLock()
	conn, ok := b.conns[ch]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnregistered, ch)
	}
	select {
	case conn.recv <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Conn is one adapter's private bidirectional handle. The Conn is exclusively
// owned by its adapter.
type Conn struct {
	channel identity.ChannelType
	bus     *Bus
	recv    chan Message
}

// Channel reports which registry slot this connection occupies.
func (c *Conn) Channel() identity.ChannelType {
	return c.channel
}

// Send delivers a message to the core's aggregated inbound channel.
func (c *Conn) Send(ctx context.Context, msg Message) error {
	select {
	case c.bus.inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv exposes the adapter-facing receive channel.
func (c *Conn) Recv() <-chan Message {
	return c.recv
}
