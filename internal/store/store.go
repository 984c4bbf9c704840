// Package store holds the persisted collaborator state the core and adapters
// depend on: pending identities, channel session bindings, per-channel
// watermarks and the Twitter id cache. Values round-trip losslessly; the
// storage engine behind each implementation is an external concern.
package store

import (
	"context"

	"registrar/internal/identity"
)

// PendingIdentities keeps serialized on-chain identities until they are fully
// verified and reported upstream.
type PendingIdentities interface {
	Save(ctx context.Context, ident identity.OnChainIdentity) error
	All(ctx context.Context) ([]identity.OnChainIdentity, error)
	Remove(ctx context.Context, pk identity.PubKey) error
}

// RoomBindings maps a pub key to an opaque channel session id.
type RoomBindings interface {
	Save(ctx context.Context, pk identity.PubKey, roomID string) error
	// Room returns sentinel.ErrNotFound when no binding exists.
	Room(ctx context.Context, pk identity.PubKey) (string, error)
}

// Watermarks records the highest message timestamp already processed per
// channel, so a restarted adapter resumes polling without re-judging history.
type Watermarks interface {
	Watermark(ctx context.Context, ch identity.ChannelType) (uint64, error)
	// Set persists the watermark. Implementations keep it non-decreasing.
	Set(ctx context.Context, ch identity.ChannelType, ts uint64) error
}

// CachedTwitterID is one resolved sender: the registered account plus whether
// the initiation message has already been sent.
type CachedTwitterID struct {
	Account  identity.Account `json:"account"`
	InitSent bool             `json:"init_sent"`
}

// TwitterIDs caches channel-native sender ids against registered accounts.
type TwitterIDs interface {
	// Lookup returns sentinel.ErrNotFound for unknown ids.
	Lookup(ctx context.Context, twitterID string) (CachedTwitterID, error)
	Save(ctx context.Context, twitterID string, account identity.Account) error
	ConfirmInit(ctx context.Context, twitterID string) error
}
