package store

import (
	"context"
	"fmt"
	"sync"

	"registrar/internal/identity"
	"registrar/pkg/platform/sentinel"
)

// In-memory stores keep single-node deployments and tests lightweight. They
// intentionally favor clarity over performance.

type MemoryPendingIdentities struct {
	mu     sync.RWMutex
	idents map[identity.PubKey]identity.OnChainIdentity
	order  []identity.PubKey
}

func NewMemoryPendingIdentities() *MemoryPendingIdentities {
	return &MemoryPendingIdentities{idents: make(map[identity.PubKey]identity.OnChainIdentity)}
}

func (s *MemoryPendingIdentities) Save(_ context.Context, ident identity.OnChainIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.idents[ident.PubKey]; !ok {
		s.order = append(s.order, ident.PubKey)
	}
	s.idents[ident.PubKey] = ident.Clone()
	return nil
}

func (s *MemoryPendingIdentities) All(_ context.Context) ([]identity.OnChainIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]identity.OnChainIdentity, 0, len(s.order))
	for _, pk := range s.order {
		if ident, ok := s.idents[pk]; ok {
			out = append(out, ident.Clone())
		}
	}
	return out, nil
}

func (s *MemoryPendingIdentities) Remove(_ context.Context, pk identity.PubKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.idents, pk)
	return nil
}

type MemoryRoomBindings struct {
	mu    sync.RWMutex
	rooms map[identity.PubKey]string
}

func NewMemoryRoomBindings() *MemoryRoomBindings {
	return &MemoryRoomBindings{rooms: make(map[identity.PubKey]string)}
}

func (s *MemoryRoomBindings) Save(_ context.Context, pk identity.PubKey, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[pk] = roomID
	return nil
}

func (s *MemoryRoomBindings) Room(_ context.Context, pk identity.PubKey) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if room, ok := s.rooms[pk]; ok {
		return room, nil
	}
	return "", fmt.Errorf("room binding %s: %w", pk, sentinel.ErrNotFound)
}

type MemoryWatermarks struct {
	mu    sync.RWMutex
	marks map[identity.ChannelType]uint64
}

func NewMemoryWatermarks() *MemoryWatermarks {
	return &MemoryWatermarks{marks: make(map[identity.ChannelType]uint64)}
}

func (s *MemoryWatermarks) Watermark(_ context.Context, ch identity.ChannelType) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.marks[ch], nil
}

func (s *MemoryWatermarks) Set(_ context.Context, ch identity.ChannelType, ts uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts > s.marks[ch] {
		s.marks[ch] = ts
	}
	return nil
}

type MemoryTwitterIDs struct {
	mu  sync.RWMutex
	ids map[string]CachedTwitterID
}

func NewMemoryTwitterIDs() *MemoryTwitterIDs {
	return &MemoryTwitterIDs{ids: make(map[string]CachedTwitterID)}
}

func (s *MemoryTwitterIDs) Lookup(_ context.Context, twitterID string) (CachedTwitterID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cached, ok := s.ids[twitterID]; ok {
		return cached, nil
	}
	return CachedTwitterID{}, fmt.Errorf("twitter id %s: %w", twitterID, sentinel.ErrNotFound)
}

func (s *MemoryTwitterIDs) Save(_ context.Context, twitterID string, account identity.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.ids[twitterID]; ok {
		cached.Account = account
		s.ids[twitterID] = cached
		return nil
	}
	s.ids[twitterID] = CachedTwitterID{Account: account}
	return nil
}

func (s *MemoryTwitterIDs) ConfirmInit(_ context.Context, twitterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cached, ok := s.ids[twitterID]
	if !ok {
		return fmt.Errorf("twitter id %s: %w", twitterID, sentinel.ErrNotFound)
	}
	cached.InitSent = true
	s.ids[twitterID] = cached
	return nil
}
