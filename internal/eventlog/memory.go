// Package eventlog persists and fans out IdentityVerification events. The log
// is the replay source for projection rehydration; the Kafka sink is a
// best-effort downstream feed.
package eventlog

import (
	"context"
	"sync"

	"registrar/internal/verifier"
)

// MemoryLog is the in-process event log used for tests and single-node runs
// without Postgres.
type MemoryLog struct {
	mu     sync.RWMutex
	events []verifier.IdentityVerification
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (l *MemoryLog) Append(_ context.Context, events ...verifier.IdentityVerification) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, events...)
	return nil
}

func (l *MemoryLog) All(_ context.Context) ([]verifier.IdentityVerification, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]verifier.IdentityVerification, len(l.events))
	copy(out, l.events)
	return out, nil
}
