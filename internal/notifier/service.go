// Package notifier is the upstream-facing bus participant: it consumes
// status-change notifications from the core and serves them, together with the
// identity projection, over a small REST API.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"registrar/internal/comms"
	"registrar/internal/identity"
)

// StateReader is the read-only slice of the core the notifier needs.
type StateReader interface {
	RequestState(pk identity.PubKey) (identity.OnChainIdentity, error)
}

// StatusChange is one reported verification outcome.
type StatusChange struct {
	Account identity.Account `json:"account"`
	Valid   bool             `json:"valid"`
	At      time.Time        `json:"at"`
}

// Service drains the connector's bus slot and keeps the recent status changes
// per identity.
type Service struct {
	conn   *comms.Conn
	states StateReader
	logger *slog.Logger

	mu      sync.RWMutex
	changes map[identity.PubKey][]StatusChange
}

func NewService(conn *comms.Conn, states StateReader, logger *slog.Logger) *Service {
	return &Service{
		conn:    conn,
		states:  states,
		logger:  logger,
		changes: make(map[identity.PubKey][]StatusChange),
	}
}

func (s *Service) Name() string { return string(comms.ChannelConnector) }

func (s *Service) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-s.conn.Recv():
			switch m := msg.(type) {
			case comms.ValidAddress:
				s.record(m.PubKey, StatusChange{Account: m.Account, Valid: true, At: time.Now().UTC()})
			case comms.InvalidAddress:
				s.record(m.PubKey, StatusChange{Account: m.Account, Valid: false, At: time.Now().UTC()})
			default:
				s.logger.Warn("unrecognized message type", "type", fmt.Sprintf("%T", msg))
			}
		}
	}
}

func (s *Service) record(pk identity.PubKey, change StatusChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes[pk] = append(s.changes[pk], change)
	s.logger.Info("status change",
		"pub_key", pk, "channel", change.Account.Channel,
		"address", change.Account.Address, "valid", change.Valid)
}

// Changes returns the recorded status changes for one identity.
func (s *Service) Changes(pk identity.PubKey) []StatusChange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StatusChange, len(s.changes[pk]))
	copy(out, s.changes[pk])
	return out
}

// State proxies the read-only projection lookup.
func (s *Service) State(pk identity.PubKey) (identity.OnChainIdentity, error) {
	return s.states.RequestState(pk)
}
