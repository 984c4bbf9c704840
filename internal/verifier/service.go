package verifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"registrar/internal/comms"
	"registrar/internal/identity"
	"registrar/internal/platform/metrics"
	"registrar/internal/store"
	"registrar/pkg/platform/sentinel"
)

// Log is the consumer-side contract for the IdentityVerification event log.
// Append failures are fatal to the command: without a committed event the
// state transition must not happen.
type Log interface {
	Append(ctx context.Context, events ...IdentityVerification) error
	All(ctx context.Context) ([]IdentityVerification, error)
}

// Sink receives committed events for downstream fan-out. Sink failures are
// logged, never fatal: the event log is the source of truth.
type Sink interface {
	Publish(ctx context.Context, events []IdentityVerification) error
}

// Service hosts the aggregate. It owns the state projection and the bus's
// core side, and serializes every decide-commit-apply cycle behind one mutex
// so two outcomes computed from a stale read can never both flip a field.
type Service struct {
	mu      sync.Mutex
	agg     *Aggregate
	state   *identity.State
	log     Log
	sink    Sink
	bus     *comms.Bus
	pending store.PendingIdentities
	rooms   store.RoomBindings
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Service)

// WithSink attaches a downstream event sink.
func WithSink(sink Sink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithMetrics attaches the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(
	state *identity.State,
	log Log,
	bus *comms.Bus,
	pending store.PendingIdentities,
	rooms store.RoomBindings,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		agg:     NewAggregate(state),
		state:   state,
		log:     log,
		bus:     bus,
		pending: pending,
		rooms:   rooms,
		logger:  logger,
		tracer:  otel.Tracer("registrar/verifier"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Rehydrate rebuilds the projection from pending storage and the event log.
// Must run before any adapter starts feeding commands.
func (s *Service) Rehydrate(ctx context.Context) error {
	idents, err := s.pending.All(ctx)
	if err != nil {
		return fmt.Errorf("load pending identities: %w", err)
	}
	for _, ident := range idents {
		s.state.Add(ident)
	}

	events, err := s.log.All(ctx)
	if err != nil {
		return fmt.Errorf("load event log: %w", err)
	}
	for _, event := range events {
		if err := s.agg.Apply(event); err != nil {
			// The event references an identity that left pending
			// storage; history, not an inconsistency.
			if errors.Is(err, sentinel.ErrNotFound) {
				continue
			}
			return fmt.Errorf("replay event %s: %w", event.ID, err)
		}
	}
	s.logger.Info("projection rehydrated",
		"identities", len(idents), "events", len(events))
	return nil
}

// VerifyMessage runs one command through the aggregate: decide, commit the
// resulting events to the log, fold them into the projection, then emit
// status-change notifications. Returns the committed events.
func (s *Service) VerifyMessage(ctx context.Context, msg ExternalMessage) ([]IdentityVerification, error) {
	ctx, span := s.tracer.Start(ctx, "verifier.VerifyMessage")
	defer span.End()

	s.mu.Lock()
	events, err := s.handleLocked(ctx, msg)
	s.mu.Unlock()
	if err != nil || len(events) == 0 {
		return nil, err
	}

	s.notify(ctx, events)
	if s.sink != nil {
		if err := s.sink.Publish(ctx, events); err != nil {
			s.logger.Warn("event sink publish failed", "error", err)
		}
	}
	return events, nil
}

func (s *Service) handleLocked(ctx context.Context, msg ExternalMessage) ([]IdentityVerification, error) {
	events, err := s.agg.HandleVerifyMessage(msg)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		// No match is not a failure.
		return nil, nil
	}

	if err := s.log.Append(ctx, events...); err != nil {
		return nil, fmt.Errorf("commit events: %w", err)
	}

	for _, event := range events {
		if err := s.agg.Apply(event); err != nil {
			return nil, fmt.Errorf("apply event %s: %w", event.ID, err)
		}
		if s.metrics != nil {
			s.metrics.ObserveVerification(string(msg.Origin), event.IsValid)
		}
		if !event.IsValid {
			continue
		}
		if err := s.persistSnapshot(ctx, event.PubKey); err != nil {
			return nil, err
		}
	}
	return events, nil
}

// persistSnapshot writes the mutated identity back to pending storage, or
// removes it once fully verified.
func (s *Service) persistSnapshot(ctx context.Context, pk identity.PubKey) error {
	ident, err := s.state.Get(pk)
	if err != nil {
		return err
	}
	if ident.FullyVerified() {
		if err := s.pending.Remove(ctx, pk); err != nil {
			return fmt.Errorf("remove completed identity: %w", err)
		}
		s.logger.Info("identity fully verified", "pub_key", pk)
		return nil
	}
	if err := s.pending.Save(ctx, ident); err != nil {
		return fmt.Errorf("persist identity snapshot: %w", err)
	}
	return nil
}

func (s *Service) notify(ctx context.Context, events []IdentityVerification) {
	for _, event := range events {
		account := identity.Account{Channel: event.Field.Channel, Address: event.Field.Address}
		var msg comms.Message
		if event.IsValid {
			msg = comms.ValidAddress{PubKey: event.PubKey, Account: account}
		} else {
			msg = comms.InvalidAddress{PubKey: event.PubKey, Account: account}
		}
		if err := s.bus.SendTo(ctx, comms.ChannelConnector, msg); err != nil {
			s.logger.Warn("status notification dropped",
				"pub_key", event.PubKey, "error", err)
		}
	}
}

// ConfirmFirstContact records that the channel's awaiting-first-contact
// handshake completed for the field. Serialized with the apply path.
func (s *Service) ConfirmFirstContact(ctx context.Context, field identity.IdentityField) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.SetConfirmed(field)
	for _, ident := range s.state.AllPending() {
		if state := ident.Field(field.Channel); state != nil && state.Address == field.Address {
			if err := s.pending.Save(ctx, ident); err != nil {
				return fmt.Errorf("persist identity snapshot: %w", err)
			}
		}
	}
	return nil
}

// RequestState returns the current projection of one identity. Read-only,
// emits no events.
func (s *Service) RequestState(pk identity.PubKey) (identity.OnChainIdentity, error) {
	return s.state.Get(pk)
}

// ChallengeFor exposes the read contract adapters use to build initiation
// messages.
func (s *Service) ChallengeFor(account identity.Account) (identity.Challenge, error) {
	return s.state.ChallengeFor(account)
}

// Run drains the aggregated inbound channel until the context ends. One
// failing message is logged and never terminates the loop.
func (s *Service) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-s.bus.Inbound():
			if err := s.dispatch(ctx, msg); err != nil {
				s.logger.Error("inbound message failed",
					"type", fmt.Sprintf("%T", msg), "error", err)
			}
		}
	}
}

func (s *Service) dispatch(ctx context.Context, msg comms.Message) error {
	switch m := msg.(type) {
	case comms.NewOnChainIdentity:
		return s.admit(ctx, m.Identity)
	case comms.AccountToVerify:
		// Routed to the adapter responsible for the channel.
		return s.bus.SendTo(ctx, m.Account.Channel, m)
	case comms.RoomID:
		if err := s.rooms.Save(ctx, m.PubKey, m.RoomID); err != nil {
			return fmt.Errorf("persist room binding: %w", err)
		}
		return nil
	default:
		s.logger.Warn("unroutable inbound message", "type", fmt.Sprintf("%T", msg))
		return nil
	}
}

// admit registers a new on-chain identity, persists it as pending, and informs
// every responsible adapter of the field's challenge.
func (s *Service) admit(ctx context.Context, ident identity.OnChainIdentity) error {
	s.mu.Lock()
	added := s.state.Add(ident)
	s.mu.Unlock()

	if added {
		if err := s.pending.Save(ctx, ident); err != nil {
			return fmt.Errorf("persist pending identity: %w", err)
		}
	}

	roomID, err := s.rooms.Room(ctx, ident.PubKey)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return fmt.Errorf("load room binding: %w", err)
	}

	for ch, state := range ident.Fields() {
		inform := comms.Inform{
			PubKey:    ident.PubKey,
			Account:   identity.Account{Channel: ch, Address: state.Address},
			Challenge: state.Challenge,
			RoomID:    roomID,
		}
		if err := s.bus.SendTo(ctx, ch, inform); err != nil {
			if errors.Is(err, comms.ErrUnregistered) {
				s.logger.Debug("no adapter for field", "channel", ch)
				continue
			}
			return err
		}
	}
	return nil
}
