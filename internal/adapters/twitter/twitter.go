// Package twitter implements the Twitter channel adapter: incremental DM
// polling behind a persisted watermark, sender resolution through a persisted
// id cache, challenge delivery, and OAuth1.0a request signing.
package twitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"registrar/internal/comms"
	"registrar/internal/identity"
	"registrar/internal/platform/metrics"
	"registrar/internal/store"
	"registrar/internal/verifier"
	"registrar/pkg/platform/sentinel"
)

// Verifier is the core's contract as the adapter sees it: feed commands, read
// live challenges, confirm first contact.
type Verifier interface {
	VerifyMessage(ctx context.Context, msg verifier.ExternalMessage) ([]verifier.IdentityVerification, error)
	ConfirmFirstContact(ctx context.Context, field identity.IdentityField) error
	ChallengeFor(account identity.Account) (identity.Challenge, error)
}

// Adapter polls the DM inbox on a fixed interval. Ticks never overlap: the
// loop is a single goroutine and a tick runs to completion before the next
// fires. A failing tick logs and waits for the next interval.
type Adapter struct {
	api        API
	conn       *comms.Conn
	verifier   Verifier
	watermarks store.Watermarks
	ids        store.TwitterIDs
	screenName string
	selfID     string
	interval   time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

func New(
	api API,
	conn *comms.Conn,
	v Verifier,
	watermarks store.Watermarks,
	ids store.TwitterIDs,
	screenName string,
	interval time.Duration,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Adapter {
	return &Adapter{
		api:        api,
		conn:       conn,
		verifier:   v,
		watermarks: watermarks,
		ids:        ids,
		screenName: screenName,
		interval:   interval,
		logger:     logger,
		metrics:    m,
	}
}

func (a *Adapter) Name() string { return "twitter" }

// Run drives the poll loop and the adapter's bus traffic until the context
// ends.
func (a *Adapter) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-a.conn.Recv():
			a.handleComms(ctx, msg)
		case <-ticker.C:
			err := a.tick(ctx)
			if a.metrics != nil {
				a.metrics.ObservePollTick(a.Name(), err)
			}
			if err != nil {
				a.logger.Error("poll tick failed", "error", err)
			}
		}
	}
}

// handleComms reacts to core-originated messages. An Inform triggers a
// proactive challenge delivery instead of waiting for first contact.
func (a *Adapter) handleComms(ctx context.Context, msg comms.Message) {
	inform, ok := msg.(comms.Inform)
	if !ok {
		a.logger.Debug("ignoring bus message", "type", fmt.Sprintf("%T", msg))
		return
	}
	if err := a.deliverChallenge(ctx, inform); err != nil {
		a.logger.Warn("challenge delivery failed",
			"account", inform.Account.Address, "error", err)
	}
}

func (a *Adapter) deliverChallenge(ctx context.Context, inform comms.Inform) error {
	users, err := a.api.LookupUsers(ctx, nil, []string{inform.Account.Address})
	if err != nil {
		return err
	}
	user := users[0]
	if err := a.ids.Save(ctx, user.ID, inform.Account); err != nil {
		return err
	}
	if err := a.api.SendMessage(ctx, user.ID, initMessage(inform.Challenge)); err != nil {
		return err
	}
	if err := a.ids.ConfirmInit(ctx, user.ID); err != nil {
		return err
	}
	field := identity.IdentityField{Channel: identity.ChannelTwitter, Address: inform.Account.Address}
	return a.verifier.ConfirmFirstContact(ctx, field)
}

func (a *Adapter) ensureSelfID(ctx context.Context) error {
	if a.selfID != "" {
		return nil
	}
	users, err := a.api.LookupUsers(ctx, nil, []string{a.screenName})
	if err != nil {
		return fmt.Errorf("resolve own account: %w", err)
	}
	a.selfID = users[0].ID
	return nil
}

// tick processes one polling batch. The watermark is only persisted after the
// entire batch completed without fatal error, so a crashed tick is re-judged
// on the next one; SetVerified is idempotent, duplicate response messages are
// tolerated.
func (a *Adapter) tick(ctx context.Context) error {
	if err := a.ensureSelfID(ctx); err != nil {
		return err
	}

	prior, err := a.watermarks.Watermark(ctx, identity.ChannelTwitter)
	if err != nil {
		return err
	}

	all, err := a.api.ListMessages(ctx)
	if err != nil {
		return err
	}

	batch := make([]DirectMessage, 0, len(all))
	maxCreated := prior
	for _, msg := range all {
		if msg.SenderID == a.selfID || msg.Created <= prior {
			continue
		}
		batch = append(batch, msg)
		if msg.Created > maxCreated {
			maxCreated = msg.Created
		}
	}
	if len(batch) == 0 {
		a.logger.Debug("no new messages")
		return nil
	}
	a.logger.Debug("received new messages", "count", len(batch))

	// First message per sender wins for resolution; all messages keep
	// their arrival order for verification.
	var senders []string
	seen := make(map[string]bool)
	for _, msg := range batch {
		if !seen[msg.SenderID] {
			seen[msg.SenderID] = true
			senders = append(senders, msg.SenderID)
		}
	}

	resolved, err := a.resolveSenders(ctx, senders)
	if err != nil {
		return err
	}

	for _, senderID := range senders {
		cached, ok := resolved[senderID]
		if !ok {
			a.logger.Warn("sender not resolvable", "twitter_id", senderID)
			continue
		}
		if err := a.processSender(ctx, senderID, cached, batch); err != nil {
			return err
		}
	}

	return a.watermarks.Set(ctx, identity.ChannelTwitter, maxCreated)
}

// resolveSenders maps sender ids to registered accounts: cache first, then one
// bulk directory lookup for the rest. Newly resolved pairs are cached before
// further use.
func (a *Adapter) resolveSenders(ctx context.Context, senders []string) (map[string]store.CachedTwitterID, error) {
	resolved := make(map[string]store.CachedTwitterID, len(senders))
	var toLookup []string
	for _, senderID := range senders {
		cached, err := a.ids.Lookup(ctx, senderID)
		if errors.Is(err, sentinel.ErrNotFound) {
			toLookup = append(toLookup, senderID)
			continue
		}
		if err != nil {
			return nil, err
		}
		resolved[senderID] = cached
	}

	if len(toLookup) == 0 {
		return resolved, nil
	}
	a.logger.Debug("looking up twitter ids", "count", len(toLookup))
	users, err := a.api.LookupUsers(ctx, toLookup, nil)
	if err != nil {
		return nil, err
	}
	for _, user := range users {
		account := identity.Account{
			Channel: identity.ChannelTwitter,
			Address: "@" + user.ScreenName,
		}
		if err := a.ids.Save(ctx, user.ID, account); err != nil {
			return nil, err
		}
		resolved[user.ID] = store.CachedTwitterID{Account: account}
	}
	return resolved, nil
}

func (a *Adapter) processSender(ctx context.Context, senderID string, cached store.CachedTwitterID, batch []DirectMessage) error {
	account := cached.Account
	challenge, err := a.verifier.ChallengeFor(account)
	if errors.Is(err, sentinel.ErrNotFound) {
		a.logger.Warn("no challenge data for account, ignoring", "account", account.Address)
		return nil
	}
	if err != nil {
		return err
	}

	field := identity.IdentityField{Channel: identity.ChannelTwitter, Address: account.Address}
	if !cached.InitSent {
		// First contact: deliver the challenge, never judge the same
		// message.
		if err := a.api.SendMessage(ctx, senderID, initMessage(challenge)); err != nil {
			return err
		}
		if err := a.ids.ConfirmInit(ctx, senderID); err != nil {
			return err
		}
		return a.verifier.ConfirmFirstContact(ctx, field)
	}

	var valid, invalid int
	for _, msg := range batch {
		if msg.SenderID != senderID {
			continue
		}
		events, err := a.verifier.VerifyMessage(ctx, verifier.ExternalMessage{
			Origin:       identity.ChannelTwitter,
			FieldAddress: account.Address,
			Message:      msg.Text,
			NativeID:     senderID,
			Created:      msg.Created,
		})
		if err != nil {
			var malformed *verifier.MalformedMessageError
			if errors.As(err, &malformed) {
				a.logger.Warn("skipping malformed message",
					"sender", senderID, "error", err)
				continue
			}
			return err
		}
		for _, event := range events {
			if event.IsValid {
				valid++
			} else {
				invalid++
			}
		}
	}

	// Exactly one response message per sender summarizing the batch.
	return a.api.SendMessage(ctx, senderID, responseMessage(valid, invalid))
}

func initMessage(challenge identity.Challenge) string {
	return fmt.Sprintf(
		"Hello! To verify your on-chain identity, please reply with the following challenge: %s",
		challenge.ExpectedMessage())
}

func responseMessage(valid, invalid int) string {
	switch {
	case valid > 0 && invalid == 0:
		return "The challenge was verified successfully. Your address is now confirmed."
	case valid > 0:
		return "The challenge was verified successfully; some other attempts did not match."
	case invalid > 0:
		return "The message did not contain the expected challenge. Please check the token and try again."
	default:
		return "No pending verification was found for your account."
	}
}
