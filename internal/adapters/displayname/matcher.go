// Package displayname verifies display-name fields. There is no external
// transport: a name is judged against the display names that already reached
// Valid, and the judgment flows through the same VerifyMessage path as every
// other channel so only the aggregate mutates state.
package displayname

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"registrar/internal/comms"
	"registrar/internal/identity"
	"registrar/internal/verifier"
	"registrar/pkg/platform/sentinel"
)

// Verifier is the core contract the matcher consumes.
type Verifier interface {
	VerifyMessage(ctx context.Context, msg verifier.ExternalMessage) ([]verifier.IdentityVerification, error)
	ChallengeFor(account identity.Account) (identity.Challenge, error)
}

// NameSource exposes the already-verified display names.
type NameSource interface {
	VerifiedDisplayNames() []string
}

// Matcher consumes AccountToVerify and Inform messages for the display-name
// channel.
type Matcher struct {
	conn     *comms.Conn
	verifier Verifier
	names    NameSource
	// limit is the similarity above which a candidate is rejected as a
	// lookalike of a verified name, in [0, 1].
	limit  float64
	logger *slog.Logger
	now    func() time.Time
}

func New(conn *comms.Conn, v Verifier, names NameSource, limit float64, logger *slog.Logger) *Matcher {
	return &Matcher{
		conn:     conn,
		verifier: v,
		names:    names,
		limit:    limit,
		logger:   logger,
		now:      time.Now,
	}
}

func (m *Matcher) Name() string { return string(identity.ChannelDisplayName) }

func (m *Matcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-m.conn.Recv():
			var account identity.Account
			switch req := msg.(type) {
			case comms.AccountToVerify:
				account = req.Account
			case comms.Inform:
				account = req.Account
			default:
				m.logger.Warn("unrecognized message type", "type", fmt.Sprintf("%T", msg))
				continue
			}
			if err := m.judge(ctx, account); err != nil {
				m.logger.Error("display name judgment failed",
					"name", account.Address, "error", err)
			}
		}
	}
}

// judge runs one display name through the engine. An acceptable name echoes
// the field's challenge so the standard match yields Valid; a lookalike sends
// an empty proof, recording an Invalid attempt.
func (m *Matcher) judge(ctx context.Context, account identity.Account) error {
	challenge, err := m.verifier.ChallengeFor(account)
	if errors.Is(err, sentinel.ErrNotFound) {
		m.logger.Warn("no challenge data for display name, ignoring", "name", account.Address)
		return nil
	}
	if err != nil {
		return err
	}

	proof := ""
	if m.acceptable(account.Address) {
		proof = challenge.ExpectedMessage()
	}
	_, err = m.verifier.VerifyMessage(ctx, verifier.ExternalMessage{
		Origin:       identity.ChannelDisplayName,
		FieldAddress: account.Address,
		Message:      proof,
		NativeID:     "display-name-check",
		Created:      uint64(m.now().Unix()),
	})
	return err
}

// acceptable reports whether the candidate keeps enough distance from every
// verified display name.
func (m *Matcher) acceptable(candidate string) bool {
	for _, existing := range m.names.VerifiedDisplayNames() {
		if similarity(candidate, existing) >= m.limit {
			return false
		}
	}
	return true
}

// similarity is a normalized Levenshtein ratio over lowercased names: 1 means
// identical, 0 means nothing in common.
func similarity(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	dist := levenshtein(ra, rb)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	return 1 - float64(dist)/float64(longest)
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
