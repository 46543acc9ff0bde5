package engine

import (
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/Tarun-Chowdary/CampusWhisper/internal/events"
)

// Session is one ephemeral two-party chat. Members are connection handles,
// not user identifiers: the session is bound to transport connections, and a
// reconnecting user gets a fresh handle and a fresh session.
type Session struct {
	RoomID  string
	MemberA string
	MemberB string
	UserA   string
	UserB   string

	// Remaining is the countdown in seconds, clamped at zero.
	Remaining int

	// joined holds the members that acknowledged match-found with a
	// join-room; only these receive room broadcasts.
	joined map[string]struct{}

	vote  *voteRound
	timer *countdown
}

// RoomID derives the room identity from the two connection handles. It is
// order-independent: both members compute the same ID.
func roomIDFor(connA, connB string) string {
	if connA > connB {
		connA, connB = connB, connA
	}
	return connA + "_" + connB
}

func newSession(a, b waitingEntry, remaining int) *Session {
	return &Session{
		RoomID:    roomIDFor(a.ConnID, b.ConnID),
		MemberA:   a.ConnID,
		MemberB:   b.ConnID,
		UserA:     a.UserID,
		UserB:     b.UserID,
		Remaining: remaining,
		joined:    make(map[string]struct{}, 2),
	}
}

func (s *Session) isMember(connID string) bool {
	return connID == s.MemberA || connID == s.MemberB
}

// other returns the opposite member's connection handle.
func (s *Session) other(connID string) string {
	if connID == s.MemberA {
		return s.MemberB
	}
	return s.MemberA
}

func (s *Session) markJoined(connID string) {
	s.joined[connID] = struct{}{}
}

func (s *Session) hasJoined(connID string) bool {
	_, ok := s.joined[connID]
	return ok
}

// voteRound collects up to two extension decisions and resolves exactly
// once. The first proposer's extraTime is authoritative when both accept.
type voteRound struct {
	votes     map[string]events.Decision
	extraTime int
	proposer  string
}

func newVoteRound(proposer string, extraTime int) *voteRound {
	return &voteRound{
		votes:     map[string]events.Decision{proposer: events.DecisionAccept},
		extraTime: extraTime,
		proposer:  proposer,
	}
}

func (v *voteRound) hasVoted(connID string) bool {
	_, ok := v.votes[connID]
	return ok
}

func (v *voteRound) recordAccept(connID string) {
	v.votes[connID] = events.DecisionAccept
}

// accepted reports whether both members have recorded accept.
func (v *voteRound) accepted() bool {
	return len(v.votes) == 2
}

// countdown is the cancellable per-session ticker. stop is safe to call any
// number of times; the first call wins and takes effect before it returns.
type countdown struct {
	ticker   clockwork.Ticker
	done     chan struct{}
	stopOnce sync.Once
}

func newCountdown(ticker clockwork.Ticker) *countdown {
	return &countdown{ticker: ticker, done: make(chan struct{})}
}

func (c *countdown) stop() {
	c.stopOnce.Do(func() {
		c.ticker.Stop()
		close(c.done)
	})
}
