package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/Tarun-Chowdary/CampusWhisper/internal/events"
	"github.com/Tarun-Chowdary/CampusWhisper/internal/feed"
	"github.com/Tarun-Chowdary/CampusWhisper/internal/observability"
)

// Sender delivers an outbound event to a single connection. The gateway hub
// implements it.
type Sender interface {
	Send(connID string, event events.Event)
}

// Config holds engine tuning knobs.
type Config struct {
	// SessionSeconds is the initial countdown for every new session.
	SessionSeconds int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{SessionSeconds: 300}
}

// Engine owns the matchmaking queue, the session registry, the per-session
// countdowns, and the extension votes. All state is confined to the single
// goroutine running Run: inbound events, disconnects, and timer ticks are
// queued as commands and handled one at a time to completion, so none of the
// structures need locking and no handler ever observes a half-torn-down
// session.
type Engine struct {
	cfg     Config
	clock   clockwork.Clock
	sender  Sender
	metrics *observability.Metrics
	feed    feed.Sink

	queue      matchQueue
	sessions   map[string]*Session
	roomByConn map[string]string

	cmds chan command
	done chan struct{}
}

type command interface{}

type inboundCmd struct {
	connID string
	event  events.Event
}

type disconnectCmd struct {
	connID string
}

type tickCmd struct {
	roomID string
}

type snapshotCmd struct {
	reply chan Snapshot
}

// Snapshot is a point-in-time view of engine state for the stats endpoint.
type Snapshot struct {
	QueueDepth     int `json:"queue_depth"`
	ActiveSessions int `json:"active_sessions"`
}

// Option customizes engine construction.
type Option func(*Engine)

// WithClock injects a clock; tests pass a clockwork fake.
func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithMetrics attaches Prometheus instruments.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithFeed attaches the optional session-event feed.
func WithFeed(sink feed.Sink) Option {
	return func(e *Engine) { e.feed = sink }
}

// New creates an engine. Run must be called before the engine accepts work.
func New(cfg Config, sender Sender, opts ...Option) *Engine {
	if cfg.SessionSeconds <= 0 {
		cfg.SessionSeconds = DefaultConfig().SessionSeconds
	}
	e := &Engine{
		cfg:        cfg,
		clock:      clockwork.NewRealClock(),
		sender:     sender,
		sessions:   make(map[string]*Session),
		roomByConn: make(map[string]string),
		cmds:       make(chan command, 256),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run processes commands until ctx is cancelled, then stops every live
// countdown and returns.
func (e *Engine) Run(ctx context.Context) {
	log.Info().Int("session_seconds", e.cfg.SessionSeconds).Msg("session engine started")
	defer close(e.done)

	for {
		select {
		case <-ctx.Done():
			for roomID := range e.sessions {
				e.cleanup(roomID)
			}
			log.Info().Msg("session engine shutting down")
			return
		case cmd := <-e.cmds:
			e.handle(ctx, cmd)
		}
	}
}

// Dispatch hands an inbound client event to the engine. It never blocks
// after shutdown.
func (e *Engine) Dispatch(connID string, event events.Event) {
	select {
	case e.cmds <- inboundCmd{connID: connID, event: event}:
	case <-e.done:
	}
}

// Disconnect reports that a connection has gone away.
func (e *Engine) Disconnect(connID string) {
	select {
	case e.cmds <- disconnectCmd{connID: connID}:
	case <-e.done:
	}
}

// Stats returns a snapshot of queue depth and session count, serialized
// through the command loop like everything else.
func (e *Engine) Stats() Snapshot {
	reply := make(chan Snapshot, 1)
	select {
	case e.cmds <- snapshotCmd{reply: reply}:
		select {
		case snap := <-reply:
			return snap
		case <-e.done:
		}
	case <-e.done:
	}
	return Snapshot{}
}

func (e *Engine) handle(ctx context.Context, cmd command) {
	switch c := cmd.(type) {
	case inboundCmd:
		e.handleEvent(ctx, c.connID, c.event)
	case disconnectCmd:
		e.handleDisconnect(ctx, c.connID)
	case tickCmd:
		e.handleTick(c.roomID)
	case snapshotCmd:
		c.reply <- Snapshot{QueueDepth: e.queue.len(), ActiveSessions: len(e.sessions)}
	}
}

func (e *Engine) handleEvent(ctx context.Context, connID string, event events.Event) {
	switch event.Type {
	case events.EventTypeJoinQueue:
		e.handleJoinQueue(ctx, connID, event)
	case events.EventTypeJoinRoom:
		e.handleJoinRoom(connID, event)
	case events.EventTypeSendMessage:
		e.handleSendMessage(connID, event)
	case events.EventTypeTyping:
		e.handleTyping(connID, event)
	case events.EventTypeExtendDecision:
		e.handleExtendDecision(ctx, connID, event)
	case events.EventTypeEndChat:
		e.handleEndChat(ctx, connID, event)
	default:
		log.Debug().Str("type", string(event.Type)).Str("conn_id", connID).Msg("ignoring unknown event type")
	}
}

func (e *Engine) handleJoinQueue(ctx context.Context, connID string, event events.Event) {
	var payload events.JoinQueuePayload
	if err := event.DecodeData(&payload); err != nil || payload.UserID == "" {
		log.Debug().Str("conn_id", connID).Msg("malformed join-queue payload")
		return
	}
	if _, inSession := e.roomByConn[connID]; inSession {
		log.Debug().Str("conn_id", connID).Msg("join-queue from connection already in a session")
		return
	}

	if !e.queue.enqueue(connID, payload.UserID) {
		log.Debug().Str("user_id", payload.UserID).Msg("user already queued")
		return
	}
	e.metrics.SetQueueDepth(e.queue.len())

	a, b, ok := e.queue.dequeuePair()
	if !ok {
		return
	}
	e.metrics.SetQueueDepth(e.queue.len())
	e.startSession(ctx, a, b)
}

func (e *Engine) startSession(ctx context.Context, a, b waitingEntry) {
	s := newSession(a, b, e.cfg.SessionSeconds)
	e.sessions[s.RoomID] = s
	e.roomByConn[s.MemberA] = s.RoomID
	e.roomByConn[s.MemberB] = s.RoomID

	e.startCountdown(s)

	e.sender.Send(s.MemberA, events.New(events.EventTypeMatchFound, events.MatchFoundPayload{
		RoomID:        s.RoomID,
		MatchedUserID: s.UserB,
	}))
	e.sender.Send(s.MemberB, events.New(events.EventTypeMatchFound, events.MatchFoundPayload{
		RoomID:        s.RoomID,
		MatchedUserID: s.UserA,
	}))

	e.metrics.SessionStarted()
	e.publishFeed(ctx, feed.EventSessionStarted, s.RoomID, nil)

	log.Info().
		Str("room_id", s.RoomID).
		Str("user_a", s.UserA).
		Str("user_b", s.UserB).
		Msg("session started")
}

// startCountdown begins the 1-second tick for a session. Ticks are delivered
// through the command channel so they serialize with everything else; a tick
// that races teardown finds no session and is dropped.
func (e *Engine) startCountdown(s *Session) {
	cd := newCountdown(e.clock.NewTicker(time.Second))
	s.timer = cd

	go func(roomID string) {
		for {
			select {
			case <-cd.ticker.Chan():
				select {
				case e.cmds <- tickCmd{roomID: roomID}:
				case <-cd.done:
					return
				case <-e.done:
					return
				}
			case <-cd.done:
				return
			case <-e.done:
				return
			}
		}
	}(s.RoomID)
}

func (e *Engine) handleTick(roomID string) {
	s, ok := e.sessions[roomID]
	if !ok {
		// Stale tick from a countdown stopped in the same instant the
		// session was removed.
		return
	}
	if s.Remaining > 0 {
		s.Remaining--
	}
	e.broadcast(s, events.New(events.EventTypeTimerUpdate, events.TimerUpdatePayload{
		RemainingSeconds: s.Remaining,
	}))
}

func (e *Engine) handleJoinRoom(connID string, event events.Event) {
	var payload events.JoinRoomPayload
	if err := event.DecodeData(&payload); err != nil || payload.RoomID == "" {
		return
	}
	s, ok := e.sessions[payload.RoomID]
	if !ok || !s.isMember(connID) {
		return
	}
	s.markJoined(connID)
	log.Debug().Str("room_id", s.RoomID).Str("conn_id", connID).Msg("member joined room")
}

func (e *Engine) handleSendMessage(connID string, event events.Event) {
	var payload events.SendMessagePayload
	if err := event.DecodeData(&payload); err != nil || payload.RoomID == "" {
		return
	}
	s, ok := e.sessions[payload.RoomID]
	if !ok || !s.isMember(connID) {
		return
	}
	other := s.other(connID)
	if !s.hasJoined(other) {
		return
	}
	e.sender.Send(other, events.New(events.EventTypeReceiveMessage, events.ReceiveMessagePayload{
		Text:               payload.Text,
		SenderConnectionID: connID,
	}))
	e.metrics.MessageRelayed()
}

func (e *Engine) handleTyping(connID string, event events.Event) {
	var payload events.TypingPayload
	if err := event.DecodeData(&payload); err != nil || payload.RoomID == "" {
		return
	}
	s, ok := e.sessions[payload.RoomID]
	if !ok || !s.isMember(connID) {
		return
	}
	other := s.other(connID)
	if !s.hasJoined(other) {
		return
	}
	e.sender.Send(other, events.New(events.EventTypeTyping, nil))
}

func (e *Engine) handleExtendDecision(ctx context.Context, connID string, event events.Event) {
	var payload events.ExtendDecisionPayload
	if err := event.DecodeData(&payload); err != nil || payload.RoomID == "" || !payload.Decision.Valid() {
		return
	}
	if payload.Decision == events.DecisionAccept && payload.ExtraTime <= 0 {
		log.Debug().Str("conn_id", connID).Int("extra_time", payload.ExtraTime).Msg("malformed extension proposal")
		return
	}
	s, ok := e.sessions[payload.RoomID]
	if !ok || !s.isMember(connID) {
		return
	}

	if payload.Decision == events.DecisionReject {
		// A reject ends the session no matter what was voted before it.
		e.endSession(ctx, s, events.EndReasonRejected)
		return
	}

	if s.vote == nil {
		s.vote = newVoteRound(connID, payload.ExtraTime)
		e.sender.Send(s.other(connID), events.New(events.EventTypeOtherVoted, nil))
		log.Debug().
			Str("room_id", s.RoomID).
			Str("conn_id", connID).
			Int("extra_time", payload.ExtraTime).
			Msg("extension round opened")
		return
	}
	if s.vote.hasVoted(connID) {
		return
	}

	s.vote.recordAccept(connID)
	if !s.vote.accepted() {
		return
	}

	// Both accepted: the opening proposal's extraTime wins.
	extra := s.vote.extraTime
	s.Remaining += extra
	s.vote = nil

	e.broadcast(s, events.New(events.EventTypeExtendResult, events.ExtendResultPayload{
		Decision:  events.DecisionAccept,
		ExtraTime: extra,
	}))
	e.metrics.SessionExtended()
	e.publishFeed(ctx, feed.EventSessionExtended, s.RoomID, events.ExtendResultPayload{
		Decision:  events.DecisionAccept,
		ExtraTime: extra,
	})

	log.Info().Str("room_id", s.RoomID).Int("extra_time", extra).Msg("session extended")
}

func (e *Engine) handleEndChat(ctx context.Context, connID string, event events.Event) {
	var payload events.EndChatPayload
	if err := event.DecodeData(&payload); err != nil || payload.RoomID == "" {
		return
	}
	s, ok := e.sessions[payload.RoomID]
	if !ok || !s.isMember(connID) {
		return
	}
	e.endSession(ctx, s, events.EndReasonEnded)
}

func (e *Engine) handleDisconnect(ctx context.Context, connID string) {
	if e.queue.removeByConn(connID) {
		e.metrics.SetQueueDepth(e.queue.len())
	}

	roomID, ok := e.roomByConn[connID]
	if !ok {
		return
	}
	s, ok := e.sessions[roomID]
	if !ok {
		return
	}
	e.endSession(ctx, s, events.EndReasonPeerDisconnected)
}

// endSession broadcasts chat-ended and tears the session down. Every
// terminal path funnels through here; cleanup's idempotence means a second
// trigger for the same room finds nothing and broadcasts nothing.
func (e *Engine) endSession(ctx context.Context, s *Session, reason string) {
	e.broadcast(s, events.New(events.EventTypeChatEnded, events.ChatEndedPayload{Reason: reason}))
	e.cleanup(s.RoomID)

	e.metrics.SessionEnded(reason)
	e.publishFeed(ctx, feed.EventSessionEnded, s.RoomID, events.ChatEndedPayload{Reason: reason})

	log.Info().Str("room_id", s.RoomID).Str("reason", reason).Msg("session ended")
}

// cleanup stops the countdown, discards the vote round, and removes the
// session from the registry. Safe to call for an absent room.
func (e *Engine) cleanup(roomID string) {
	s, ok := e.sessions[roomID]
	if !ok {
		return
	}
	s.timer.stop()
	s.vote = nil
	delete(e.roomByConn, s.MemberA)
	delete(e.roomByConn, s.MemberB)
	delete(e.sessions, roomID)
}

// broadcast sends an event to every member that joined the room.
func (e *Engine) broadcast(s *Session, event events.Event) {
	for connID := range s.joined {
		e.sender.Send(connID, event)
	}
}

func (e *Engine) publishFeed(ctx context.Context, eventType, roomID string, payload any) {
	if e.feed == nil {
		return
	}
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			log.Error().Err(err).Msg("marshal feed payload")
			return
		}
		data = b
	}
	evt := feed.SessionEvent{
		EventID:   uuid.NewString(),
		EventType: eventType,
		RoomID:    roomID,
		Timestamp: e.clock.Now().UTC(),
		Payload:   data,
	}
	if err := e.feed.Publish(ctx, evt); err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("publish feed event")
	}
}
