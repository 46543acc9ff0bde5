package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Tarun-Chowdary/CampusWhisper/internal/events"
)

type sentEvent struct {
	connID string
	event  events.Event
}

// recorder captures everything the engine sends, standing in for the
// gateway hub.
type recorder struct {
	mu   sync.Mutex
	sent []sentEvent
}

func (r *recorder) Send(connID string, event events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentEvent{connID: connID, event: event})
}

func (r *recorder) byType(connID string, typ events.EventType) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, s := range r.sent {
		if s.connID == connID && s.event.Type == typ {
			out = append(out, s.event)
		}
	}
	return out
}

func (r *recorder) count(connID string, typ events.EventType) int {
	return len(r.byType(connID, typ))
}

type harness struct {
	t     *testing.T
	eng   *Engine
	clock *clockwork.FakeClock
	rec   *recorder
}

func newHarness(t *testing.T, sessionSeconds int) *harness {
	t.Helper()
	rec := &recorder{}
	clock := clockwork.NewFakeClock()
	eng := New(Config{SessionSeconds: sessionSeconds}, rec, WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	go eng.Run(ctx)
	t.Cleanup(cancel)

	return &harness{t: t, eng: eng, clock: clock, rec: rec}
}

func (h *harness) dispatch(connID string, typ events.EventType, payload any) {
	h.t.Helper()
	evt := events.Event{Type: typ}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			h.t.Fatalf("marshal payload: %v", err)
		}
		evt.Data = data
	}
	h.eng.Dispatch(connID, evt)
}

// barrier flushes the command loop: Stats travels the same channel as every
// queued command, so returning means everything before it was handled.
func (h *harness) barrier() Snapshot {
	return h.eng.Stats()
}

// pair queues two users and returns the shared room ID from match-found.
func (h *harness) pair(connA, userA, connB, userB string) string {
	h.t.Helper()
	h.dispatch(connA, events.EventTypeJoinQueue, events.JoinQueuePayload{UserID: userA})
	h.dispatch(connB, events.EventTypeJoinQueue, events.JoinQueuePayload{UserID: userB})
	h.barrier()

	found := h.rec.byType(connA, events.EventTypeMatchFound)
	if len(found) != 1 {
		h.t.Fatalf("conn %s got %d match-found events, want 1", connA, len(found))
	}
	var p events.MatchFoundPayload
	if err := found[0].DecodeData(&p); err != nil {
		h.t.Fatalf("decode match-found: %v", err)
	}
	return p.RoomID
}

func (h *harness) join(connID, roomID string) {
	h.t.Helper()
	h.dispatch(connID, events.EventTypeJoinRoom, events.JoinRoomPayload{RoomID: roomID})
	h.barrier()
}

// advanceTick moves the fake clock one second and waits for the resulting
// timer-update to land on connID.
func (h *harness) advanceTick(connID string) {
	h.t.Helper()
	before := h.rec.count(connID, events.EventTypeTimerUpdate)
	h.clock.Advance(time.Second)
	h.waitFor(func() bool {
		return h.rec.count(connID, events.EventTypeTimerUpdate) > before
	})
}

func (h *harness) waitFor(cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	h.t.Fatal("condition not met in time")
}

func (h *harness) lastTimerValue(connID string) int {
	h.t.Helper()
	updates := h.rec.byType(connID, events.EventTypeTimerUpdate)
	if len(updates) == 0 {
		h.t.Fatal("no timer-update received")
	}
	var p events.TimerUpdatePayload
	if err := updates[len(updates)-1].DecodeData(&p); err != nil {
		h.t.Fatalf("decode timer-update: %v", err)
	}
	return p.RemainingSeconds
}

func TestPairingIsFIFOAndEmptiesQueue(t *testing.T) {
	h := newHarness(t, 300)

	roomID := h.pair("c1", "u1", "c2", "u2")

	found := h.rec.byType("c2", events.EventTypeMatchFound)
	if len(found) != 1 {
		t.Fatalf("conn c2 got %d match-found events, want 1", len(found))
	}
	var p events.MatchFoundPayload
	if err := found[0].DecodeData(&p); err != nil {
		t.Fatalf("decode match-found: %v", err)
	}
	if p.RoomID != roomID {
		t.Fatalf("room IDs differ across members: %q vs %q", p.RoomID, roomID)
	}
	if p.MatchedUserID != "u1" {
		t.Fatalf("c2 matched with %q, want u1", p.MatchedUserID)
	}

	snap := h.barrier()
	if snap.QueueDepth != 0 {
		t.Fatalf("queue depth = %d after pairing, want 0", snap.QueueDepth)
	}
	if snap.ActiveSessions != 1 {
		t.Fatalf("active sessions = %d, want 1", snap.ActiveSessions)
	}
}

func TestJoinQueueIsIdempotentPerUser(t *testing.T) {
	h := newHarness(t, 300)

	h.dispatch("c1", events.EventTypeJoinQueue, events.JoinQueuePayload{UserID: "u1"})
	h.dispatch("c2", events.EventTypeJoinQueue, events.JoinQueuePayload{UserID: "u1"})
	snap := h.barrier()

	if snap.QueueDepth != 1 {
		t.Fatalf("queue depth = %d, want 1 (duplicate user must not queue twice)", snap.QueueDepth)
	}
	if snap.ActiveSessions != 0 {
		t.Fatalf("active sessions = %d, want 0", snap.ActiveSessions)
	}
}

func TestConnectionCannotPairWithItself(t *testing.T) {
	h := newHarness(t, 300)

	h.dispatch("c1", events.EventTypeJoinQueue, events.JoinQueuePayload{UserID: "u1"})
	h.dispatch("c1", events.EventTypeJoinQueue, events.JoinQueuePayload{UserID: "u2"})
	snap := h.barrier()

	if snap.QueueDepth != 1 {
		t.Fatalf("queue depth = %d, want 1 (one connection must hold one entry)", snap.QueueDepth)
	}
	if snap.ActiveSessions != 0 {
		t.Fatalf("active sessions = %d, want 0", snap.ActiveSessions)
	}
	if n := h.rec.count("c1", events.EventTypeMatchFound); n != 0 {
		t.Fatalf("c1 got %d match-found events, want 0", n)
	}

	h.dispatch("c2", events.EventTypeJoinQueue, events.JoinQueuePayload{UserID: "u2"})
	h.barrier()
	found := h.rec.byType("c1", events.EventTypeMatchFound)
	if len(found) != 1 {
		t.Fatalf("c1 got %d match-found events after a real peer arrived, want 1", len(found))
	}
	var p events.MatchFoundPayload
	if err := found[0].DecodeData(&p); err != nil {
		t.Fatalf("decode match-found: %v", err)
	}
	if p.MatchedUserID != "u2" {
		t.Fatalf("c1 matched with %q, want u2", p.MatchedUserID)
	}
}

func TestDisconnectRemovesOnlyThatQueueEntry(t *testing.T) {
	h := newHarness(t, 300)

	h.dispatch("c1", events.EventTypeJoinQueue, events.JoinQueuePayload{UserID: "u1"})
	h.eng.Disconnect("c1")
	h.dispatch("c2", events.EventTypeJoinQueue, events.JoinQueuePayload{UserID: "u2"})
	h.dispatch("c3", events.EventTypeJoinQueue, events.JoinQueuePayload{UserID: "u3"})
	h.barrier()

	if n := h.rec.count("c1", events.EventTypeMatchFound); n != 0 {
		t.Fatalf("disconnected conn got %d match-found events, want 0", n)
	}
	if n := h.rec.count("c2", events.EventTypeMatchFound); n != 1 {
		t.Fatalf("c2 got %d match-found events, want 1", n)
	}
	if n := h.rec.count("c3", events.EventTypeMatchFound); n != 1 {
		t.Fatalf("c3 got %d match-found events, want 1", n)
	}
}

func TestCountdownTicksEverySecond(t *testing.T) {
	h := newHarness(t, 300)

	roomID := h.pair("c1", "u1", "c2", "u2")
	h.join("c1", roomID)
	h.join("c2", roomID)

	h.clock.BlockUntil(1)
	want := []int{299, 298, 297, 296, 295}
	for range want {
		h.advanceTick("c1")
	}

	updates := h.rec.byType("c1", events.EventTypeTimerUpdate)
	if len(updates) != len(want) {
		t.Fatalf("got %d timer updates, want %d", len(updates), len(want))
	}
	for i, evt := range updates {
		var p events.TimerUpdatePayload
		if err := evt.DecodeData(&p); err != nil {
			t.Fatalf("decode timer-update: %v", err)
		}
		if p.RemainingSeconds != want[i] {
			t.Fatalf("tick %d carried %d, want %d", i, p.RemainingSeconds, want[i])
		}
	}
	if n := h.rec.count("c2", events.EventTypeTimerUpdate); n != len(want) {
		t.Fatalf("c2 got %d timer updates, want %d", n, len(want))
	}
}

func TestCountdownClampsAtZeroAndNeverAutoTerminates(t *testing.T) {
	h := newHarness(t, 2)

	roomID := h.pair("c1", "u1", "c2", "u2")
	h.join("c1", roomID)
	h.join("c2", roomID)

	h.clock.BlockUntil(1)
	for i := 0; i < 4; i++ {
		h.advanceTick("c1")
	}

	if v := h.lastTimerValue("c1"); v != 0 {
		t.Fatalf("remaining = %d after over-running the countdown, want clamp at 0", v)
	}
	snap := h.barrier()
	if snap.ActiveSessions != 1 {
		t.Fatal("session must stay alive at zero until an explicit decision")
	}
	if n := h.rec.count("c1", events.EventTypeChatEnded); n != 0 {
		t.Fatalf("got %d chat-ended events from the countdown alone, want 0", n)
	}
}

func TestExtensionFirstProposerWins(t *testing.T) {
	h := newHarness(t, 300)

	roomID := h.pair("c1", "u1", "c2", "u2")
	h.join("c1", roomID)
	h.join("c2", roomID)

	h.clock.BlockUntil(1)
	for i := 0; i < 5; i++ {
		h.advanceTick("c1")
	}

	h.dispatch("c1", events.EventTypeExtendDecision, events.ExtendDecisionPayload{
		RoomID: roomID, Decision: events.DecisionAccept, ExtraTime: 300,
	})
	h.barrier()
	if n := h.rec.count("c2", events.EventTypeOtherVoted); n != 1 {
		t.Fatalf("c2 got %d other-voted events, want 1", n)
	}
	if n := h.rec.count("c1", events.EventTypeOtherVoted); n != 0 {
		t.Fatalf("the proposer got %d other-voted events, want 0", n)
	}

	h.dispatch("c2", events.EventTypeExtendDecision, events.ExtendDecisionPayload{
		RoomID: roomID, Decision: events.DecisionAccept, ExtraTime: 600,
	})
	h.barrier()

	for _, conn := range []string{"c1", "c2"} {
		results := h.rec.byType(conn, events.EventTypeExtendResult)
		if len(results) != 1 {
			t.Fatalf("%s got %d extend-result events, want 1", conn, len(results))
		}
		var p events.ExtendResultPayload
		if err := results[0].DecodeData(&p); err != nil {
			t.Fatalf("decode extend-result: %v", err)
		}
		if p.Decision != events.DecisionAccept || p.ExtraTime != 300 {
			t.Fatalf("extend-result = %+v, want accept with the first proposer's 300", p)
		}
	}

	// 295 remaining + 300 extension, then one more tick.
	h.advanceTick("c1")
	if v := h.lastTimerValue("c1"); v != 594 {
		t.Fatalf("remaining after extension tick = %d, want 594", v)
	}
}

func TestDuplicateAcceptDoesNotResolveRound(t *testing.T) {
	h := newHarness(t, 300)

	roomID := h.pair("c1", "u1", "c2", "u2")
	h.join("c1", roomID)
	h.join("c2", roomID)

	accept := events.ExtendDecisionPayload{RoomID: roomID, Decision: events.DecisionAccept, ExtraTime: 120}
	h.dispatch("c1", events.EventTypeExtendDecision, accept)
	h.dispatch("c1", events.EventTypeExtendDecision, accept)
	h.barrier()

	if n := h.rec.count("c1", events.EventTypeExtendResult); n != 0 {
		t.Fatalf("round resolved from one member voting twice (%d extend-result events)", n)
	}
	if n := h.rec.count("c2", events.EventTypeOtherVoted); n != 1 {
		t.Fatalf("c2 got %d other-voted events, want exactly 1", n)
	}

	h.dispatch("c2", events.EventTypeExtendDecision, accept)
	h.barrier()
	if n := h.rec.count("c1", events.EventTypeExtendResult); n != 1 {
		t.Fatalf("got %d extend-result events after both accepted, want 1", n)
	}
}

func TestNonPositiveExtensionIsIgnored(t *testing.T) {
	h := newHarness(t, 300)

	roomID := h.pair("c1", "u1", "c2", "u2")
	h.join("c1", roomID)
	h.join("c2", roomID)

	h.clock.BlockUntil(1)
	for i := 0; i < 5; i++ {
		h.advanceTick("c1")
	}

	for _, extra := range []int{-1000, 0} {
		h.dispatch("c1", events.EventTypeExtendDecision, events.ExtendDecisionPayload{
			RoomID: roomID, Decision: events.DecisionAccept, ExtraTime: extra,
		})
		h.dispatch("c2", events.EventTypeExtendDecision, events.ExtendDecisionPayload{
			RoomID: roomID, Decision: events.DecisionAccept, ExtraTime: extra,
		})
	}
	h.barrier()

	if n := h.rec.count("c2", events.EventTypeOtherVoted); n != 0 {
		t.Fatalf("c2 got %d other-voted events from invalid proposals, want 0", n)
	}
	if n := h.rec.count("c1", events.EventTypeExtendResult); n != 0 {
		t.Fatalf("got %d extend-result events from invalid proposals, want 0", n)
	}

	// The countdown must keep walking down from 295, never below zero.
	h.advanceTick("c1")
	if v := h.lastTimerValue("c1"); v != 294 {
		t.Fatalf("remaining = %d after invalid extensions, want 294", v)
	}
}

func TestVoteRoundDoesNotLeakIntoNextRound(t *testing.T) {
	h := newHarness(t, 300)

	roomID := h.pair("c1", "u1", "c2", "u2")
	h.join("c1", roomID)
	h.join("c2", roomID)

	first := events.ExtendDecisionPayload{RoomID: roomID, Decision: events.DecisionAccept, ExtraTime: 60}
	h.dispatch("c1", events.EventTypeExtendDecision, first)
	h.dispatch("c2", events.EventTypeExtendDecision, first)
	h.barrier()

	// A fresh round needs two fresh votes; one accept alone must not resolve.
	h.dispatch("c2", events.EventTypeExtendDecision, events.ExtendDecisionPayload{
		RoomID: roomID, Decision: events.DecisionAccept, ExtraTime: 90,
	})
	h.barrier()
	if n := h.rec.count("c1", events.EventTypeExtendResult); n != 1 {
		t.Fatalf("got %d extend-result events, want only the first round's", n)
	}

	h.dispatch("c1", events.EventTypeExtendDecision, events.ExtendDecisionPayload{
		RoomID: roomID, Decision: events.DecisionAccept, ExtraTime: 45,
	})
	h.barrier()
	results := h.rec.byType("c1", events.EventTypeExtendResult)
	if len(results) != 2 {
		t.Fatalf("got %d extend-result events, want 2", len(results))
	}
	var p events.ExtendResultPayload
	if err := results[1].DecodeData(&p); err != nil {
		t.Fatalf("decode extend-result: %v", err)
	}
	if p.ExtraTime != 90 {
		t.Fatalf("second round extended by %d, want the new proposer's 90", p.ExtraTime)
	}
}

func TestRejectAlwaysEndsSession(t *testing.T) {
	h := newHarness(t, 300)

	roomID := h.pair("c1", "u1", "c2", "u2")
	h.join("c1", roomID)
	h.join("c2", roomID)

	h.dispatch("c1", events.EventTypeExtendDecision, events.ExtendDecisionPayload{
		RoomID: roomID, Decision: events.DecisionAccept, ExtraTime: 300,
	})
	h.dispatch("c2", events.EventTypeExtendDecision, events.ExtendDecisionPayload{
		RoomID: roomID, Decision: events.DecisionReject,
	})
	h.barrier()

	for _, conn := range []string{"c1", "c2"} {
		ended := h.rec.byType(conn, events.EventTypeChatEnded)
		if len(ended) != 1 {
			t.Fatalf("%s got %d chat-ended events, want 1", conn, len(ended))
		}
		var p events.ChatEndedPayload
		if err := ended[0].DecodeData(&p); err != nil {
			t.Fatalf("decode chat-ended: %v", err)
		}
		if p.Reason != events.EndReasonRejected {
			t.Fatalf("chat-ended reason = %q, want %q", p.Reason, events.EndReasonRejected)
		}
	}

	snap := h.barrier()
	if snap.ActiveSessions != 0 {
		t.Fatalf("active sessions = %d after reject, want 0", snap.ActiveSessions)
	}
}

func TestEndChatThenSecondTriggerIsNoOp(t *testing.T) {
	h := newHarness(t, 300)

	roomID := h.pair("c1", "u1", "c2", "u2")
	h.join("c1", roomID)
	h.join("c2", roomID)

	h.dispatch("c1", events.EventTypeEndChat, events.EndChatPayload{RoomID: roomID})
	h.dispatch("c2", events.EventTypeEndChat, events.EndChatPayload{RoomID: roomID})
	h.eng.Disconnect("c1")
	h.barrier()

	if n := h.rec.count("c2", events.EventTypeChatEnded); n != 1 {
		t.Fatalf("c2 got %d chat-ended events, want exactly 1 despite stacked triggers", n)
	}
	snap := h.barrier()
	if snap.ActiveSessions != 0 {
		t.Fatalf("active sessions = %d, want 0", snap.ActiveSessions)
	}
}

func TestDisconnectOfMemberEndsSession(t *testing.T) {
	h := newHarness(t, 300)

	roomID := h.pair("c1", "u1", "c2", "u2")
	h.join("c1", roomID)
	h.join("c2", roomID)

	h.eng.Disconnect("c1")
	h.barrier()

	ended := h.rec.byType("c2", events.EventTypeChatEnded)
	if len(ended) != 1 {
		t.Fatalf("c2 got %d chat-ended events, want 1", len(ended))
	}
	var p events.ChatEndedPayload
	if err := ended[0].DecodeData(&p); err != nil {
		t.Fatalf("decode chat-ended: %v", err)
	}
	if p.Reason != events.EndReasonPeerDisconnected {
		t.Fatalf("chat-ended reason = %q, want %q", p.Reason, events.EndReasonPeerDisconnected)
	}
}

func TestRelayReachesOnlyTheOtherMember(t *testing.T) {
	h := newHarness(t, 300)

	roomID := h.pair("c1", "u1", "c2", "u2")
	h.join("c1", roomID)
	h.join("c2", roomID)

	h.dispatch("c1", events.EventTypeSendMessage, events.SendMessagePayload{RoomID: roomID, Text: "hey"})
	h.dispatch("c1", events.EventTypeTyping, events.TypingPayload{RoomID: roomID})
	h.barrier()

	msgs := h.rec.byType("c2", events.EventTypeReceiveMessage)
	if len(msgs) != 1 {
		t.Fatalf("c2 got %d relayed messages, want 1", len(msgs))
	}
	var p events.ReceiveMessagePayload
	if err := msgs[0].DecodeData(&p); err != nil {
		t.Fatalf("decode receive-message: %v", err)
	}
	if p.Text != "hey" || p.SenderConnectionID != "c1" {
		t.Fatalf("relayed payload = %+v, want text hey from c1", p)
	}

	if n := h.rec.count("c1", events.EventTypeReceiveMessage); n != 0 {
		t.Fatalf("sender got %d echoes of its own message, want 0", n)
	}
	if n := h.rec.count("c2", events.EventTypeTyping); n != 1 {
		t.Fatalf("c2 got %d typing events, want 1", n)
	}
}

func TestRelayWaitsForJoinRoomAck(t *testing.T) {
	h := newHarness(t, 300)

	roomID := h.pair("c1", "u1", "c2", "u2")
	h.join("c1", roomID)
	// c2 never acknowledged join-room.

	h.dispatch("c1", events.EventTypeSendMessage, events.SendMessagePayload{RoomID: roomID, Text: "early"})
	h.barrier()

	if n := h.rec.count("c2", events.EventTypeReceiveMessage); n != 0 {
		t.Fatalf("unacked member got %d relayed messages, want 0", n)
	}
}

func TestMalformedAndStaleEventsAreIgnored(t *testing.T) {
	h := newHarness(t, 300)

	h.eng.Dispatch("c1", events.Event{Type: events.EventTypeJoinQueue, Data: json.RawMessage(`{"userId":42}`)})
	h.eng.Dispatch("c1", events.Event{Type: "no-such-event"})
	h.dispatch("c1", events.EventTypeSendMessage, events.SendMessagePayload{RoomID: "ghost", Text: "hi"})
	h.dispatch("c1", events.EventTypeEndChat, events.EndChatPayload{RoomID: "ghost"})
	snap := h.barrier()

	if snap.QueueDepth != 0 || snap.ActiveSessions != 0 {
		t.Fatalf("snapshot = %+v, want untouched state", snap)
	}
	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	if len(h.rec.sent) != 0 {
		t.Fatalf("engine sent %d events in response to garbage, want 0", len(h.rec.sent))
	}
}

func TestFullSessionScenario(t *testing.T) {
	h := newHarness(t, 300)

	roomID := h.pair("c1", "u1", "c2", "u2")
	h.join("c1", roomID)
	h.join("c2", roomID)

	h.clock.BlockUntil(1)
	for i := 0; i < 5; i++ {
		h.advanceTick("c1")
	}
	if v := h.lastTimerValue("c1"); v != 295 {
		t.Fatalf("remaining after 5 ticks = %d, want 295", v)
	}

	h.dispatch("c1", events.EventTypeExtendDecision, events.ExtendDecisionPayload{
		RoomID: roomID, Decision: events.DecisionAccept, ExtraTime: 300,
	})
	h.dispatch("c2", events.EventTypeExtendDecision, events.ExtendDecisionPayload{
		RoomID: roomID, Decision: events.DecisionAccept, ExtraTime: 600,
	})
	h.barrier()

	h.advanceTick("c1")
	if v := h.lastTimerValue("c1"); v != 594 {
		t.Fatalf("remaining = %d, want 595 extended minus one tick = 594", v)
	}

	h.dispatch("c2", events.EventTypeEndChat, events.EndChatPayload{RoomID: roomID})
	h.barrier()
	if n := h.rec.count("c1", events.EventTypeChatEnded); n != 1 {
		t.Fatalf("c1 got %d chat-ended events, want 1", n)
	}
	snap := h.barrier()
	if snap.ActiveSessions != 0 {
		t.Fatalf("active sessions = %d at scenario end, want 0", snap.ActiveSessions)
	}
}
