package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is the wire envelope for every message crossing the WebSocket, in
// either direction. Inbound messages from clients only need Type and Data;
// outbound messages are stamped with an ID and server timestamp.
type Event struct {
	ID        string          `json:"id,omitempty"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// EventType identifies the kind of event carried by an envelope.
type EventType string

// Inbound event types (client -> server).
const (
	EventTypeJoinQueue      EventType = "join-queue"
	EventTypeJoinRoom       EventType = "join-room"
	EventTypeSendMessage    EventType = "send-message"
	EventTypeTyping         EventType = "typing"
	EventTypeExtendDecision EventType = "extend-decision"
	EventTypeEndChat        EventType = "end-chat"
)

// Outbound event types (server -> client).
const (
	EventTypeMatchFound     EventType = "match-found"
	EventTypeReceiveMessage EventType = "receive-message"
	EventTypeTimerUpdate    EventType = "timer-update"
	EventTypeOtherVoted     EventType = "other-voted"
	EventTypeExtendResult   EventType = "extend-result"
	EventTypeChatEnded      EventType = "chat-ended"
)

// Decision is a member's answer to an extension proposal.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// Valid reports whether d is one of the known decisions.
func (d Decision) Valid() bool {
	return d == DecisionAccept || d == DecisionReject
}

// Reasons carried by chat-ended.
const (
	EndReasonEnded            = "ended"
	EndReasonRejected         = "rejected"
	EndReasonPeerDisconnected = "peer-disconnected"
)

// JoinQueuePayload asks to enter the matchmaking queue.
type JoinQueuePayload struct {
	UserID string `json:"userId"`
}

// JoinRoomPayload acknowledges a match and joins the room's broadcast group.
type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
}

// SendMessagePayload carries a chat message for the other room member.
type SendMessagePayload struct {
	RoomID string `json:"roomId"`
	Text   string `json:"text"`
}

// TypingPayload signals that the sender is typing.
type TypingPayload struct {
	RoomID string `json:"roomId"`
}

// ExtendDecisionPayload carries one member's extension vote. ExtraTime is in
// seconds, must be positive, and is only meaningful for accept.
type ExtendDecisionPayload struct {
	RoomID    string   `json:"roomId"`
	Decision  Decision `json:"decision"`
	ExtraTime int      `json:"extraTime,omitempty"`
}

// EndChatPayload explicitly terminates a session.
type EndChatPayload struct {
	RoomID string `json:"roomId"`
}

// MatchFoundPayload tells a queued user they have been paired.
type MatchFoundPayload struct {
	RoomID        string `json:"roomId"`
	MatchedUserID string `json:"matchedUserId"`
}

// ReceiveMessagePayload is a relayed chat message.
type ReceiveMessagePayload struct {
	Text               string `json:"text"`
	SenderConnectionID string `json:"senderConnectionId"`
}

// TimerUpdatePayload is broadcast on every countdown tick.
type TimerUpdatePayload struct {
	RemainingSeconds int `json:"remainingSeconds"`
}

// ExtendResultPayload is broadcast when an extension round resolves.
type ExtendResultPayload struct {
	Decision  Decision `json:"decision"`
	ExtraTime int      `json:"extraTime,omitempty"`
}

// ChatEndedPayload is broadcast to the room before teardown.
type ChatEndedPayload struct {
	Reason string `json:"reason"`
}

// New builds an outbound event with a fresh ID and timestamp. It panics only
// if payload is not JSON-marshalable, which for the fixed payload structs
// above cannot happen.
func New(eventType EventType, payload any) Event {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			panic(err)
		}
		data = b
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Parse decodes a raw inbound frame into an Event. Unknown types are not an
// error here; the engine ignores them.
func Parse(raw []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		return Event{}, err
	}
	return evt, nil
}

// DecodeData unmarshals the event payload into dst.
func (e Event) DecodeData(dst any) error {
	return json.Unmarshal(e.Data, dst)
}
