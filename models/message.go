package models

import (
	"time"
)

// Message represents a chat message
type Message struct {
	ID        string    `json:"id"`         // Unique message ID (UUID)
	RoomID    string    `json:"room_id"`    // Room the message belongs to, never changes
	SenderID  *string   `json:"sender_id"`  // Nil for system-authored messages
	Content   string    `json:"content"`    // Encoded payload, see ParseContent
	ReadBy    []string  `json:"read_by"`    // Participants who have seen the message
	CreatedAt time.Time `json:"created_at"` // Timestamp of message creation
}

// SentBy reports whether userID authored the message.
func (m *Message) SentBy(userID string) bool {
	return m.SenderID != nil && *m.SenderID == userID
}

// ReadByUser reports whether userID is in the read-by set.
func (m *Message) ReadByUser(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// UnreadFor reports whether the message is an incoming message viewerID has not seen.
func (m *Message) UnreadFor(viewerID string) bool {
	return !m.SentBy(viewerID) && !m.ReadByUser(viewerID)
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	if m.ReadBy != nil {
		m.ReadBy = append([]string(nil), m.ReadBy...)
	}
	if m.SenderID != nil {
		sender := *m.SenderID
		m.SenderID = &sender
	}
	return m
}

// EventType distinguishes change notifications.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
)

// ChangeEvent is a change notification for a message row.
type ChangeEvent struct {
	EventType EventType `json:"eventType"`
	Record    Message   `json:"record"`
}

// TypingEvent is broadcast on a room's presence channel while a participant types.
type TypingEvent struct {
	Event   string        `json:"event"`
	Payload TypingPayload `json:"payload"`
}

type TypingPayload struct {
	SenderID string `json:"sender_id"`
}

// TypingEventName is the only event carried on presence channels.
const TypingEventName = "typing"

// NewTypingEvent builds the presence payload for senderID.
func NewTypingEvent(senderID string) TypingEvent {
	return TypingEvent{Event: TypingEventName, Payload: TypingPayload{SenderID: senderID}}
}
