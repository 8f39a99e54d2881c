package models

import "time"

// Room is the single conversation between two participants.
type Room struct {
	ID        string       `json:"id"`
	User1     string       `json:"user1"`
	User2     string       `json:"user2"`
	Metadata  RoomMetadata `json:"metadata"`
	CreatedAt time.Time    `json:"created_at"`
}

// RoomMetadata carries the optional linked report and whether its context card
// has gone out.
type RoomMetadata struct {
	LinkedReportReference string `json:"linked_report_reference,omitempty"`
	ContextCardSent       bool   `json:"context_card_sent"`
}

// HasParticipant reports whether userID is one of the two participants.
func (r *Room) HasParticipant(userID string) bool {
	return userID != "" && (r.User1 == userID || r.User2 == userID)
}

// Partner returns the participant that is not userID. It returns "" when userID
// is not in the room.
func (r *Room) Partner(userID string) string {
	switch userID {
	case r.User1:
		return r.User2
	case r.User2:
		return r.User1
	}
	return ""
}

// PendingContextCard reports whether a context card should precede the next
// message.
func (r *Room) PendingContextCard() bool {
	return r.Metadata.LinkedReportReference != "" && !r.Metadata.ContextCardSent
}
