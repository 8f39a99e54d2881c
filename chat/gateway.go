package chat

import (
	"context"

	"github.com/pkg/errors"

	"github.com/karthikraju391/campus-chat/models"
)

// ErrNotFound is returned by gateways for point lookups that match nothing.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned by CreateRoom when a room for the pair already exists.
var ErrConflict = errors.New("conflict")

// Gateway is the durable store for rooms and messages.
type Gateway interface {
	// FindRoom returns the room for the unordered pair {a, b}, or ErrNotFound.
	FindRoom(ctx context.Context, a, b string) (*models.Room, error)
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	// RoomsFor lists every room userID participates in.
	RoomsFor(ctx context.Context, userID string) ([]models.Room, error)
	// CreateRoom inserts room, returning ErrConflict if the pair already has one.
	CreateRoom(ctx context.Context, room *models.Room) error
	UpdateRoomMetadata(ctx context.Context, roomID string, meta models.RoomMetadata) error
	// MarkContextCardSent sets the flag only while reportRef is still the linked
	// report. It reports whether the row changed.
	MarkContextCardSent(ctx context.Context, roomID, reportRef string) (bool, error)
	// ReleaseContextCard clears the flag set by MarkContextCardSent, again only
	// while reportRef is the linked report.
	ReleaseContextCard(ctx context.Context, roomID, reportRef string) (bool, error)

	InsertMessage(ctx context.Context, msg *models.Message) error
	// ListMessages returns a room's messages ordered by creation time ascending.
	ListMessages(ctx context.Context, roomID string) ([]models.Message, error)
	// LatestMessage returns the newest message in the room, or ErrNotFound.
	LatestMessage(ctx context.Context, roomID string) (*models.Message, error)
	// AddReader atomically adds userID to the message's read-by set.
	AddReader(ctx context.Context, messageID, userID string) error
}

// Subscription is a live registration returned by ChangeFeed and Presence.
// Unsubscribe must be safe to call more than once.
type Subscription interface {
	Unsubscribe()
}

// ChangeFeed delivers message insert and update notifications.
type ChangeFeed interface {
	SubscribeRoom(ctx context.Context, roomID string, handler func(models.ChangeEvent)) (Subscription, error)
	SubscribeAll(ctx context.Context, handler func(models.ChangeEvent)) (Subscription, error)
}

// Presence is the ephemeral typing channel keyed by room.
type Presence interface {
	PublishTyping(ctx context.Context, roomID string, evt models.TypingEvent) error
	SubscribeTyping(ctx context.Context, roomID string, handler func(models.TypingEvent)) (Subscription, error)
}

// ProfileDirectory resolves participants and their roles.
type ProfileDirectory interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	ListProfiles(ctx context.Context) ([]models.Profile, error)
	// Emails resolves addresses for the given ids; unknown ids are absent.
	Emails(ctx context.Context, userIDs []string) (map[string]string, error)
}

// ReportLookup fetches the snapshot of a linked report or lost-and-found item.
type ReportLookup interface {
	GetReport(ctx context.Context, reportRef string) (*models.ReportSnapshot, error)
}
