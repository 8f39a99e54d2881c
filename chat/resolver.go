package chat

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/karthikraju391/campus-chat/models"
)

// Resolver finds or creates the conversation between two participants.
type Resolver struct {
	gw Gateway
}

func NewResolver(gw Gateway) *Resolver {
	return &Resolver{gw: gw}
}

// ResolveRoom returns the room shared by selfID and otherID, creating it on first
// contact. A non-empty reportRef links the room to that report and re-arms its
// context card, replacing any previous link.
func (r *Resolver) ResolveRoom(ctx context.Context, selfID, otherID, reportRef string) (string, error) {
	if selfID == "" {
		return "", ErrNotAuthenticated
	}
	otherID = strings.TrimSpace(otherID)
	if otherID == "" {
		return "", invalid("missing conversation partner")
	}
	if otherID == selfID {
		return "", invalid("cannot open a conversation with yourself")
	}

	room, err := r.gw.FindRoom(ctx, selfID, otherID)
	switch {
	case err == nil:
		return r.relink(ctx, room, reportRef)
	case !errors.Is(err, ErrNotFound):
		return "", gatewayFailure("find room", err)
	}

	room = &models.Room{
		ID:        uuid.NewString(),
		User1:     selfID,
		User2:     otherID,
		CreatedAt: time.Now().UTC(),
	}
	if reportRef != "" {
		room.Metadata = models.RoomMetadata{LinkedReportReference: reportRef}
	}

	err = r.gw.CreateRoom(ctx, room)
	if errors.Is(err, ErrConflict) {
		// Both participants opened the conversation at once; use the winner's row.
		existing, ferr := r.gw.FindRoom(ctx, selfID, otherID)
		if ferr != nil {
			return "", gatewayFailure("find room", ferr)
		}
		return r.relink(ctx, existing, reportRef)
	}
	if err != nil {
		return "", gatewayFailure("create room", err)
	}

	log.WithFields(log.Fields{
		"room":   room.ID,
		"user1":  selfID,
		"user2":  otherID,
		"report": reportRef,
	}).Info("created chat room")
	return room.ID, nil
}

func (r *Resolver) relink(ctx context.Context, room *models.Room, reportRef string) (string, error) {
	if reportRef == "" {
		return room.ID, nil
	}
	meta := models.RoomMetadata{LinkedReportReference: reportRef, ContextCardSent: false}
	if err := r.gw.UpdateRoomMetadata(ctx, room.ID, meta); err != nil {
		return "", gatewayFailure("update room metadata", err)
	}
	log.WithFields(log.Fields{"room": room.ID, "report": reportRef}).Debug("linked report to chat room")
	return room.ID, nil
}

// FindRoom returns the existing room for the pair without creating one. The
// returned room is nil when the pair has never talked.
func (r *Resolver) FindRoom(ctx context.Context, selfID, otherID string) (*models.Room, error) {
	if selfID == "" {
		return nil, ErrNotAuthenticated
	}
	room, err := r.gw.FindRoom(ctx, selfID, otherID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, gatewayFailure("find room", err)
	}
	return room, nil
}
