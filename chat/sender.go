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

// Draft is a message as composed by a participant. At least one field must be
// set. AttachmentURL must already point at the blob store.
type Draft struct {
	Text          string `json:"text"`
	AttachmentURL string `json:"media"`
}

func (d Draft) content() (models.Content, error) {
	text := strings.TrimSpace(d.Text)
	url := strings.TrimSpace(d.AttachmentURL)
	switch {
	case url != "":
		return models.Attachment{URL: url, Text: text}, nil
	case text != "":
		return models.PlainText{Text: text}, nil
	}
	return nil, invalid("message needs text or an attachment")
}

// Sender appends messages to rooms.
type Sender struct {
	gw      Gateway
	reports ReportLookup
}

func NewSender(gw Gateway, reports ReportLookup) *Sender {
	return &Sender{gw: gw, reports: reports}
}

// SendMessage stores a normal message. The sender is recorded as its first
// reader.
func (s *Sender) SendMessage(ctx context.Context, roomID, senderID string, draft Draft) (*models.Message, error) {
	if senderID == "" {
		return nil, ErrNotAuthenticated
	}
	content, err := draft.content()
	if err != nil {
		return nil, err
	}
	return s.insert(ctx, roomID, senderID, content, []string{senderID})
}

// SendContextCard stores the system card for a linked report. It starts unread
// by everyone.
func (s *Sender) SendContextCard(ctx context.Context, roomID, senderID string, report models.ReportSnapshot) (*models.Message, error) {
	if senderID == "" {
		return nil, ErrNotAuthenticated
	}
	if report.ID == "" {
		return nil, invalid("context card needs a report id")
	}
	return s.insert(ctx, roomID, senderID, models.SystemCard{Report: report}, []string{})
}

// Send is the compose flow. When attachContext is set and the room's linked
// report has not been introduced yet, the room is flagged and its context card is
// sent first. Only the sender that flips the flag posts the card. The card and
// the message are separate inserts.
func (s *Sender) Send(ctx context.Context, roomID, senderID string, draft Draft, attachContext bool) (*models.Message, error) {
	if senderID == "" {
		return nil, ErrNotAuthenticated
	}
	if _, err := draft.content(); err != nil {
		return nil, err
	}

	if attachContext {
		if err := s.sendPendingCard(ctx, roomID, senderID); err != nil {
			return nil, err
		}
	}
	return s.SendMessage(ctx, roomID, senderID, draft)
}

func (s *Sender) sendPendingCard(ctx context.Context, roomID, senderID string) error {
	room, err := s.room(ctx, roomID, senderID)
	if err != nil {
		return err
	}
	if !room.PendingContextCard() || s.reports == nil {
		return nil
	}

	ref := room.Metadata.LinkedReportReference
	report, err := s.reports.GetReport(ctx, ref)
	if errors.Is(err, ErrNotFound) {
		log.WithFields(log.Fields{"room": roomID, "report": ref}).Warn("linked report no longer exists, skipping context card")
		return nil
	}
	if err != nil {
		return gatewayFailure("get report", err)
	}

	// Claim the link before sending so concurrent senders cannot both post it.
	claimed, err := s.gw.MarkContextCardSent(ctx, roomID, ref)
	if err != nil {
		return gatewayFailure("claim context card", err)
	}
	if !claimed {
		return nil
	}

	if _, err := s.SendContextCard(ctx, roomID, senderID, *report); err != nil {
		if _, rerr := s.gw.ReleaseContextCard(ctx, roomID, ref); rerr != nil {
			log.WithError(rerr).WithField("room", roomID).Error("could not re-arm context card")
		}
		return err
	}
	return nil
}

func (s *Sender) room(ctx context.Context, roomID, senderID string) (*models.Room, error) {
	room, err := s.gw.GetRoom(ctx, roomID)
	if errors.Is(err, ErrNotFound) {
		return nil, invalid("room %s does not exist", roomID)
	}
	if err != nil {
		return nil, gatewayFailure("get room", err)
	}
	if !room.HasParticipant(senderID) {
		return nil, invalid("user %s is not a participant of room %s", senderID, roomID)
	}
	return room, nil
}

func (s *Sender) insert(ctx context.Context, roomID, senderID string, content models.Content, readBy []string) (*models.Message, error) {
	if _, err := s.room(ctx, roomID, senderID); err != nil {
		return nil, err
	}

	payload, err := content.Encode()
	if err != nil {
		return nil, errors.Wrap(err, "encode message content")
	}

	sender := senderID
	msg := &models.Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		SenderID:  &sender,
		Content:   payload,
		ReadBy:    readBy,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.gw.InsertMessage(ctx, msg); err != nil {
		return nil, gatewayFailure("insert message", err)
	}

	messagesSent.WithLabelValues(contentKind(content)).Inc()
	log.WithFields(log.Fields{"room": roomID, "message": msg.ID, "sender": senderID}).Debug("stored message")
	return msg, nil
}

func contentKind(c models.Content) string {
	switch c.(type) {
	case models.SystemCard:
		return "system"
	case models.Attachment:
		return "attachment"
	default:
		return "text"
	}
}
