package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	log "github.com/sirupsen/logrus"

	"github.com/karthikraju391/campus-chat/blob"
	"github.com/karthikraju391/campus-chat/chat"
)

// requestTimeout bounds collaborator calls made on behalf of one request.
const requestTimeout = 10 * time.Second

// Server exposes the chat core over HTTP.
type Server struct {
	Gateway    chat.Gateway
	Feed       chat.ChangeFeed
	Resolver   *chat.Resolver
	Sender     *chat.Sender
	Sync       *chat.Synchronizer
	Aggregator *chat.Aggregator
	Uploader   *blob.Uploader
}

// Register mounts the API and websocket routes on app.
func (s *Server) Register(app *fiber.App) {
	api := app.Group("/api", RequireUser)
	api.Post("/rooms", s.openRoom)
	api.Get("/conversations", s.listConversations)
	api.Get("/rooms/:roomID/messages", s.listMessages)
	api.Post("/rooms/:roomID/messages", s.sendMessage)
	api.Post("/rooms/:roomID/attachments", s.uploadAttachment)

	s.registerWebSocket(app)
}

// failure maps core errors onto HTTP statuses. action is shown to the user for
// collaborator failures.
func failure(c *fiber.Ctx, err error, action string) error {
	logger := log.WithError(err).WithFields(log.Fields{"path": c.Path(), "user": currentUser(c)})
	switch {
	case errors.Is(err, chat.ErrNotAuthenticated):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "not authenticated"})
	case chat.IsValidation(err):
		logger.Debug("rejected request")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case chat.IsGatewayFailure(err):
		logger.Error(action)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": action})
	}
	logger.Error("unexpected error")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": action})
}

func requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), requestTimeout)
}

type openRoomRequest struct {
	PartnerID string `json:"partner_id" form:"partner_id"`
	ReportID  string `json:"report_id" form:"report_id"`
}

func (s *Server) openRoom(c *fiber.Ctx) error {
	var req openRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON: " + err.Error()})
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	// Form bodies decode into strings backed by the request.
	partnerID, reportID := utils.CopyString(req.PartnerID), utils.CopyString(req.ReportID)
	roomID, err := s.Resolver.ResolveRoom(ctx, currentUser(c), partnerID, reportID)
	if err != nil {
		return failure(c, err, "could not open conversation")
	}
	return c.JSON(fiber.Map{"room_id": roomID})
}

func (s *Server) listConversations(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	userID := currentUser(c)
	partners, err := s.Aggregator.CandidatePartners(ctx, userID)
	if err != nil {
		return failure(c, err, "could not load conversations")
	}
	rows, err := s.Aggregator.ListConversations(ctx, userID, partners)
	if err != nil {
		return failure(c, err, "could not load conversations")
	}
	return c.JSON(rows)
}

// participantRoom checks the viewer belongs to the addressed room. When it
// returns false the response has been written.
func (s *Server) participantRoom(ctx context.Context, c *fiber.Ctx) (bool, error) {
	room, err := s.Gateway.GetRoom(ctx, roomParam(c))
	if errors.Is(err, chat.ErrNotFound) {
		return false, c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "conversation not found"})
	}
	if err != nil {
		return false, failure(c, chat.GatewayFailure("get room", err), "could not open conversation")
	}
	if !room.HasParticipant(currentUser(c)) {
		return false, c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "not a participant of this conversation"})
	}
	return true, nil
}

func (s *Server) listMessages(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	if ok, err := s.participantRoom(ctx, c); !ok {
		return err
	}
	msgs, err := s.Gateway.ListMessages(ctx, roomParam(c))
	if err != nil {
		return failure(c, chat.GatewayFailure("list messages", err), "could not load messages")
	}
	return c.JSON(messageViews(msgs, currentUser(c)))
}

type sendMessageRequest struct {
	chat.Draft
	AttachContext bool `json:"attach_context"`
}

func (s *Server) sendMessage(c *fiber.Ctx) error {
	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON: " + err.Error()})
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	userID := currentUser(c)
	msg, err := s.Sender.Send(ctx, roomParam(c), userID, req.Draft, req.AttachContext)
	if err != nil {
		return failure(c, err, "failed to send message")
	}
	return c.Status(fiber.StatusCreated).JSON(newMessageView(*msg, userID, time.Now()))
}

func (s *Server) uploadAttachment(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing file"})
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	if ok, err := s.participantRoom(ctx, c); !ok {
		return err
	}

	f, err := fh.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unreadable file"})
	}
	defer f.Close()

	url, err := s.Uploader.Upload(ctx, currentUser(c), blob.File{
		Name:        fh.Filename,
		Size:        fh.Size,
		ContentType: fh.Header.Get("Content-Type"),
		Body:        f,
	})
	if err != nil {
		return failure(c, err, "failed to upload attachment")
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"url": url})
}
