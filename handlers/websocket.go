package handlers

import (
	"context"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	log "github.com/sirupsen/logrus"

	"github.com/karthikraju391/campus-chat/chat"
	"github.com/karthikraju391/campus-chat/config"
)

// inboundFrame is what clients send over the socket.
type inboundFrame struct {
	Type          string `json:"type"` // "message" or "typing"
	Text          string `json:"text"`
	Media         string `json:"media"`
	AttachContext bool   `json:"attach_context"`
}

// outboundFrame is what the server pushes to clients.
type outboundFrame struct {
	Type          string                     `json:"type"` // "snapshot", "conversations" or "error"
	Messages      []messageView              `json:"messages,omitempty"`
	Typing        bool                       `json:"typing"`
	Conversations []chat.ConversationSummary `json:"conversations,omitempty"`
	Error         string                     `json:"error,omitempty"`
}

type Client struct {
	Conn      *websocket.Conn
	Server    *Server
	View      *chat.RoomView
	RoomID    string
	UserID    string
	FrameChan chan *outboundFrame // Frames waiting to be written
	DoneChan  chan struct{}       // Closed when the reader exits
}

func NewClient(conn *websocket.Conn, srv *Server, roomID, userID string) *Client {
	return &Client{
		Conn:      conn,
		Server:    srv,
		RoomID:    roomID,
		UserID:    userID,
		FrameChan: make(chan *outboundFrame, 256),
		DoneChan:  make(chan struct{}),
	}
}

// push queues a frame for the writer without blocking the realtime delivery
// goroutine for long.
func (c *Client) push(frame *outboundFrame) {
	select {
	case c.FrameChan <- frame:
	case <-time.After(1 * time.Second):
		log.WithFields(log.Fields{"user": c.UserID, "room": c.RoomID}).Warn("timeout queueing frame for client")
	case <-c.DoneChan:
	}
}

func (c *Client) pushConversations(rows []chat.ConversationSummary) {
	c.push(&outboundFrame{Type: "conversations", Conversations: rows})
}

func (c *Client) pushSnapshot(snap chat.RoomSnapshot) {
	c.push(&outboundFrame{
		Type:     "snapshot",
		Messages: messageViews(snap.Messages, c.UserID),
		Typing:   snap.Typing,
	})
}

// HandleRead reads frames from the WebSocket connection until it closes.
func (c *Client) HandleRead(ctx context.Context) {
	logger := log.WithFields(log.Fields{"user": c.UserID, "room": c.RoomID})
	defer func() {
		logger.Debug("reader closed")
		close(c.DoneChan) // Signal writer to stop
	}()
	c.Conn.SetReadLimit(config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(config.PongWait))
		return nil
	})

	for {
		var frame inboundFrame
		err := c.Conn.ReadJSON(&frame)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.WithError(err).Warn("websocket read error")
			} else {
				logger.WithError(err).Debug("websocket closed")
			}
			break
		}

		switch frame.Type {
		case "typing":
			pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := c.View.NotifyTyping(pubCtx); err != nil {
				logger.WithError(err).Debug("failed to publish typing event")
			}
			cancel()
		case "message":
			c.send(ctx, frame)
		default:
			c.push(&outboundFrame{Type: "error", Error: "unknown frame type"})
		}
	}
}

// HandleDrain discards client frames until the connection closes. Used by
// connections that only receive.
func (c *Client) HandleDrain() {
	defer close(c.DoneChan)
	c.Conn.SetReadLimit(config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(config.PongWait))
		return nil
	})
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) send(ctx context.Context, frame inboundFrame) {
	draft := chat.Draft{Text: frame.Text, AttachmentURL: frame.Media}
	sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// The stored message comes back through the change feed; only failures are
	// answered directly so the client keeps its compose input.
	if _, err := c.Server.Sender.Send(sendCtx, c.RoomID, c.UserID, draft, frame.AttachContext); err != nil {
		msg := "failed to send message"
		if chat.IsValidation(err) {
			msg = err.Error()
		}
		log.WithError(err).WithFields(log.Fields{"user": c.UserID, "room": c.RoomID}).Warn("send failed")
		c.push(&outboundFrame{Type: "error", Error: msg})
	}
}

// HandleWrite writes queued frames to the WebSocket connection and keeps it
// alive with pings.
func (c *Client) HandleWrite() {
	ticker := time.NewTicker(config.PingPeriod)
	defer func() {
		ticker.Stop()
		log.WithFields(log.Fields{"user": c.UserID, "room": c.RoomID}).Debug("writer closed")
	}()

	for {
		select {
		case frame := <-c.FrameChan:
			c.Conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := c.Conn.WriteJSON(frame); err != nil {
				log.WithError(err).WithField("user", c.UserID).Warn("websocket write error")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.WithError(err).WithField("user", c.UserID).Debug("websocket ping error")
				return
			}

		case <-c.DoneChan:
			c.Conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (s *Server) registerWebSocket(app *fiber.App) {
	app.Use("/chat", RequireUser, func(c *fiber.Ctx) error {
		// Check if the request is a WebSocket upgrade request
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/chat", websocket.New(func(c *websocket.Conn) {
		s.HandleConversationsSocket(c)
	}))
	app.Get("/chat/:roomID", websocket.New(func(c *websocket.Conn) {
		s.HandleWebSocket(c)
	}))
}

// HandleConversationsSocket streams the viewer's conversation list, re-sent
// whenever a message concerning one of their partners changes.
func (s *Server) HandleConversationsSocket(c *websocket.Conn) {
	userID, _ := c.Locals(userLocal).(string)
	logger := log.WithField("user", userID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := NewClient(c, s, "", userID)
	loadCtx, cancelLoad := context.WithTimeout(ctx, requestTimeout)
	list, err := s.Aggregator.NewConversationList(loadCtx, s.Feed, userID, client.pushConversations)
	cancelLoad()
	if err != nil {
		logger.WithError(err).Warn("failed to load conversation list")
		c.WriteJSON(outboundFrame{Type: "error", Error: "could not load conversations"})
		c.Close()
		return
	}
	if err := list.Start(ctx); err != nil {
		logger.WithError(err).Warn("conversation list will not update live")
	}
	defer func() {
		list.Stop()
		c.Close()
		logger.Debug("conversation list client disconnected")
	}()

	client.pushConversations(list.Rows())
	go client.HandleWrite()
	client.HandleDrain()
}

// HandleWebSocket manages the lifecycle of a room connection: it opens a live
// room view, streams its snapshots and closes the view when the socket goes.
func (s *Server) HandleWebSocket(c *websocket.Conn) {
	userID, _ := c.Locals(userLocal).(string)
	roomID := utils.CopyString(c.Params("roomID"))
	logger := log.WithFields(log.Fields{"user": userID, "room": roomID})

	if userID == "" {
		c.WriteJSON(outboundFrame{Type: "error", Error: "not authenticated"})
		c.Close()
		return
	}
	if roomID == "" {
		c.WriteJSON(outboundFrame{Type: "error", Error: "missing room id"})
		c.Close()
		return
	}

	// The view lives exactly as long as the connection.
	viewCtx, cancelView := context.WithCancel(context.Background())
	defer cancelView()

	client := NewClient(c, s, roomID, userID)
	view, err := s.Sync.OpenRoom(viewCtx, roomID, userID, client.pushSnapshot)
	if err != nil {
		msg := "could not open conversation"
		if chat.IsValidation(err) {
			msg = err.Error()
		}
		logger.WithError(err).Warn("failed to open room view")
		c.WriteJSON(outboundFrame{Type: "error", Error: msg})
		c.Close()
		return
	}
	client.View = view
	logger.WithField("state", view.State()).Info("client connected")

	defer func() {
		view.Close()
		c.Close()
		logger.Info("client disconnected")
	}()

	go client.HandleWrite()

	// Blocks until the connection closes or errors.
	client.HandleRead(viewCtx)
}
