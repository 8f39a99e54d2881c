package nats_service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	log "github.com/sirupsen/logrus"

	"github.com/karthikraju391/campus-chat/chat"
	"github.com/karthikraju391/campus-chat/config"
	"github.com/karthikraju391/campus-chat/models"
)

// consumerInactiveThreshold lets the server reap consumers of clients that
// vanished without stopping them.
const consumerInactiveThreshold = 30 * time.Second

// NatsService carries message change notifications over JetStream and typing
// events over plain NATS subjects.
type NatsService struct {
	js     jetstream.JetStream
	nc     *nats.Conn
	stream string
	prefix string
}

// NewNatsService connects to NATS and initializes JetStream
func NewNatsService(cfg *config.Config) (*NatsService, error) {
	nc, err := nats.Connect(cfg.NatsURL, nats.Name("campus-chat"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	// Ensure stream exists
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := js.Stream(ctx, cfg.StreamName)
	if err != nil {
		log.WithField("stream", cfg.StreamName).Info("stream not found, attempting to create")
		streamCfg := jetstream.StreamConfig{
			Name:        cfg.StreamName,
			Description: "Chat message change notifications",
			Subjects:    []string{messageWildcard(cfg.SubjectPrefix)},
			MaxAge:      cfg.StreamMaxAge,
			Storage:     jetstream.FileStorage,
		}
		stream, err = js.CreateStream(ctx, streamCfg)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create stream '%s': %w", cfg.StreamName, err)
		}
		log.WithField("stream", cfg.StreamName).Info("stream created")
	} else {
		log.WithField("stream", stream.CachedInfo().Config.Name).Info("found existing stream")
	}

	return &NatsService{js: js, nc: nc, stream: cfg.StreamName, prefix: cfg.SubjectPrefix}, nil
}

// Close NATS connection
func (s *NatsService) Close() {
	if s.nc != nil {
		s.nc.Close()
	}
}

// Healthy reports whether the connection is up.
func (s *NatsService) Healthy() bool {
	return s.nc != nil && s.nc.IsConnected()
}

// messageSubject is the JetStream subject for change events of one room.
func messageSubject(prefix, roomID string) string {
	return fmt.Sprintf("%s.messages.%s", prefix, roomID)
}

func messageWildcard(prefix string) string {
	return fmt.Sprintf("%s.messages.*", prefix)
}

// typingSubject is the core NATS subject for a room's typing events.
func typingSubject(prefix, roomID string) string {
	return fmt.Sprintf("%s.typing.%s", prefix, roomID)
}

// validToken rejects ids that would change the meaning of a subject.
func validToken(roomID string) error {
	if roomID == "" || strings.ContainsAny(roomID, ".*> \t\r\n") {
		return fmt.Errorf("invalid room id %q for subject", roomID)
	}
	return nil
}

// PublishChange announces a committed message write.
func (s *NatsService) PublishChange(ctx context.Context, evt models.ChangeEvent) error {
	if err := validToken(evt.Record.RoomID); err != nil {
		return err
	}
	subject := messageSubject(s.prefix, evt.Record.RoomID)
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	if _, err := s.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish change to subject '%s': %w", subject, err)
	}
	log.WithFields(log.Fields{"subject": subject, "message": evt.Record.ID, "event": evt.EventType}).Debug("published change")
	return nil
}

func decodeChange(data []byte) (models.ChangeEvent, error) {
	var evt models.ChangeEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return evt, err
	}
	if evt.EventType != models.EventInsert && evt.EventType != models.EventUpdate {
		return evt, fmt.Errorf("unknown event type %q", evt.EventType)
	}
	return evt, nil
}

// SubscribeRoom delivers changes to messages of roomID made after the call.
func (s *NatsService) SubscribeRoom(ctx context.Context, roomID string, handler func(models.ChangeEvent)) (chat.Subscription, error) {
	if err := validToken(roomID); err != nil {
		return nil, err
	}
	return s.consume(ctx, messageSubject(s.prefix, roomID), handler)
}

// SubscribeAll delivers changes to messages of every room.
func (s *NatsService) SubscribeAll(ctx context.Context, handler func(models.ChangeEvent)) (chat.Subscription, error) {
	return s.consume(ctx, messageWildcard(s.prefix), handler)
}

func (s *NatsService) consume(ctx context.Context, subject string, handler func(models.ChangeEvent)) (chat.Subscription, error) {
	// Ephemeral consumer starting at the tail: views load history from the
	// database and only need what happens next.
	cons, err := s.js.CreateOrUpdateConsumer(ctx, s.stream, jetstream.ConsumerConfig{
		FilterSubject:     subject,
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		AckPolicy:         jetstream.AckNonePolicy,
		InactiveThreshold: consumerInactiveThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer for subject '%s': %w", subject, err)
	}

	log.WithField("subject", subject).Debug("subscribing")

	consumeCtx, err := cons.Consume(func(jsMsg jetstream.Msg) {
		evt, err := decodeChange(jsMsg.Data())
		if err != nil {
			log.WithError(err).WithField("subject", jsMsg.Subject()).Warn("dropping undecodable change event")
			return
		}
		handler(evt)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming from subject '%s': %w", subject, err)
	}

	return &consumeSubscription{consumeCtx: consumeCtx}, nil
}

// PublishTyping broadcasts a typing event. It is not persisted.
func (s *NatsService) PublishTyping(_ context.Context, roomID string, evt models.TypingEvent) error {
	if err := validToken(roomID); err != nil {
		return err
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal typing event: %w", err)
	}
	return s.nc.Publish(typingSubject(s.prefix, roomID), data)
}

// SubscribeTyping delivers typing events for roomID.
func (s *NatsService) SubscribeTyping(_ context.Context, roomID string, handler func(models.TypingEvent)) (chat.Subscription, error) {
	if err := validToken(roomID); err != nil {
		return nil, err
	}
	subject := typingSubject(s.prefix, roomID)
	sub, err := s.nc.Subscribe(subject, func(msg *nats.Msg) {
		var evt models.TypingEvent
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			log.WithError(err).WithField("subject", msg.Subject).Debug("dropping undecodable typing event")
			return
		}
		handler(evt)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to subject '%s': %w", subject, err)
	}
	return &natsSubscription{sub: sub}, nil
}

type consumeSubscription struct {
	once       sync.Once
	consumeCtx jetstream.ConsumeContext
}

func (c *consumeSubscription) Unsubscribe() {
	c.once.Do(c.consumeCtx.Stop)
}

type natsSubscription struct {
	once sync.Once
	sub  *nats.Subscription
}

func (n *natsSubscription) Unsubscribe() {
	n.once.Do(func() {
		if err := n.sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
			log.WithError(err).WithField("subject", n.sub.Subject).Debug("unsubscribe failed")
		}
	})
}

var (
	_ chat.ChangeFeed = (*NatsService)(nil)
	_ chat.Presence   = (*NatsService)(nil)
)
