package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/karthikraju391/campus-chat/models"
)

// DefaultTypingQuietPeriod is how long a typing indicator stays on after the
// last event.
const DefaultTypingQuietPeriod = 1500 * time.Millisecond

// ViewState is the subscription state of a RoomView.
type ViewState int

const (
	Idle ViewState = iota
	Subscribed
)

func (s ViewState) String() string {
	if s == Subscribed {
		return "subscribed"
	}
	return "idle"
}

// RoomSnapshot is what a room view shows at a point in time.
type RoomSnapshot struct {
	Messages []models.Message `json:"messages"`
	Typing   bool             `json:"typing"`
}

// Synchronizer opens live views of rooms.
type Synchronizer struct {
	gw          Gateway
	feed        ChangeFeed
	presence    Presence
	tracker     *Tracker
	quietPeriod time.Duration
}

func NewSynchronizer(gw Gateway, feed ChangeFeed, presence Presence, quietPeriod time.Duration) *Synchronizer {
	if quietPeriod <= 0 {
		quietPeriod = DefaultTypingQuietPeriod
	}
	return &Synchronizer{
		gw:          gw,
		feed:        feed,
		presence:    presence,
		tracker:     NewTracker(gw),
		quietPeriod: quietPeriod,
	}
}

// RoomView keeps the ordered message list of one room in sync with the change
// feed for as long as it is open. Close must be called when the viewer leaves.
type RoomView struct {
	owner    *Synchronizer
	room     *models.Room
	viewerID string
	onChange func(RoomSnapshot)

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       ViewState
	closed      bool
	messages    []models.Message
	typing      bool
	typingGen   uint64
	typingTimer *time.Timer
	msgSub      Subscription
	typingSub   Subscription

	// notifyMu serializes onChange so observers never see an older snapshot
	// after a newer one.
	notifyMu sync.Mutex
}

// OpenRoom loads roomID for viewerID and subscribes to its live updates.
// onChange, if set, receives a snapshot after every visible change. A failed
// subscription is logged and leaves the view Idle with the loaded snapshot.
func (s *Synchronizer) OpenRoom(ctx context.Context, roomID, viewerID string, onChange func(RoomSnapshot)) (*RoomView, error) {
	if viewerID == "" {
		return nil, ErrNotAuthenticated
	}

	room, err := s.gw.GetRoom(ctx, roomID)
	if errors.Is(err, ErrNotFound) {
		return nil, invalid("room %s does not exist", roomID)
	}
	if err != nil {
		return nil, gatewayFailure("get room", err)
	}
	if !room.HasParticipant(viewerID) {
		return nil, invalid("user %s is not a participant of room %s", viewerID, roomID)
	}

	v := &RoomView{
		owner:    s,
		room:     room,
		viewerID: viewerID,
		onChange: onChange,
	}
	v.ctx, v.cancel = context.WithCancel(ctx)

	// Subscribe before loading so nothing inserted in between is missed; the
	// merge is idempotent.
	v.subscribe()

	loaded, err := s.gw.ListMessages(ctx, roomID)
	if err != nil {
		v.Close()
		return nil, gatewayFailure("list messages", err)
	}
	v.mu.Lock()
	for _, msg := range loaded {
		v.insertLocked(msg)
	}
	v.mu.Unlock()

	v.changed()
	return v, nil
}

func (v *RoomView) subscribe() {
	s := v.owner
	logger := log.WithFields(log.Fields{"room": v.room.ID, "viewer": v.viewerID})

	msgSub, err := s.feed.SubscribeRoom(v.ctx, v.room.ID, v.apply)
	if err != nil {
		subscriptionFailures.WithLabelValues("messages").Inc()
		logger.WithError(err).Warn("live updates unavailable, showing last loaded messages")
		return
	}

	var typingSub Subscription
	if s.presence != nil {
		typingSub, err = s.presence.SubscribeTyping(v.ctx, v.room.ID, v.typingReceived)
		if err != nil {
			subscriptionFailures.WithLabelValues("typing").Inc()
			logger.WithError(err).Warn("typing indicator unavailable")
		}
	}

	v.mu.Lock()
	v.msgSub = msgSub
	v.typingSub = typingSub
	v.state = Subscribed
	v.mu.Unlock()
	logger.Debug("subscribed to room")
}

// Room returns the room the view was opened on.
func (v *RoomView) Room() *models.Room {
	return v.room
}

func (v *RoomView) State() ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Messages returns a copy of the ordered message list.
func (v *RoomView) Messages() []models.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.messagesLocked()
}

func (v *RoomView) messagesLocked() []models.Message {
	out := make([]models.Message, len(v.messages))
	for i := range v.messages {
		out[i] = v.messages[i].Clone()
	}
	return out
}

// Typing reports whether the other participant is typing.
func (v *RoomView) Typing() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.typing
}

func (v *RoomView) Snapshot() RoomSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return RoomSnapshot{Messages: v.messagesLocked(), Typing: v.typing}
}

// NotifyTyping tells the other participant the viewer is typing.
func (v *RoomView) NotifyTyping(ctx context.Context) error {
	if v.owner.presence == nil {
		return nil
	}
	if err := v.owner.presence.PublishTyping(ctx, v.room.ID, models.NewTypingEvent(v.viewerID)); err != nil {
		return gatewayFailure("publish typing", err)
	}
	return nil
}

// apply merges one change notification into the view.
func (v *RoomView) apply(evt models.ChangeEvent) {
	if evt.Record.RoomID != v.room.ID {
		return
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	var changed bool
	switch evt.EventType {
	case models.EventInsert:
		changed = v.insertLocked(evt.Record)
	case models.EventUpdate:
		changed = v.replaceLocked(evt.Record)
	}
	v.mu.Unlock()

	if changed {
		v.changed()
	}
}

// insertLocked adds msg in creation order unless its id is already present.
func (v *RoomView) insertLocked(msg models.Message) bool {
	if v.indexLocked(msg.ID) >= 0 {
		return false
	}
	// Insert after any message with an equal timestamp to keep arrival order.
	i := sort.Search(len(v.messages), func(i int) bool {
		return v.messages[i].CreatedAt.After(msg.CreatedAt)
	})
	v.messages = append(v.messages, models.Message{})
	copy(v.messages[i+1:], v.messages[i:])
	v.messages[i] = msg.Clone()
	return true
}

// replaceLocked swaps in an updated record. Updates for messages not seen yet are
// dropped; the insert will carry the current state.
func (v *RoomView) replaceLocked(msg models.Message) bool {
	i := v.indexLocked(msg.ID)
	if i < 0 {
		return false
	}
	// Keep the original position: creation time never changes.
	msg.CreatedAt = v.messages[i].CreatedAt
	v.messages[i] = msg.Clone()
	return true
}

func (v *RoomView) indexLocked(id string) int {
	for i := range v.messages {
		if v.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// changed publishes the new snapshot and marks anything now visible as read.
func (v *RoomView) changed() {
	v.notify()

	if v.ctx.Err() != nil {
		return
	}
	v.owner.tracker.MarkRead(v.ctx, v.room.ID, v.viewerID, v.Messages())
}

func (v *RoomView) notify() {
	if v.onChange == nil {
		return
	}
	v.notifyMu.Lock()
	defer v.notifyMu.Unlock()
	v.onChange(v.Snapshot())
}

func (v *RoomView) typingReceived(evt models.TypingEvent) {
	if evt.Event != models.TypingEventName {
		return
	}
	sender := evt.Payload.SenderID
	if sender == "" || sender == v.viewerID {
		return
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	wasTyping := v.typing
	v.typing = true
	v.typingGen++
	gen := v.typingGen
	if v.typingTimer != nil {
		v.typingTimer.Stop()
	}
	v.typingTimer = time.AfterFunc(v.owner.quietPeriod, func() {
		v.typingExpired(gen)
	})
	v.mu.Unlock()

	if !wasTyping {
		v.notify()
	}
}

func (v *RoomView) typingExpired(gen uint64) {
	v.mu.Lock()
	if v.closed || gen != v.typingGen || !v.typing {
		v.mu.Unlock()
		return
	}
	v.typing = false
	v.mu.Unlock()
	v.notify()
}

// Close unsubscribes from the room. It is safe to call more than once and on a
// view whose subscriptions never came up.
func (v *RoomView) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	msgSub, typingSub := v.msgSub, v.typingSub
	v.msgSub, v.typingSub = nil, nil
	v.state = Idle
	v.typing = false
	if v.typingTimer != nil {
		v.typingTimer.Stop()
		v.typingTimer = nil
	}
	v.mu.Unlock()

	if msgSub != nil {
		msgSub.Unsubscribe()
	}
	if typingSub != nil {
		typingSub.Unsubscribe()
	}
	v.cancel()
	log.WithFields(log.Fields{"room": v.room.ID, "viewer": v.viewerID}).Debug("closed room view")
}
