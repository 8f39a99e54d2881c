package chat_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/karthikraju391/campus-chat/chat"
	"github.com/karthikraju391/campus-chat/models"
	"github.com/karthikraju391/campus-chat/store"
)

// newRoom stores a room between a and b and returns its id.
func newRoom(t *testing.T, mem *store.Memory, a, b string) string {
	t.Helper()
	id, err := chat.NewResolver(mem).ResolveRoom(context.Background(), a, b, "")
	require.NoError(t, err)
	return id
}

// seedMessage stores a message with a fixed timestamp, bypassing the sender.
func seedMessage(t *testing.T, mem *store.Memory, id, roomID, senderID, content string, at time.Time, readBy ...string) models.Message {
	t.Helper()
	sender := senderID
	msg := models.Message{
		ID:        id,
		RoomID:    roomID,
		SenderID:  &sender,
		Content:   content,
		ReadBy:    append([]string{}, readBy...),
		CreatedAt: at,
	}
	require.NoError(t, mem.InsertMessage(context.Background(), &msg))
	return msg
}

// captureFeed hands the test the handler a view subscribes with, so change
// events can be delivered in any order.
type captureFeed struct {
	mu       sync.Mutex
	handlers map[string]func(models.ChangeEvent)
}

func newCaptureFeed() *captureFeed {
	return &captureFeed{handlers: make(map[string]func(models.ChangeEvent))}
}

func (f *captureFeed) SubscribeRoom(_ context.Context, roomID string, handler func(models.ChangeEvent)) (chat.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[roomID] = handler
	return unsubscribeFunc(func() {
		f.mu.Lock()
		delete(f.handlers, roomID)
		f.mu.Unlock()
	}), nil
}

func (f *captureFeed) SubscribeAll(_ context.Context, handler func(models.ChangeEvent)) (chat.Subscription, error) {
	return f.SubscribeRoom(context.Background(), "", handler)
}

func (f *captureFeed) deliver(roomID string, evt models.ChangeEvent) {
	f.mu.Lock()
	h := f.handlers[roomID]
	f.mu.Unlock()
	if h != nil {
		h(evt)
	}
}

type unsubscribeFunc func()

func (u unsubscribeFunc) Unsubscribe() { u() }

// snapshotRecorder collects everything a view publishes.
type snapshotRecorder struct {
	mu    sync.Mutex
	snaps []chat.RoomSnapshot
}

func (r *snapshotRecorder) record(s chat.RoomSnapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
}

func (r *snapshotRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func (r *snapshotRecorder) last() chat.RoomSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return chat.RoomSnapshot{}
	}
	return r.snaps[len(r.snaps)-1]
}

func messageIDs(msgs []models.Message) []string {
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	return ids
}
