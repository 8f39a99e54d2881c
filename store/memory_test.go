package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karthikraju391/campus-chat/chat"
	"github.com/karthikraju391/campus-chat/models"
)

func TestMemoryFindRoomChecksBothOrderings(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateRoom(ctx, &models.Room{ID: "r1", User1: "u1", User2: "u2"}))

	got, err := m.FindRoom(ctx, "u2", "u1")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.ID)

	_, err = m.FindRoom(ctx, "u1", "u3")
	assert.ErrorIs(t, err, chat.ErrNotFound)

	err = m.CreateRoom(ctx, &models.Room{ID: "r2", User1: "u2", User2: "u1"})
	assert.ErrorIs(t, err, chat.ErrConflict)
	assert.Equal(t, 1, m.RoomCount())
}

func TestMemoryAddReaderIsAddToSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateRoom(ctx, &models.Room{ID: "r1", User1: "u1", User2: "u2"}))

	var events []models.ChangeEvent
	sub, err := m.SubscribeRoom(ctx, "r1", func(evt models.ChangeEvent) {
		events = append(events, evt)
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	sender := "u1"
	require.NoError(t, m.InsertMessage(ctx, &models.Message{
		ID: "m1", RoomID: "r1", SenderID: &sender, Content: `{"text":"hi"}`,
		ReadBy: []string{"u1"}, CreatedAt: time.Now(),
	}))
	require.NoError(t, m.AddReader(ctx, "m1", "u2"))
	require.NoError(t, m.AddReader(ctx, "m1", "u2"))

	msgs, err := m.ListMessages(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"u1", "u2"}, msgs[0].ReadBy)

	// The second add changed nothing and announced nothing.
	require.Len(t, events, 2)
	assert.Equal(t, models.EventInsert, events[0].EventType)
	assert.Equal(t, models.EventUpdate, events[1].EventType)
}

func TestMemoryFeedScopesAndUnsubscribe(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateRoom(ctx, &models.Room{ID: "r1", User1: "u1", User2: "u2"}))
	require.NoError(t, m.CreateRoom(ctx, &models.Room{ID: "r2", User1: "u1", User2: "u3"}))

	var scoped, global int
	roomSub, err := m.SubscribeRoom(ctx, "r1", func(models.ChangeEvent) { scoped++ })
	require.NoError(t, err)
	allSub, err := m.SubscribeAll(ctx, func(models.ChangeEvent) { global++ })
	require.NoError(t, err)

	require.NoError(t, m.InsertMessage(ctx, &models.Message{ID: "a", RoomID: "r1"}))
	require.NoError(t, m.InsertMessage(ctx, &models.Message{ID: "b", RoomID: "r2"}))
	assert.Equal(t, 1, scoped)
	assert.Equal(t, 2, global)

	roomSub.Unsubscribe()
	roomSub.Unsubscribe()
	allSub.Unsubscribe()
	changes, typing := m.Subscribers()
	assert.Zero(t, changes)
	assert.Zero(t, typing)
}

func TestMemoryInjectedFailure(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	boom := errors.New("connection reset")

	m.Fail("FindRoom", boom)
	_, err := m.FindRoom(ctx, "u1", "u2")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, m.Calls("FindRoom"))

	m.Fail("FindRoom", nil)
	_, err = m.FindRoom(ctx, "u1", "u2")
	assert.ErrorIs(t, err, chat.ErrNotFound)
}
