package store

import (
	"context"
	"sort"
	"sync"

	"github.com/karthikraju391/campus-chat/chat"
	"github.com/karthikraju391/campus-chat/models"
)

// Memory is an in-process backend for every collaborator the chat core needs:
// rooms, messages, change feed, typing channel, profiles and reports. Change
// notifications are delivered synchronously on the writer's goroutine, after
// the write is visible. It backs development mode and tests.
type Memory struct {
	mu       sync.RWMutex
	rooms    map[string]models.Room
	messages map[string]models.Message
	byRoom   map[string][]string
	profiles map[string]models.Profile
	emails   map[string]string
	reports  map[string]models.ReportSnapshot
	failures map[string]error
	calls    map[string]int

	subsMu     sync.Mutex
	nextSub    int
	changeSubs map[int]*memChangeSub
	typingSubs map[int]*memTypingSub
}

func NewMemory() *Memory {
	return &Memory{
		rooms:      make(map[string]models.Room),
		messages:   make(map[string]models.Message),
		byRoom:     make(map[string][]string),
		profiles:   make(map[string]models.Profile),
		emails:     make(map[string]string),
		reports:    make(map[string]models.ReportSnapshot),
		failures:   make(map[string]error),
		calls:      make(map[string]int),
		changeSubs: make(map[int]*memChangeSub),
		typingSubs: make(map[int]*memTypingSub),
	}
}

// Fail makes every later call to op return err. A nil err clears it.
func (m *Memory) Fail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Calls reports how many times op was invoked.
func (m *Memory) Calls(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

// call records op and returns its injected failure. Callers hold m.mu.
func (m *Memory) call(op string) error {
	m.calls[op]++
	return m.failures[op]
}

// PutProfile adds or replaces a profile, with an optional email.
func (m *Memory) PutProfile(p models.Profile, email string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = p
	if email != "" {
		m.emails[p.ID] = email
	}
}

// PutReport registers a report snapshot for context cards.
func (m *Memory) PutReport(r models.ReportSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[r.ID] = r
}

// RoomCount is the number of stored rooms.
func (m *Memory) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

func (m *Memory) findPairLocked(a, b string) (models.Room, bool) {
	for _, r := range m.rooms {
		if (r.User1 == a && r.User2 == b) || (r.User1 == b && r.User2 == a) {
			return r, true
		}
	}
	return models.Room{}, false
}

func (m *Memory) FindRoom(_ context.Context, a, b string) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("FindRoom"); err != nil {
		return nil, err
	}
	r, ok := m.findPairLocked(a, b)
	if !ok {
		return nil, chat.ErrNotFound
	}
	return &r, nil
}

func (m *Memory) GetRoom(_ context.Context, roomID string) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("GetRoom"); err != nil {
		return nil, err
	}
	r, ok := m.rooms[roomID]
	if !ok {
		return nil, chat.ErrNotFound
	}
	return &r, nil
}

func (m *Memory) RoomsFor(_ context.Context, userID string) ([]models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("RoomsFor"); err != nil {
		return nil, err
	}
	var out []models.Room
	for _, r := range m.rooms {
		if r.HasParticipant(userID) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) CreateRoom(_ context.Context, room *models.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("CreateRoom"); err != nil {
		return err
	}
	if _, ok := m.findPairLocked(room.User1, room.User2); ok {
		return chat.ErrConflict
	}
	m.rooms[room.ID] = *room
	return nil
}

func (m *Memory) UpdateRoomMetadata(_ context.Context, roomID string, meta models.RoomMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("UpdateRoomMetadata"); err != nil {
		return err
	}
	r, ok := m.rooms[roomID]
	if !ok {
		return chat.ErrNotFound
	}
	r.Metadata = meta
	m.rooms[roomID] = r
	return nil
}

func (m *Memory) MarkContextCardSent(_ context.Context, roomID, reportRef string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("MarkContextCardSent"); err != nil {
		return false, err
	}
	r, ok := m.rooms[roomID]
	if !ok || r.Metadata.LinkedReportReference != reportRef || r.Metadata.ContextCardSent {
		return false, nil
	}
	r.Metadata.ContextCardSent = true
	m.rooms[roomID] = r
	return true, nil
}

func (m *Memory) ReleaseContextCard(_ context.Context, roomID, reportRef string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("ReleaseContextCard"); err != nil {
		return false, err
	}
	r, ok := m.rooms[roomID]
	if !ok || r.Metadata.LinkedReportReference != reportRef || !r.Metadata.ContextCardSent {
		return false, nil
	}
	r.Metadata.ContextCardSent = false
	m.rooms[roomID] = r
	return true, nil
}

func (m *Memory) InsertMessage(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	if err := m.call("InsertMessage"); err != nil {
		m.mu.Unlock()
		return err
	}
	if _, ok := m.rooms[msg.RoomID]; !ok {
		m.mu.Unlock()
		return chat.ErrNotFound
	}
	stored := msg.Clone()
	if stored.ReadBy == nil {
		stored.ReadBy = []string{}
	}
	m.messages[stored.ID] = stored
	m.byRoom[stored.RoomID] = append(m.byRoom[stored.RoomID], stored.ID)
	m.mu.Unlock()

	m.publish(models.ChangeEvent{EventType: models.EventInsert, Record: stored.Clone()})
	return nil
}

func (m *Memory) roomMessagesLocked(roomID string) []models.Message {
	ids := m.byRoom[roomID]
	out := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.messages[id].Clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *Memory) ListMessages(_ context.Context, roomID string) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("ListMessages"); err != nil {
		return nil, err
	}
	return m.roomMessagesLocked(roomID), nil
}

func (m *Memory) LatestMessage(_ context.Context, roomID string) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("LatestMessage"); err != nil {
		return nil, err
	}
	msgs := m.roomMessagesLocked(roomID)
	if len(msgs) == 0 {
		return nil, chat.ErrNotFound
	}
	latest := msgs[len(msgs)-1]
	return &latest, nil
}

func (m *Memory) AddReader(_ context.Context, messageID, userID string) error {
	m.mu.Lock()
	if err := m.call("AddReader"); err != nil {
		m.mu.Unlock()
		return err
	}
	msg, ok := m.messages[messageID]
	if !ok {
		m.mu.Unlock()
		return chat.ErrNotFound
	}
	if msg.ReadByUser(userID) {
		m.mu.Unlock()
		return nil
	}
	msg.ReadBy = append(append([]string(nil), msg.ReadBy...), userID)
	m.messages[messageID] = msg
	m.mu.Unlock()

	m.publish(models.ChangeEvent{EventType: models.EventUpdate, Record: msg.Clone()})
	return nil
}

func (m *Memory) GetProfile(_ context.Context, userID string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("GetProfile"); err != nil {
		return nil, err
	}
	p, ok := m.profiles[userID]
	if !ok {
		return nil, chat.ErrNotFound
	}
	return &p, nil
}

func (m *Memory) ListProfiles(_ context.Context) ([]models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("ListProfiles"); err != nil {
		return nil, err
	}
	out := make([]models.Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Emails(_ context.Context, userIDs []string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("Emails"); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(userIDs))
	for _, id := range userIDs {
		if email, ok := m.emails[id]; ok {
			out[id] = email
		}
	}
	return out, nil
}

func (m *Memory) GetReport(_ context.Context, reportRef string) (*models.ReportSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("GetReport"); err != nil {
		return nil, err
	}
	r, ok := m.reports[reportRef]
	if !ok {
		return nil, chat.ErrNotFound
	}
	return &r, nil
}

type memChangeSub struct {
	roomID  string // empty for the global feed
	handler func(models.ChangeEvent)
}

type memTypingSub struct {
	roomID  string
	handler func(models.TypingEvent)
}

// memSubscription removes its registration once.
type memSubscription struct {
	once   sync.Once
	remove func()
}

func (s *memSubscription) Unsubscribe() {
	s.once.Do(s.remove)
}

func (m *Memory) SubscribeRoom(_ context.Context, roomID string, handler func(models.ChangeEvent)) (chat.Subscription, error) {
	return m.subscribeChanges("SubscribeRoom", roomID, handler)
}

func (m *Memory) SubscribeAll(_ context.Context, handler func(models.ChangeEvent)) (chat.Subscription, error) {
	return m.subscribeChanges("SubscribeAll", "", handler)
}

func (m *Memory) subscribeChanges(op, roomID string, handler func(models.ChangeEvent)) (chat.Subscription, error) {
	m.mu.Lock()
	err := m.call(op)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.changeSubs[id] = &memChangeSub{roomID: roomID, handler: handler}
	return &memSubscription{remove: func() {
		m.subsMu.Lock()
		delete(m.changeSubs, id)
		m.subsMu.Unlock()
	}}, nil
}

// Subscribers reports live change and typing registrations.
func (m *Memory) Subscribers() (changes, typing int) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	return len(m.changeSubs), len(m.typingSubs)
}

func (m *Memory) publish(evt models.ChangeEvent) {
	m.subsMu.Lock()
	var handlers []func(models.ChangeEvent)
	for _, s := range m.changeSubs {
		if s.roomID == "" || s.roomID == evt.Record.RoomID {
			handlers = append(handlers, s.handler)
		}
	}
	m.subsMu.Unlock()

	for _, h := range handlers {
		h(evt)
	}
}

func (m *Memory) PublishTyping(_ context.Context, roomID string, evt models.TypingEvent) error {
	m.mu.Lock()
	err := m.call("PublishTyping")
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.subsMu.Lock()
	var handlers []func(models.TypingEvent)
	for _, s := range m.typingSubs {
		if s.roomID == roomID {
			handlers = append(handlers, s.handler)
		}
	}
	m.subsMu.Unlock()

	for _, h := range handlers {
		h(evt)
	}
	return nil
}

func (m *Memory) SubscribeTyping(_ context.Context, roomID string, handler func(models.TypingEvent)) (chat.Subscription, error) {
	m.mu.Lock()
	err := m.call("SubscribeTyping")
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.typingSubs[id] = &memTypingSub{roomID: roomID, handler: handler}
	return &memSubscription{remove: func() {
		m.subsMu.Lock()
		delete(m.typingSubs, id)
		m.subsMu.Unlock()
	}}, nil
}

var (
	_ chat.Gateway          = (*Memory)(nil)
	_ chat.ChangeFeed       = (*Memory)(nil)
	_ chat.Presence         = (*Memory)(nil)
	_ chat.ProfileDirectory = (*Memory)(nil)
	_ chat.ReportLookup     = (*Memory)(nil)
)
