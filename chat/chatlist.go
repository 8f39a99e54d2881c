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

// NoMessagesPreview is shown for partners without any message yet.
const NoMessagesPreview = "No messages yet"

// ConversationSummary is one row of a participant's conversation list.
type ConversationSummary struct {
	Partner            models.Profile `json:"partner"`
	RoomID             string         `json:"room_id,omitempty"`
	LastMessagePreview string         `json:"last_message_preview"`
	LastMessageAt      *time.Time     `json:"last_message_at"`
	SenderWasMe        bool           `json:"sender_was_me"`
	ReadByCount        int            `json:"read_by_count"`
	HasUnread          bool           `json:"has_unread"`
}

// summarize fills the message-derived fields of s from msg.
func (s *ConversationSummary) summarize(selfID string, msg *models.Message) {
	if msg == nil {
		s.LastMessagePreview = NoMessagesPreview
		s.LastMessageAt = nil
		s.SenderWasMe = false
		s.ReadByCount = 0
		s.HasUnread = false
		return
	}
	at := msg.CreatedAt
	s.LastMessagePreview = models.ParseContent(msg.Content).Preview()
	s.LastMessageAt = &at
	s.SenderWasMe = msg.SentBy(selfID)
	s.ReadByCount = len(msg.ReadBy)
	s.HasUnread = msg.UnreadFor(selfID)
}

func (s *ConversationSummary) sortKey() int64 {
	if s.LastMessageAt == nil {
		return 0
	}
	return s.LastMessageAt.UnixNano()
}

// SortConversations orders rows newest first. Rows without messages sort as if
// their last message were at the epoch.
func SortConversations(rows []ConversationSummary) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].sortKey() > rows[j].sortKey()
	})
}

// Aggregator builds conversation lists.
type Aggregator struct {
	gw       Gateway
	profiles ProfileDirectory
}

func NewAggregator(gw Gateway, profiles ProfileDirectory) *Aggregator {
	return &Aggregator{gw: gw, profiles: profiles}
}

// CandidatePartners returns who selfID may see in their list. Staff and admins
// see everyone else; ordinary users only see partners they already have a room
// with. Emails are attached when the lookup has them.
func (a *Aggregator) CandidatePartners(ctx context.Context, selfID string) ([]models.Profile, error) {
	if selfID == "" {
		return nil, ErrNotAuthenticated
	}
	self, err := a.profiles.GetProfile(ctx, selfID)
	if errors.Is(err, ErrNotFound) {
		return nil, invalid("profile %s not found", selfID)
	}
	if err != nil {
		return nil, gatewayFailure("get profile", err)
	}

	people, err := a.profiles.ListProfiles(ctx)
	if err != nil {
		return nil, gatewayFailure("list profiles", err)
	}

	var allowed func(id string) bool
	if self.Role.Privileged() {
		allowed = func(id string) bool { return id != selfID }
	} else {
		rooms, err := a.gw.RoomsFor(ctx, selfID)
		if err != nil {
			return nil, gatewayFailure("list rooms", err)
		}
		partners := make(map[string]struct{}, len(rooms))
		for i := range rooms {
			if p := rooms[i].Partner(selfID); p != "" {
				partners[p] = struct{}{}
			}
		}
		allowed = func(id string) bool {
			_, ok := partners[id]
			return ok
		}
	}

	var out []models.Profile
	ids := make([]string, 0, len(people))
	for _, p := range people {
		if allowed(p.ID) {
			out = append(out, p)
			ids = append(ids, p.ID)
		}
	}

	if len(ids) > 0 {
		emails, err := a.profiles.Emails(ctx, ids)
		if err != nil {
			// Emails are decoration only.
			log.WithError(err).Warn("could not resolve partner emails")
		}
		for i := range out {
			if email, ok := emails[out[i].ID]; ok {
				e := email
				out[i].Email = &e
			}
		}
	}
	return out, nil
}

// ListConversations summarizes the latest message exchanged with each partner,
// newest first.
func (a *Aggregator) ListConversations(ctx context.Context, selfID string, partners []models.Profile) ([]ConversationSummary, error) {
	if selfID == "" {
		return nil, ErrNotAuthenticated
	}

	rows := make([]ConversationSummary, 0, len(partners))
	for _, p := range partners {
		row := ConversationSummary{Partner: p}

		room, err := a.gw.FindRoom(ctx, selfID, p.ID)
		if errors.Is(err, ErrNotFound) {
			row.summarize(selfID, nil)
			rows = append(rows, row)
			continue
		}
		if err != nil {
			return nil, gatewayFailure("find room", err)
		}
		row.RoomID = room.ID

		msg, err := a.gw.LatestMessage(ctx, room.ID)
		if errors.Is(err, ErrNotFound) {
			msg, err = nil, nil
		}
		if err != nil {
			return nil, gatewayFailure("latest message", err)
		}
		row.summarize(selfID, msg)
		rows = append(rows, row)
	}

	SortConversations(rows)
	return rows, nil
}

// ConversationList keeps a participant's conversation list current from the
// global change feed.
type ConversationList struct {
	agg    *Aggregator
	feed   ChangeFeed
	selfID string

	mu   sync.Mutex
	rows []ConversationSummary
	sub  Subscription
	ctx  context.Context
	stop context.CancelFunc

	onChange func([]ConversationSummary)
}

// NewConversationList loads the initial list for selfID.
func (a *Aggregator) NewConversationList(ctx context.Context, feed ChangeFeed, selfID string, onChange func([]ConversationSummary)) (*ConversationList, error) {
	partners, err := a.CandidatePartners(ctx, selfID)
	if err != nil {
		return nil, err
	}
	rows, err := a.ListConversations(ctx, selfID, partners)
	if err != nil {
		return nil, err
	}
	return &ConversationList{
		agg:      a,
		feed:     feed,
		selfID:   selfID,
		rows:     rows,
		onChange: onChange,
	}, nil
}

// Start subscribes to every message change. A subscription failure is returned
// but the list stays usable with its loaded rows.
func (l *ConversationList) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.sub != nil {
		l.mu.Unlock()
		return nil
	}
	l.ctx, l.stop = context.WithCancel(ctx)
	l.mu.Unlock()

	sub, err := l.feed.SubscribeAll(l.ctx, l.apply)
	if err != nil {
		subscriptionFailures.WithLabelValues("conversation list").Inc()
		return gatewayFailure("subscribe messages", err)
	}

	l.mu.Lock()
	l.sub = sub
	l.mu.Unlock()
	return nil
}

// Stop ends live maintenance. Safe to call more than once.
func (l *ConversationList) Stop() {
	l.mu.Lock()
	sub, stop := l.sub, l.stop
	l.sub, l.stop = nil, nil
	l.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if stop != nil {
		stop()
	}
}

// Rows returns a copy of the current list.
func (l *ConversationList) Rows() []ConversationSummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ConversationSummary(nil), l.rows...)
}

func (l *ConversationList) apply(evt models.ChangeEvent) {
	l.mu.Lock()
	ctx := l.ctx
	l.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	msg := evt.Record
	room, err := l.agg.gw.GetRoom(ctx, msg.RoomID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.WithError(err).WithField("room", msg.RoomID).Warn("could not resolve room for conversation list update")
		}
		return
	}
	if !room.HasParticipant(l.selfID) {
		return
	}

	var partnerID string
	if msg.SentBy(l.selfID) {
		partnerID = room.Partner(l.selfID)
	} else if msg.SenderID != nil {
		partnerID = *msg.SenderID
	} else {
		partnerID = room.Partner(l.selfID)
	}

	l.mu.Lock()
	updated := false
	for i := range l.rows {
		if l.rows[i].Partner.ID != partnerID {
			continue
		}
		// An update to an older message must not replace a newer preview.
		if at := l.rows[i].LastMessageAt; at != nil && msg.CreatedAt.Before(*at) {
			break
		}
		l.rows[i].RoomID = room.ID
		l.rows[i].summarize(l.selfID, &msg)
		updated = true
		break
	}
	if updated {
		SortConversations(l.rows)
	}
	rows := append([]ConversationSummary(nil), l.rows...)
	l.mu.Unlock()

	if updated && l.onChange != nil {
		l.onChange(rows)
	}
}
