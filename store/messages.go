package store

import (
	"context"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/karthikraju391/campus-chat/chat"
	"github.com/karthikraju391/campus-chat/models"
)

// ChatMessage is a row of the messages table.
type ChatMessage struct {
	ID        string         `gorm:"type:text;primaryKey"`
	RoomID    string         `gorm:"type:text;not null;index:idx_messages_room_created,priority:1"`
	SenderID  *string        `gorm:"type:text"`
	Content   string         `gorm:"type:text;not null"`
	ReadBy    pq.StringArray `gorm:"type:text[];not null;default:'{}'"`
	CreatedAt time.Time      `gorm:"not null;index:idx_messages_room_created,priority:2"`
}

func (ChatMessage) TableName() string {
	return "messages"
}

func (row *ChatMessage) model() models.Message {
	readBy := []string(row.ReadBy)
	if readBy == nil {
		readBy = []string{}
	}
	return models.Message{
		ID:        row.ID,
		RoomID:    row.RoomID,
		SenderID:  row.SenderID,
		Content:   row.Content,
		ReadBy:    readBy,
		CreatedAt: row.CreatedAt,
	}
}

func messageRow(m *models.Message) *ChatMessage {
	readBy := pq.StringArray(m.ReadBy)
	if readBy == nil {
		readBy = pq.StringArray{}
	}
	return &ChatMessage{
		ID:        m.ID,
		RoomID:    m.RoomID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		ReadBy:    readBy,
		CreatedAt: m.CreatedAt,
	}
}

// Notifier receives change events after writes commit.
type Notifier interface {
	PublishChange(ctx context.Context, evt models.ChangeEvent) error
}

// Postgres is the durable chat.Gateway. Message writes are announced through
// the notifier, which is how other processes learn about them.
type Postgres struct {
	db       *gorm.DB
	notifier Notifier
}

func NewPostgres(dbc *DB, notifier Notifier) *Postgres {
	return &Postgres{db: dbc.DB, notifier: notifier}
}

func (p *Postgres) announce(ctx context.Context, evt models.ChangeEvent) {
	if p.notifier == nil {
		return
	}
	// The row is committed; a lost notification only delays live views until
	// their next reload.
	if err := p.notifier.PublishChange(ctx, evt); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"room":    evt.Record.RoomID,
			"message": evt.Record.ID,
			"event":   evt.EventType,
		}).Warn("could not publish message change")
	}
}

func (p *Postgres) InsertMessage(ctx context.Context, msg *models.Message) error {
	row := messageRow(msg)
	if err := p.db.WithContext(ctx).Create(row).Error; err != nil {
		return errors.Wrapf(err, "insert message into room %s", msg.RoomID)
	}
	p.announce(ctx, models.ChangeEvent{EventType: models.EventInsert, Record: row.model()})
	return nil
}

func (p *Postgres) ListMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	var rows []ChatMessage
	err := p.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrapf(err, "query messages of room %s", roomID)
	}
	out := make([]models.Message, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].model())
	}
	return out, nil
}

func (p *Postgres) LatestMessage(ctx context.Context, roomID string) (*models.Message, error) {
	var rows []ChatMessage
	err := p.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrapf(err, "query latest message of room %s", roomID)
	}
	if len(rows) == 0 {
		return nil, chat.ErrNotFound
	}
	m := rows[0].model()
	return &m, nil
}

// addReaderSQL appends the reader server side so concurrent readers cannot
// overwrite each other.
const addReaderSQL = `UPDATE messages
	SET read_by = array_append(COALESCE(read_by, '{}'::text[]), ?)
	WHERE id = ?
	AND NOT (COALESCE(read_by, '{}'::text[]) @> ARRAY[?]::text[])`

func (p *Postgres) AddReader(ctx context.Context, messageID, userID string) error {
	res := p.db.WithContext(ctx).Exec(addReaderSQL, userID, messageID, userID)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "mark message %s read", messageID)
	}
	if res.RowsAffected == 0 {
		// Already read, or gone.
		return nil
	}

	var rows []ChatMessage
	if err := p.db.WithContext(ctx).Where("id = ?", messageID).Limit(1).Find(&rows).Error; err != nil {
		log.WithError(err).WithField("message", messageID).Warn("could not reload message after read")
		return nil
	}
	if len(rows) > 0 {
		p.announce(ctx, models.ChangeEvent{EventType: models.EventUpdate, Record: rows[0].model()})
	}
	return nil
}

var (
	_ chat.Gateway          = (*Postgres)(nil)
	_ chat.ProfileDirectory = (*Profiles)(nil)
	_ chat.ReportLookup     = (*Reports)(nil)
)
