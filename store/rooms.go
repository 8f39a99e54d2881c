package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgtype"
	"github.com/pkg/errors"
	"gorm.io/gorm/clause"

	"github.com/karthikraju391/campus-chat/chat"
	"github.com/karthikraju391/campus-chat/models"
)

// ChatRoom is a row of the chat_rooms table.
type ChatRoom struct {
	ID        string       `gorm:"type:text;primaryKey"`
	User1     string       `gorm:"type:text;not null;index"`
	User2     string       `gorm:"type:text;not null;index"`
	Metadata  pgtype.JSONB `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt time.Time    `gorm:"not null"`
}

func (ChatRoom) TableName() string {
	return "chat_rooms"
}

func roomRow(r *models.Room) (*ChatRoom, error) {
	row := &ChatRoom{
		ID:        r.ID,
		User1:     r.User1,
		User2:     r.User2,
		CreatedAt: r.CreatedAt,
	}
	meta, err := metadataJSONB(r.Metadata)
	if err != nil {
		return nil, err
	}
	row.Metadata = meta
	return row, nil
}

func metadataJSONB(meta models.RoomMetadata) (pgtype.JSONB, error) {
	var out pgtype.JSONB
	b, err := json.Marshal(meta)
	if err != nil {
		return out, errors.Wrap(err, "marshal room metadata")
	}
	if err := out.Set(b); err != nil {
		return out, errors.Wrap(err, "set room metadata")
	}
	return out, nil
}

func (row *ChatRoom) model() models.Room {
	r := models.Room{
		ID:        row.ID,
		User1:     row.User1,
		User2:     row.User2,
		CreatedAt: row.CreatedAt,
	}
	if row.Metadata.Status == pgtype.Present && len(row.Metadata.Bytes) > 0 {
		// Unknown keys are ignored; a broken document reads as no metadata.
		_ = json.Unmarshal(row.Metadata.Bytes, &r.Metadata)
	}
	return r
}

func (p *Postgres) FindRoom(ctx context.Context, a, b string) (*models.Room, error) {
	var rows []ChatRoom
	err := p.db.WithContext(ctx).
		Where("(user1 = ? AND user2 = ?) OR (user1 = ? AND user2 = ?)", a, b, b, a).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "query chat room by participants")
	}
	if len(rows) == 0 {
		return nil, chat.ErrNotFound
	}
	r := rows[0].model()
	return &r, nil
}

func (p *Postgres) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	var rows []ChatRoom
	if err := p.db.WithContext(ctx).Where("id = ?", roomID).Limit(1).Find(&rows).Error; err != nil {
		return nil, errors.Wrapf(err, "query chat room %s", roomID)
	}
	if len(rows) == 0 {
		return nil, chat.ErrNotFound
	}
	r := rows[0].model()
	return &r, nil
}

func (p *Postgres) RoomsFor(ctx context.Context, userID string) ([]models.Room, error) {
	var rows []ChatRoom
	err := p.db.WithContext(ctx).
		Where("user1 = ? OR user2 = ?", userID, userID).
		Order("created_at").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrapf(err, "query chat rooms for %s", userID)
	}
	out := make([]models.Room, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].model())
	}
	return out, nil
}

// CreateRoom inserts the room unless the pair index already holds one, in which
// case chat.ErrConflict is returned.
func (p *Postgres) CreateRoom(ctx context.Context, room *models.Room) error {
	row, err := roomRow(room)
	if err != nil {
		return err
	}
	res := p.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil {
		return errors.Wrap(res.Error, "insert chat room")
	}
	if res.RowsAffected == 0 {
		return chat.ErrConflict
	}
	return nil
}

func (p *Postgres) UpdateRoomMetadata(ctx context.Context, roomID string, meta models.RoomMetadata) error {
	jsonb, err := metadataJSONB(meta)
	if err != nil {
		return err
	}
	res := p.db.WithContext(ctx).Model(&ChatRoom{}).Where("id = ?", roomID).Update("metadata", jsonb)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "update metadata of chat room %s", roomID)
	}
	if res.RowsAffected == 0 {
		return chat.ErrNotFound
	}
	return nil
}

const markContextCardSentSQL = `UPDATE chat_rooms
	SET metadata = jsonb_set(metadata, '{context_card_sent}', 'true'::jsonb)
	WHERE id = ?
	AND metadata->>'linked_report_reference' = ?
	AND COALESCE((metadata->>'context_card_sent')::boolean, false) = false`

func (p *Postgres) MarkContextCardSent(ctx context.Context, roomID, reportRef string) (bool, error) {
	res := p.db.WithContext(ctx).Exec(markContextCardSentSQL, roomID, reportRef)
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "flag context card of chat room %s", roomID)
	}
	return res.RowsAffected > 0, nil
}

const releaseContextCardSQL = `UPDATE chat_rooms
	SET metadata = jsonb_set(metadata, '{context_card_sent}', 'false'::jsonb)
	WHERE id = ?
	AND metadata->>'linked_report_reference' = ?
	AND COALESCE((metadata->>'context_card_sent')::boolean, false) = true`

func (p *Postgres) ReleaseContextCard(ctx context.Context, roomID, reportRef string) (bool, error) {
	res := p.db.WithContext(ctx).Exec(releaseContextCardSQL, roomID, reportRef)
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "re-arm context card of chat room %s", roomID)
	}
	return res.RowsAffected > 0, nil
}
