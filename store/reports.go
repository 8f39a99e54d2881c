package store

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/karthikraju391/campus-chat/chat"
	"github.com/karthikraju391/campus-chat/models"
)

// Reports looks up linked report references. A reference is tried as an issue
// report first and then as a lost-and-found item.
type Reports struct {
	db *gorm.DB
}

func NewReports(dbc *DB) *Reports {
	return &Reports{db: dbc.DB}
}

func (r *Reports) GetReport(ctx context.Context, reportRef string) (*models.ReportSnapshot, error) {
	snap, err := r.issue(ctx, reportRef)
	if err == nil || !errors.Is(err, chat.ErrNotFound) {
		return snap, err
	}
	return r.lostFound(ctx, reportRef)
}

func (r *Reports) issue(ctx context.Context, id string) (*models.ReportSnapshot, error) {
	var rows []struct {
		ID          string
		Category    string
		Description string
	}
	err := r.db.WithContext(ctx).
		Table("reports").
		Select("id, category, description").
		Where("id = ?", id).
		Limit(1).
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrapf(err, "query report %s", id)
	}
	if len(rows) == 0 {
		return nil, chat.ErrNotFound
	}

	image, err := r.firstImage(ctx, "report_images", "image_url", "report_id", id)
	if err != nil {
		return nil, err
	}
	return &models.ReportSnapshot{
		ID:          rows[0].ID,
		Type:        models.ReportTypeIssue,
		Category:    rows[0].Category,
		Description: rows[0].Description,
		Image:       image,
	}, nil
}

func (r *Reports) lostFound(ctx context.Context, id string) (*models.ReportSnapshot, error) {
	var rows []struct {
		ID          string
		Description string
	}
	err := r.db.WithContext(ctx).
		Table("lost_found").
		Select("id, description").
		Where("id = ?", id).
		Limit(1).
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrapf(err, "query lost and found item %s", id)
	}
	if len(rows) == 0 {
		return nil, chat.ErrNotFound
	}

	image, err := r.firstImage(ctx, "lost_found_images", "media_url", "lost_found_id", id)
	if err != nil {
		return nil, err
	}
	return &models.ReportSnapshot{
		ID:          rows[0].ID,
		Type:        models.ReportTypeLostFound,
		Category:    models.LostFoundCategory,
		Description: rows[0].Description,
		Image:       image,
	}, nil
}

func (r *Reports) firstImage(ctx context.Context, table, column, fk, id string) (*string, error) {
	var urls []string
	err := r.db.WithContext(ctx).
		Table(table).
		Where(fk+" = ?", id).
		Limit(1).
		Pluck(column, &urls).Error
	if err != nil {
		return nil, errors.Wrapf(err, "query %s for %s", table, id)
	}
	if len(urls) == 0 || urls[0] == "" {
		return nil, nil
	}
	return &urls[0], nil
}
