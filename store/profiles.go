package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/karthikraju391/campus-chat/chat"
	"github.com/karthikraju391/campus-chat/models"
)

// Profile is a row of the application's profiles table. The chat core only
// reads it.
type Profile struct {
	ID        string
	FullName  string
	AvatarURL *string
	Role      string
}

func (Profile) TableName() string {
	return "profiles"
}

func (row *Profile) model() models.Profile {
	role := models.Role(row.Role)
	if role == "" {
		role = models.RoleUser
	}
	return models.Profile{
		ID:        row.ID,
		FullName:  row.FullName,
		AvatarURL: row.AvatarURL,
		Role:      role,
	}
}

// EmailCache stores resolved addresses between lookups.
type EmailCache interface {
	Get(key string) ([]byte, error)
	Set(key string, content []byte, duration time.Duration) error
}

// Profiles reads participants from postgres. Emails live in auth.users.
type Profiles struct {
	db       *gorm.DB
	cache    EmailCache
	cacheTTL time.Duration
}

func NewProfiles(dbc *DB, cache EmailCache, cacheTTL time.Duration) *Profiles {
	return &Profiles{db: dbc.DB, cache: cache, cacheTTL: cacheTTL}
}

func (p *Profiles) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	var rows []Profile
	if err := p.db.WithContext(ctx).Where("id = ?", userID).Limit(1).Find(&rows).Error; err != nil {
		return nil, errors.Wrapf(err, "query profile %s", userID)
	}
	if len(rows) == 0 {
		return nil, chat.ErrNotFound
	}
	m := rows[0].model()
	return &m, nil
}

func (p *Profiles) ListProfiles(ctx context.Context) ([]models.Profile, error) {
	var rows []Profile
	if err := p.db.WithContext(ctx).Order("full_name").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "query profiles")
	}
	out := make([]models.Profile, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].model())
	}
	return out, nil
}

func emailCacheKey(userID string) string {
	return "email:" + userID
}

// Emails resolves addresses, consulting the cache first when one is configured.
func (p *Profiles) Emails(ctx context.Context, userIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(userIDs))
	missing := userIDs
	if p.cache != nil {
		missing = nil
		for _, id := range userIDs {
			b, err := p.cache.Get(emailCacheKey(id))
			if err == nil && len(b) > 0 {
				out[id] = string(b)
				continue
			}
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	var rows []struct {
		ID    string
		Email string
	}
	err := p.db.WithContext(ctx).
		Table("auth.users").
		Select("id, email").
		Where("id IN ?", missing).
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "query user emails")
	}

	for _, r := range rows {
		out[r.ID] = r.Email
		if p.cache == nil {
			continue
		}
		if err := p.cache.Set(emailCacheKey(r.ID), []byte(r.Email), p.cacheTTL); err != nil {
			log.WithError(err).Debug("could not cache email")
		}
	}
	return out, nil
}
