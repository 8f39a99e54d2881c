package store

import (
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type DB struct {
	DB *gorm.DB
}

// ParseLogLevel maps a level name to a GORM log level.
func ParseLogLevel(v string) (logger.LogLevel, error) {
	switch v {
	case "info":
		return logger.Info, nil
	case "warn":
		return logger.Warn, nil
	case "error":
		return logger.Error, nil
	case "silent":
		return logger.Silent, nil
	}
	return logger.Silent, fmt.Errorf("unknown gorm log level: %s", v)
}

func New(dsn string, logLevel logger.LogLevel) (*DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, err
	}
	return &DB{DB: db}, nil
}

// pairIndexSQL enforces one room per unordered pair of participants.
const pairIndexSQL = `CREATE UNIQUE INDEX IF NOT EXISTS idx_chat_rooms_pair
	ON chat_rooms (LEAST(user1, user2), GREATEST(user1, user2))`

// UpdateSchema creates or updates the chat tables. Profiles, reports and
// auth.users belong to the wider application and are not touched.
func (d *DB) UpdateSchema() error {
	log.Info("migrating chat tables")
	if err := d.DB.AutoMigrate(&ChatRoom{}, &ChatMessage{}); err != nil {
		return errors.Wrap(err, "auto migrate chat tables")
	}
	if err := d.DB.Exec(pairIndexSQL).Error; err != nil {
		return errors.Wrap(err, "create room pair index")
	}
	log.Info("chat tables up to date")
	return nil
}
