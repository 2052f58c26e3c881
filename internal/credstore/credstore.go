// Package credstore persists the server URL and session token between runs.
package credstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/missileglobe/globe-client/internal/database"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	keyServerURL    = "server_url"
	keySessionToken = "session_token"
)

// ClientSetting is one persisted key/value pair.
type ClientSetting struct {
	Name      string `gorm:"primaryKey;size:64"`
	Value     string `gorm:"size:1024"`
	UpdatedAt time.Time
}

func (*ClientSetting) TableName() string {
	return "client_settings"
}

// Credentials identify the client to a server.
type Credentials struct {
	ServerURL    string
	SessionToken string
}

// Store is a SQLite-backed credential store.
type Store struct {
	db     *database.Manager
	logger zerolog.Logger
}

// Open opens or creates the store at path.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	m := database.NewManager(logger)
	if err := m.ConnectSqlite(path); err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	if err := m.Setup(&ClientSetting{}); err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("migrate credential store: %w", err)
	}
	return &Store{db: m, logger: logger}, nil
}

// Load returns the stored credentials. ok is false when no session token is stored.
func (s *Store) Load() (Credentials, bool, error) {
	var rows []ClientSetting
	if err := s.db.DB.Where("name IN ?", []string{keyServerURL, keySessionToken}).Find(&rows).Error; err != nil {
		return Credentials{}, false, fmt.Errorf("load credentials: %w", err)
	}

	var c Credentials
	for _, r := range rows {
		switch r.Name {
		case keyServerURL:
			c.ServerURL = r.Value
		case keySessionToken:
			c.SessionToken = r.Value
		}
	}
	return c, c.SessionToken != "", nil
}

// Save stores both the server URL and the session token.
func (s *Store) Save(c Credentials) error {
	return s.db.DB.Transaction(func(tx *gorm.DB) error {
		if err := upsert(tx, keyServerURL, c.ServerURL); err != nil {
			return err
		}
		if err := upsert(tx, keySessionToken, c.SessionToken); err != nil {
			return err
		}
		s.logger.Debug().Str("server", c.ServerURL).Msg("Credentials saved")
		return nil
	})
}

// SaveSession replaces the session token only.
func (s *Store) SaveSession(token string) error {
	if token == "" {
		return errors.New("empty session token")
	}
	return upsert(s.db.DB, keySessionToken, token)
}

// Clear removes all stored credentials.
func (s *Store) Clear() error {
	if err := s.db.DB.Where("1 = 1").Delete(&ClientSetting{}).Error; err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	s.logger.Info().Msg("Credentials cleared")
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func upsert(db *gorm.DB, key, value string) error {
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&ClientSetting{Name: key, Value: value, UpdatedAt: time.Now()}).Error
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}
