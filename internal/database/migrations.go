package database

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/konnection/roomstate/internal/kvstore"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationScopeLegacyHistory = "2026-10-01_scope_legacy_history_keys"

	legacyFavoritesKey = "fav_rooms_v1"
	legacyRecentsKey   = "recent_rooms_v1"
	guestScope         = "guest"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB, time.Time) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationScopeLegacyHistory, apply: scopeLegacyHistory},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		appliedAt := time.Now().UTC()
		if err := migration.apply(db, appliedAt); err != nil {
			return err
		}
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt.Unix()}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

type legacyRoom struct {
	ID json.RawMessage `json:"id"`
}

// scopeLegacyHistory moves the unscoped favorites and recents written by early
// builds into the guest scope. Existing guest data is never overwritten and
// unreadable legacy values are discarded.
func scopeLegacyHistory(db *gorm.DB, appliedAt time.Time) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := moveLegacy(tx, legacyFavoritesKey, kvstore.CategoryFavorites, appliedAt, convertLegacyFavorites); err != nil {
			return err
		}
		return moveLegacy(tx, legacyRecentsKey, kvstore.CategoryRecents, appliedAt, func(raw string) (any, bool) {
			return convertLegacyRecents(raw, appliedAt)
		})
	})
}

func moveLegacy(tx *gorm.DB, legacyKey string, category kvstore.Category, appliedAt time.Time, convert func(string) (any, bool)) error {
	var legacy kvstore.Entry
	err := tx.Where("entry_key = ?", legacyKey).Take(&legacy).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	target, err := kvstore.NewKey(category, guestScope)
	if err != nil {
		return err
	}
	var existing int64
	if err := tx.Model(&kvstore.Entry{}).Where("entry_key = ?", target.String()).Count(&existing).Error; err != nil {
		return err
	}
	if existing == 0 {
		if value, ok := convert(legacy.ValueJSON); ok {
			payload, err := json.Marshal(value)
			if err != nil {
				return err
			}
			entry := kvstore.Entry{
				Key:              target.String(),
				Category:         string(category),
				ValueJSON:        string(payload),
				Version:          1,
				UpdatedAtSeconds: appliedAt.Unix(),
			}
			if err := tx.Create(&entry).Error; err != nil {
				return err
			}
		}
	}
	return tx.Where("entry_key = ?", legacyKey).Delete(&kvstore.Entry{}).Error
}

func convertLegacyFavorites(raw string) (any, bool) {
	var ids []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, false
	}
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		if text := legacyID(id); text != "" {
			result = append(result, text)
		}
	}
	return result, true
}

// Legacy recents were full room snapshots; only the id survives and the view
// time becomes the migration time.
func convertLegacyRecents(raw string, appliedAt time.Time) (any, bool) {
	var rooms []legacyRoom
	if err := json.Unmarshal([]byte(raw), &rooms); err != nil {
		return nil, false
	}
	type recent struct {
		ID string `json:"id"`
		At int64  `json:"at"`
	}
	result := make([]recent, 0, len(rooms))
	seen := make(map[string]struct{}, len(rooms))
	for _, room := range rooms {
		id := legacyID(room.ID)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, recent{ID: id, At: appliedAt.UnixMilli()})
	}
	return result, true
}

func legacyID(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err == nil {
		return number.String()
	}
	return ""
}
