package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Collection is the persistence surface consumed by the domain packages.
type Collection interface {
	// ReadInto decodes the value stored at key into dest. It reports false
	// when the key is missing or its stored value cannot be decoded.
	ReadInto(ctx context.Context, key Key, dest any) (bool, error)
	Write(ctx context.Context, key Key, value any) error
	Remove(ctx context.Context, key Key) error
}

// Read returns the value stored at key, or fallback when it is missing or
// unreadable. Errors are only returned for storage failures.
func Read[T any](ctx context.Context, collection Collection, key Key, fallback T) (T, error) {
	var value T
	found, err := collection.ReadInto(ctx, key, &value)
	if err != nil || !found {
		return fallback, err
	}
	return value, nil
}

type StoreConfig struct {
	Database    *gorm.DB
	Broadcaster *Broadcaster
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Store persists collections as JSON documents keyed by Key.String. Writes are
// last-writer-wins; each successful write or removal is broadcast.
type Store struct {
	db          *gorm.DB
	broadcaster *Broadcaster
	clock       func() time.Time
	logger      *zap.Logger
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	broadcaster := cfg.Broadcaster
	if broadcaster == nil {
		broadcaster = NewBroadcaster()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		db:          cfg.Database,
		broadcaster: broadcaster,
		clock:       clock,
		logger:      logger,
	}, nil
}

func (s *Store) Subscribe(ctx context.Context, categories ...Category) (<-chan ChangeEvent, func()) {
	return s.broadcaster.Subscribe(ctx, categories...)
}

// ReadRaw returns the stored JSON text for key.
func (s *Store) ReadRaw(ctx context.Context, key Key) (string, bool, error) {
	if key.IsZero() {
		return "", false, newServiceError(opRead, "invalid_key", ErrInvalidKey)
	}
	var entry Entry
	err := s.db.WithContext(ctx).Where("entry_key = ?", key.String()).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		s.logError(opRead, "query_failed", err, zap.String("key", key.String()))
		return "", false, newServiceError(opRead, "query_failed", err)
	}
	return entry.ValueJSON, true, nil
}

func (s *Store) ReadInto(ctx context.Context, key Key, dest any) (bool, error) {
	raw, found, err := s.ReadRaw(ctx, key)
	if err != nil || !found {
		return false, err
	}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "null" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(trimmed), dest); err != nil {
		s.logger.Warn("stored value unreadable, using fallback",
			zap.String("key", key.String()),
			zap.Error(err),
		)
		return false, nil
	}
	return true, nil
}

// Write serializes value and replaces whatever is stored at key.
func (s *Store) Write(ctx context.Context, key Key, value any) error {
	if key.IsZero() {
		return newServiceError(opWrite, "invalid_key", ErrInvalidKey)
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return newServiceError(opWrite, "marshal_failed", err)
	}

	now := s.clock().UTC()
	var version int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Entry
		lookupErr := tx.Where("entry_key = ?", key.String()).Take(&existing).Error
		switch {
		case errors.Is(lookupErr, gorm.ErrRecordNotFound):
			version = 1
		case lookupErr != nil:
			return lookupErr
		default:
			version = existing.Version + 1
		}
		return tx.Save(&Entry{
			Key:              key.String(),
			Category:         string(key.Category()),
			ValueJSON:        string(payload),
			Version:          version,
			UpdatedAtSeconds: now.Unix(),
		}).Error
	})
	if err != nil {
		s.logError(opWrite, "persist_failed", err, zap.String("key", key.String()))
		return newServiceError(opWrite, "persist_failed", err)
	}

	s.broadcaster.Publish(ChangeEvent{
		Category:  key.Category(),
		Key:       key.String(),
		Version:   version,
		Timestamp: now,
	})
	return nil
}

// Remove deletes key. Removing a missing key succeeds.
func (s *Store) Remove(ctx context.Context, key Key) error {
	if key.IsZero() {
		return newServiceError(opRemove, "invalid_key", ErrInvalidKey)
	}
	if err := s.db.WithContext(ctx).Where("entry_key = ?", key.String()).Delete(&Entry{}).Error; err != nil {
		s.logError(opRemove, "delete_failed", err, zap.String("key", key.String()))
		return newServiceError(opRemove, "delete_failed", err)
	}
	s.broadcaster.Publish(ChangeEvent{
		Category:  key.Category(),
		Key:       key.String(),
		Removed:   true,
		Timestamp: s.clock().UTC(),
	})
	return nil
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	if s.logger == nil {
		return
	}
	fields = append(fields, zap.String("operation", operation), zap.String("reason", reason), zap.Error(err))
	s.logger.Error("kvstore operation failed", fields...)
}
