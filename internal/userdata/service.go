package userdata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/konnection/roomstate/internal/kvstore"
	"github.com/konnection/roomstate/internal/session"
	"go.uber.org/zap"
)

var errMissingDependency = errors.New("dependency is required")

// ServiceError carries a dotted operation code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew     = "userdata.service.new"
	opFavorites      = "userdata.favorites"
	opToggleFavorite = "userdata.toggle_favorite"
	opRecents        = "userdata.recents"
	opPushRecent     = "userdata.push_recent"
	opClearRecents   = "userdata.clear_recents"
	opLoadProfile    = "userdata.load_profile"
	opSaveProfile    = "userdata.save_profile"
	opContracts      = "userdata.contracts"
	opAppendContract = "userdata.append_contract"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Identities exposes the session state the namespacer needs.
type Identities interface {
	CurrentSession(ctx context.Context) (*session.Session, error)
	RegisteredAccount(ctx context.Context) (*session.RegisteredAccount, error)
	UpdateIdentity(ctx context.Context, name, email string) (session.Session, error)
	ChangePassword(ctx context.Context, password string) error
}

type ServiceConfig struct {
	Store      kvstore.Collection
	Identities Identities
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service reads and writes the collections that belong to whoever is signed
// in, falling back to the guest scope.
type Service struct {
	mu         sync.Mutex
	store      kvstore.Collection
	identities Identities
	clock      func() time.Time
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingDependency)
	}
	if cfg.Identities == nil {
		return nil, newServiceError(opServiceNew, "missing_identities", errMissingDependency)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: cfg.Store, identities: cfg.Identities, clock: clock, logger: logger}, nil
}

func (s *Service) scopedKey(ctx context.Context, operation string, category kvstore.Category) (kvstore.Key, error) {
	current, err := s.identities.CurrentSession(ctx)
	if err != nil {
		return kvstore.Key{}, newServiceError(operation, "session_read_failed", err)
	}
	key, err := ScopedKey(category, current)
	if err != nil {
		return kvstore.Key{}, newServiceError(operation, "invalid_key", err)
	}
	return key, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("operation", operation), zap.String("reason", reason), zap.Error(err))
	s.logger.Error("userdata operation failed", fields...)
}
