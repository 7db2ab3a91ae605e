package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/konnection/roomstate/internal/kvstore"
	"github.com/konnection/roomstate/internal/validation"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	errMissingStore = errors.New("collection store is required")
	// ErrNotSignedIn is returned by operations that need a current session.
	ErrNotSignedIn = errors.New("session: not signed in")
	// ErrNoAccount is returned when account-level changes are requested before registration.
	ErrNoAccount = errors.New("session: no registered account")

	accountKey = mustKey(kvstore.CategoryAccount)
	sessionKey = mustKey(kvstore.CategorySession)
)

func mustKey(category kvstore.Category) kvstore.Key {
	key, err := kvstore.NewKey(category, "")
	if err != nil {
		panic(err)
	}
	return key
}

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
	opManagerNew     = "session.manager.new"
	opRegister       = "session.register"
	opLogin          = "session.login"
	opLogout         = "session.logout"
	opCurrentSession = "session.current"
	opUpdateName     = "session.update_name"
	opChangePassword = "session.change_password"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

type ManagerConfig struct {
	Store  kvstore.Collection
	Clock  func() time.Time
	Logger *zap.Logger
	// HashCost overrides bcrypt.DefaultCost.
	HashCost int
}

// Manager owns the registered account and the current session. Every change
// to either is written through the store, which broadcasts it.
type Manager struct {
	mu       sync.Mutex
	store    kvstore.Collection
	clock    func() time.Time
	logger   *zap.Logger
	hashCost int
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opManagerNew, "missing_store", errMissingStore)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	hashCost := cfg.HashCost
	if hashCost == 0 {
		hashCost = bcrypt.DefaultCost
	}
	return &Manager{store: cfg.Store, clock: clock, logger: logger, hashCost: hashCost}, nil
}

// Register replaces any existing account and signs the new identity in.
func (m *Manager) Register(ctx context.Context, payload RegistrationPayload) (Session, error) {
	payload.Name = strings.TrimSpace(payload.Name)
	payload.Email = strings.TrimSpace(payload.Email)
	if err := validation.Struct(payload); err != nil {
		return Session{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(payload.Password), m.hashCost)
	if err != nil {
		return Session{}, newServiceError(opRegister, "hash_failed", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	account := RegisteredAccount{
		Email:        payload.Email,
		Name:         payload.Name,
		PasswordHash: string(hash),
		Consents:     payload.Consents,
		CreatedAt:    m.clock().UTC(),
	}
	if err := m.store.Write(ctx, accountKey, account); err != nil {
		m.logError(opRegister, "account_write_failed", err)
		return Session{}, newServiceError(opRegister, "account_write_failed", err)
	}
	current := Session{Email: account.Email, Name: account.Name}
	if err := m.store.Write(ctx, sessionKey, current); err != nil {
		m.logError(opRegister, "session_write_failed", err)
		return Session{}, newServiceError(opRegister, "session_write_failed", err)
	}
	m.logger.Info("account registered", zap.String("email", account.Email))
	return current, nil
}

// Login signs in when email and password match the registered account.
// Refusals are reported as *LoginError.
func (m *Manager) Login(ctx context.Context, email, password string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, err := m.readAccount(ctx)
	if err != nil {
		return Session{}, newServiceError(opLogin, "account_read_failed", err)
	}
	if account == nil {
		return Session{}, ErrNoAccountExists
	}
	if strings.TrimSpace(email) != account.Email {
		return Session{}, ErrEmailMismatch
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return Session{}, ErrPasswordMismatch
	}
	current := Session{Email: account.Email, Name: account.Name}
	if err := m.store.Write(ctx, sessionKey, current); err != nil {
		m.logError(opLogin, "session_write_failed", err)
		return Session{}, newServiceError(opLogin, "session_write_failed", err)
	}
	return current, nil
}

// Logout clears the current session. Logging out twice is harmless.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Remove(ctx, sessionKey); err != nil {
		m.logError(opLogout, "session_remove_failed", err)
		return newServiceError(opLogout, "session_remove_failed", err)
	}
	return nil
}

// CurrentSession returns nil when nobody is signed in.
func (m *Manager) CurrentSession(ctx context.Context) (*Session, error) {
	current, err := kvstore.Read[*Session](ctx, m.store, sessionKey, nil)
	if err != nil {
		return nil, newServiceError(opCurrentSession, "read_failed", err)
	}
	if current == nil || strings.TrimSpace(current.Email) == "" {
		return nil, nil
	}
	return current, nil
}

func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	current, err := m.CurrentSession(ctx)
	if err != nil {
		m.logError(opCurrentSession, "read_failed", err)
		return false
	}
	return current != nil
}

// RegisteredAccount returns nil when no account has been registered.
func (m *Manager) RegisteredAccount(ctx context.Context) (*RegisteredAccount, error) {
	return m.readAccount(ctx)
}

// UpdateIdentity renames the signed-in user and, when email is non-empty,
// moves the session and account to the new email.
func (m *Manager) UpdateIdentity(ctx context.Context, name, email string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := kvstore.Read[*Session](ctx, m.store, sessionKey, nil)
	if err != nil {
		return Session{}, newServiceError(opUpdateName, "read_failed", err)
	}
	if current == nil || current.Email == "" {
		return Session{}, ErrNotSignedIn
	}
	next := *current
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		next.Name = trimmed
	}
	if trimmed := strings.TrimSpace(email); trimmed != "" {
		next.Email = trimmed
	}

	account, err := m.readAccount(ctx)
	if err != nil {
		return Session{}, newServiceError(opUpdateName, "account_read_failed", err)
	}
	if account != nil && account.Email == current.Email {
		account.Name = next.Name
		account.Email = next.Email
		if err := m.store.Write(ctx, accountKey, account); err != nil {
			return Session{}, newServiceError(opUpdateName, "account_write_failed", err)
		}
	}
	if next != *current {
		if err := m.store.Write(ctx, sessionKey, next); err != nil {
			return Session{}, newServiceError(opUpdateName, "session_write_failed", err)
		}
	}
	return next, nil
}

// ChangePassword replaces the registered account's password hash.
func (m *Manager) ChangePassword(ctx context.Context, password string) error {
	if err := validation.Var("password", password, "min=8,max=72"); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), m.hashCost)
	if err != nil {
		return newServiceError(opChangePassword, "hash_failed", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	account, err := m.readAccount(ctx)
	if err != nil {
		return newServiceError(opChangePassword, "account_read_failed", err)
	}
	if account == nil {
		return ErrNoAccount
	}
	account.PasswordHash = string(hash)
	if err := m.store.Write(ctx, accountKey, account); err != nil {
		return newServiceError(opChangePassword, "account_write_failed", err)
	}
	return nil
}

func (m *Manager) readAccount(ctx context.Context) (*RegisteredAccount, error) {
	account, err := kvstore.Read[*RegisteredAccount](ctx, m.store, accountKey, nil)
	if err != nil {
		return nil, err
	}
	if account == nil || account.Email == "" {
		return nil, nil
	}
	return account, nil
}

func (m *Manager) logError(operation, reason string, err error) {
	m.logger.Error("session operation failed",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	)
}
