package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/konnection/roomstate/internal/kvstore"
	"github.com/konnection/roomstate/internal/kvstore/kvstoretest"
	"github.com/konnection/roomstate/internal/validation"
	"golang.org/x/crypto/bcrypt"
)

func newTestManager(t *testing.T) (*Manager, *kvstore.Store) {
	t.Helper()
	store := kvstoretest.NewStore(t)
	manager, err := NewManager(ManagerConfig{
		Store:    store,
		Clock:    func() time.Time { return time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC) },
		HashCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return manager, store
}

func register(t *testing.T, manager *Manager) {
	t.Helper()
	_, err := manager.Register(context.Background(), RegistrationPayload{
		Name:     "Ann",
		Email:    "a@x.io",
		Password: "secret123",
		Consents: map[string]bool{"terms": true},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
}

func TestRegisterSignsIn(t *testing.T) {
	manager, _ := newTestManager(t)
	register(t, manager)

	current, err := manager.CurrentSession(context.Background())
	if err != nil {
		t.Fatalf("current session: %v", err)
	}
	if current == nil || current.Email != "a@x.io" || current.Name != "Ann" {
		t.Fatalf("unexpected session %+v", current)
	}
	account, err := manager.RegisteredAccount(context.Background())
	if err != nil || account == nil {
		t.Fatalf("registered account: %v %v", account, err)
	}
	if account.PasswordHash == "secret123" {
		t.Fatal("password stored in clear")
	}
}

func TestRegisterRejectsInvalidPayload(t *testing.T) {
	manager, _ := newTestManager(t)
	_, err := manager.Register(context.Background(), RegistrationPayload{Name: "Ann", Email: "not-an-email", Password: "short"})
	var validationErr *validation.Error
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !validationErr.Has("email") || !validationErr.Has("password") {
		t.Fatalf("unexpected fields %v", validationErr.Fields)
	}
	if manager.IsAuthenticated(context.Background()) {
		t.Fatal("invalid registration must not sign in")
	}
}

func TestLoginFailures(t *testing.T) {
	testCases := []struct {
		name     string
		register bool
		email    string
		password string
		expected error
	}{
		{name: "no account", email: "a@x.io", password: "secret123", expected: ErrNoAccountExists},
		{name: "email mismatch", register: true, email: "b@x.io", password: "secret123", expected: ErrEmailMismatch},
		{name: "password mismatch", register: true, email: "a@x.io", password: "nope", expected: ErrPasswordMismatch},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			manager, _ := newTestManager(t)
			if testCase.register {
				register(t, manager)
				if err := manager.Logout(context.Background()); err != nil {
					t.Fatalf("logout: %v", err)
				}
			}
			_, err := manager.Login(context.Background(), testCase.email, testCase.password)
			if !errors.Is(err, testCase.expected) {
				t.Fatalf("expected %v, got %v", testCase.expected, err)
			}
			var loginErr *LoginError
			if !errors.As(err, &loginErr) || loginErr.Message() == "" {
				t.Fatalf("expected LoginError with message, got %v", err)
			}
			if manager.IsAuthenticated(context.Background()) {
				t.Fatal("failed login must leave session unset")
			}
		})
	}
}

func TestLoginLogoutRoundTrip(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()
	register(t, manager)

	if err := manager.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := manager.Logout(ctx); err != nil {
		t.Fatalf("second logout: %v", err)
	}
	if manager.IsAuthenticated(ctx) {
		t.Fatal("expected signed out")
	}
	current, err := manager.Login(ctx, "a@x.io", "secret123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if current.Email != "a@x.io" || !manager.IsAuthenticated(ctx) {
		t.Fatalf("unexpected session %+v", current)
	}
}

func TestRegisterReplacesPreviousAccount(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()
	register(t, manager)
	if _, err := manager.Register(ctx, RegistrationPayload{Name: "Bo", Email: "b@x.io", Password: "password9"}); err != nil {
		t.Fatalf("second register: %v", err)
	}
	if _, err := manager.Login(ctx, "a@x.io", "secret123"); !errors.Is(err, ErrEmailMismatch) {
		t.Fatalf("expected old account replaced, got %v", err)
	}
}

func TestSessionChangesAreBroadcast(t *testing.T) {
	manager, store := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, cleanup := store.Subscribe(ctx, kvstore.CategorySession)
	defer cleanup()

	register(t, manager)
	if err := manager.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}

	first := <-events
	second := <-events
	if first.Removed || !second.Removed {
		t.Fatalf("expected write then removal, got %+v then %+v", first, second)
	}
}

func TestUpdateIdentityAndPassword(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()
	if _, err := manager.UpdateIdentity(ctx, "X", ""); !errors.Is(err, ErrNotSignedIn) {
		t.Fatalf("expected ErrNotSignedIn, got %v", err)
	}
	register(t, manager)

	updated, err := manager.UpdateIdentity(ctx, "Annie", "")
	if err != nil {
		t.Fatalf("update identity: %v", err)
	}
	if updated.Name != "Annie" || updated.Email != "a@x.io" {
		t.Fatalf("unexpected session %+v", updated)
	}
	if err := manager.ChangePassword(ctx, "short"); err == nil {
		t.Fatal("expected short password rejected")
	}
	if err := manager.ChangePassword(ctx, "brandnew99"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, err := manager.Login(ctx, "a@x.io", "brandnew99"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	account, _ := manager.RegisteredAccount(ctx)
	if account.Name != "Annie" {
		t.Fatalf("account name not updated: %+v", account)
	}
}
