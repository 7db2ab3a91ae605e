package userdata

import (
	"context"
	"strings"

	"github.com/konnection/roomstate/internal/kvstore"
	"github.com/konnection/roomstate/internal/session"
	"github.com/konnection/roomstate/internal/validation"
)

// Profile is the editable contact card of the current identity.
type Profile struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	AvatarURL string `json:"avatarUrl"`
}

// ProfilePatch holds the fields to change. Nil fields are left alone.
type ProfilePatch struct {
	Name      *string `json:"name"`
	Email     *string `json:"email"`
	Phone     *string `json:"phone"`
	AvatarURL *string `json:"avatarUrl"`
	Password  *string `json:"password"`
}

// patchRules validates the non-empty values of a patch. Empty strings clear a field.
type patchRules struct {
	Name      string `json:"name" validate:"omitempty,max=120"`
	Email     string `json:"email" validate:"omitempty,email"`
	Phone     string `json:"phone" validate:"omitempty,min=7,max=40"`
	AvatarURL string `json:"avatarUrl" validate:"omitempty,max=2048"`
	Password  string `json:"password" validate:"omitempty,min=8,max=72"`
}

// storedProfile keeps the shallow-merge semantics: only present fields override.
type storedProfile struct {
	Name      *string `json:"name,omitempty"`
	Email     *string `json:"email,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	AvatarURL *string `json:"avatarUrl,omitempty"`
}

func (p storedProfile) overlay(base Profile) Profile {
	if p.Name != nil {
		base.Name = *p.Name
	}
	if p.Email != nil {
		base.Email = *p.Email
	}
	if p.Phone != nil {
		base.Phone = *p.Phone
	}
	if p.AvatarURL != nil {
		base.AvatarURL = *p.AvatarURL
	}
	return base
}

func (p storedProfile) merged(patch ProfilePatch) storedProfile {
	if patch.Name != nil {
		p.Name = patch.Name
	}
	if patch.Email != nil {
		p.Email = patch.Email
	}
	if patch.Phone != nil {
		p.Phone = patch.Phone
	}
	if patch.AvatarURL != nil {
		p.AvatarURL = patch.AvatarURL
	}
	return p
}

// LoadProfile combines account identity with the stored profile of the
// current scope. Stored fields win.
func (s *Service) LoadProfile(ctx context.Context) (Profile, error) {
	current, err := s.identities.CurrentSession(ctx)
	if err != nil {
		return Profile{}, newServiceError(opLoadProfile, "session_read_failed", err)
	}
	return s.loadProfile(ctx, current)
}

func (s *Service) loadProfile(ctx context.Context, current *session.Session) (Profile, error) {
	account, err := s.identities.RegisteredAccount(ctx)
	if err != nil {
		return Profile{}, newServiceError(opLoadProfile, "account_read_failed", err)
	}
	base := Profile{}
	if account != nil {
		base.Name, base.Email = account.Name, account.Email
	}
	if current != nil {
		if base.Name == "" {
			base.Name = current.Name
		}
		if base.Email == "" {
			base.Email = current.Email
		}
	}
	key, err := ScopedKey(kvstore.CategoryProfile, current)
	if err != nil {
		return Profile{}, newServiceError(opLoadProfile, "invalid_key", err)
	}
	stored, err := kvstore.Read(ctx, s.store, key, storedProfile{})
	if err != nil {
		return Profile{}, newServiceError(opLoadProfile, "read_failed", err)
	}
	return stored.overlay(base), nil
}

// SaveProfile merges patch into the stored profile. A name change is mirrored
// into the signed-in session and a password change updates the registered
// account; changing the password requires a session.
func (s *Service) SaveProfile(ctx context.Context, patch ProfilePatch) (Profile, error) {
	trimPatch(&patch)
	rules := patchRules{
		Name:      valueOf(patch.Name),
		Email:     valueOf(patch.Email),
		Phone:     valueOf(patch.Phone),
		AvatarURL: valueOf(patch.AvatarURL),
		Password:  valueOf(patch.Password),
	}
	if err := validation.Struct(rules); err != nil {
		return Profile{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.identities.CurrentSession(ctx)
	if err != nil {
		return Profile{}, newServiceError(opSaveProfile, "session_read_failed", err)
	}
	key, err := ScopedKey(kvstore.CategoryProfile, current)
	if err != nil {
		return Profile{}, newServiceError(opSaveProfile, "invalid_key", err)
	}
	stored, err := kvstore.Read(ctx, s.store, key, storedProfile{})
	if err != nil {
		return Profile{}, newServiceError(opSaveProfile, "read_failed", err)
	}
	if current == nil && patch.Password != nil {
		return Profile{}, session.ErrNotSignedIn
	}
	next := stored.merged(patch)

	// the profile is written before the session and account so a failed
	// write leaves both untouched
	if err := s.store.Write(ctx, key, next); err != nil {
		s.logError(opSaveProfile, "write_failed", err)
		return Profile{}, newServiceError(opSaveProfile, "write_failed", err)
	}
	if current != nil && patch.Name != nil && *patch.Name != "" && *patch.Name != current.Name {
		// email edits stay in the profile; re-keying the session would orphan scoped data
		updated, err := s.identities.UpdateIdentity(ctx, *patch.Name, "")
		if err != nil {
			return Profile{}, newServiceError(opSaveProfile, "identity_update_failed", err)
		}
		current = &updated
	}
	if patch.Password != nil {
		if err := s.identities.ChangePassword(ctx, *patch.Password); err != nil {
			return Profile{}, newServiceError(opSaveProfile, "password_update_failed", err)
		}
	}
	return s.loadProfile(ctx, current)
}

func trimPatch(patch *ProfilePatch) {
	for _, field := range []**string{&patch.Name, &patch.Email, &patch.Phone, &patch.AvatarURL} {
		if *field != nil {
			trimmed := strings.TrimSpace(**field)
			*field = &trimmed
		}
	}
	if patch.Password != nil && *patch.Password == "" {
		patch.Password = nil
	}
}

func valueOf(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
