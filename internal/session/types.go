package session

import (
	"errors"
	"time"
)

// Session is the identity currently signed in on this device.
type Session struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// RegistrationPayload is what a user submits to create the device account.
type RegistrationPayload struct {
	Name     string          `json:"name" validate:"required,max=120"`
	Email    string          `json:"email" validate:"required,email,max=320"`
	Password string          `json:"password" validate:"required,min=8,max=72"`
	Consents map[string]bool `json:"consents"`
}

// RegisteredAccount is the single account remembered by the device.
type RegisteredAccount struct {
	Email        string          `json:"email"`
	Name         string          `json:"name"`
	PasswordHash string          `json:"passwordHash"`
	Consents     map[string]bool `json:"consents,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// LoginFailure names why a login attempt was refused.
type LoginFailure string

const (
	NoAccountExists  LoginFailure = "no_account"
	EmailMismatch    LoginFailure = "email_mismatch"
	PasswordMismatch LoginFailure = "password_mismatch"
)

var loginMessages = map[LoginFailure]string{
	NoAccountExists:  "No account found. Please sign up first.",
	EmailMismatch:    "Email does not match our records.",
	PasswordMismatch: "Incorrect password.",
}

// LoginError is returned by Manager.Login for refused credentials.
type LoginError struct {
	Reason LoginFailure
}

func (e *LoginError) Error() string {
	return "session: login refused: " + string(e.Reason)
}

// Is matches any LoginError carrying the same reason.
func (e *LoginError) Is(target error) bool {
	var other *LoginError
	if !errors.As(target, &other) {
		return false
	}
	return other.Reason == e.Reason
}

// Message is the user-facing explanation.
func (e *LoginError) Message() string {
	return loginMessages[e.Reason]
}

var (
	ErrNoAccountExists  = &LoginError{Reason: NoAccountExists}
	ErrEmailMismatch    = &LoginError{Reason: EmailMismatch}
	ErrPasswordMismatch = &LoginError{Reason: PasswordMismatch}
)
