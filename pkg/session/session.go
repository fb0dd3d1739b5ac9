// Package session stores short-lived form and survey sessions in the remote
// store under "session:<type>:<sessionId>".
//
// Expiry is sliding: every successful read or update rewrites the record with
// the full TTL, so an active session never expires mid-use. A store failure
// reads as "session not found"; callers decide from business context whether
// that is a true absence.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is the lifetime of an untouched session.
const DefaultTTL = 48 * time.Hour

// DefaultLocale is used when a session is created without a locale.
const DefaultLocale = "en"

// KeyPrefix is the namespace of session records.
const KeyPrefix = "session"

// ErrInvalidType indicates an unknown session type.
var ErrInvalidType = errors.New("invalid session type")

// Type is the kind of flow a session belongs to.
type Type string

const (
	// TypeForm is a multi-step contact or quote form.
	TypeForm Type = "form"

	// TypeSurvey is a survey in progress.
	TypeSurvey Type = "survey"
)

// Types lists every known session type.
var Types = []Type{TypeForm, TypeSurvey}

// ParseType validates s as a session type.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
	}
	return t, nil
}

// Valid reports whether t is a known session type.
func (t Type) Valid() bool {
	return t == TypeForm || t == TypeSurvey
}

// Record is a stored session.
type Record struct {
	SessionID    string         `json:"sessionId"`
	Type         Type           `json:"type"`
	Locale       string         `json:"locale"`
	UserID       string         `json:"userId,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	ExpiresAt    time.Time      `json:"expiresAt"`
	LastAccessed time.Time      `json:"lastAccessed"`
	Data         map[string]any `json:"data"`
}

// Key returns the store key of a session.
func Key(t Type, sessionID string) string {
	return KeyPrefix + ":" + string(t) + ":" + sessionID
}

// pattern returns the SCAN pattern for sessions of t, or all sessions when t
// is empty.
func pattern(t Type) string {
	if t == "" {
		return KeyPrefix + ":*:*"
	}
	return KeyPrefix + ":" + string(t) + ":*"
}

// NewID returns a fresh random session ID.
func NewID() string {
	return uuid.NewString()
}

// SetOption customizes a new session record.
type SetOption func(*Record)

// WithLocale sets the session locale.
func WithLocale(locale string) SetOption {
	return func(r *Record) {
		if locale != "" {
			r.Locale = locale
		}
	}
}

// WithUserID ties the session to a known user.
func WithUserID(userID string) SetOption {
	return func(r *Record) { r.UserID = userID }
}
