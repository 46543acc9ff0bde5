package profile

import (
	"context"
	"errors"
)

// Profile is a user's matchmaking record, consumed by the best-match query.
// It is entirely outside the live pairing engine: the relay only ever sees
// opaque user identifiers.
type Profile struct {
	UserID      string   `json:"userId"`
	Name        string   `json:"name,omitempty"`
	College     string   `json:"college,omitempty"`
	Gender      string   `json:"gender,omitempty"`
	Interests   []string `json:"interests,omitempty"`
	Preferences []string `json:"preferences,omitempty"`
	Completed   bool     `json:"completed"`
}

// ErrNotFound is returned when no profile exists for a user.
var ErrNotFound = errors.New("profile not found")

// Store persists matchmaking profiles.
type Store interface {
	// Upsert saves a profile, replacing any existing record for the user.
	Upsert(ctx context.Context, p Profile) error
	// Get returns the profile for userID or ErrNotFound.
	Get(ctx context.Context, userID string) (Profile, error)
	// ListCompleted returns every completed profile except excludeUserID.
	ListCompleted(ctx context.Context, excludeUserID string) ([]Profile, error)
	// Close releases any underlying resources.
	Close()
}
