// Package session is the adapter boundary between the calendar core and
// whatever holds the user's state. The core consumes only the interfaces;
// credentials are fetched per call and never persisted by the core.
package session

import (
	"context"

	"github.com/FuzzyMistborn/caldav-frontend/caldav"
)

// CredentialSource hands out the account credentials for one request.
type CredentialSource interface {
	Credentials(ctx context.Context) (caldav.Credentials, error)
}

// PreferenceStore persists per-user display preferences.
type PreferenceStore interface {
	Preferences(ctx context.Context) (caldav.Preferences, error)
	SetPreferences(ctx context.Context, prefs caldav.Preferences) error
}

// StaticCredentials is a CredentialSource backed by fixed values, for
// configuration-file setups and tests.
type StaticCredentials caldav.Credentials

func (s StaticCredentials) Credentials(ctx context.Context) (caldav.Credentials, error) {
	return caldav.Credentials(s), nil
}
