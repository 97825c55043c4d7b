package session

import (
	"context"
	"sync"

	"github.com/FuzzyMistborn/caldav-frontend/caldav"
)

// Memory is an in-process PreferenceStore for tests and ephemeral setups.
type Memory struct {
	mu    sync.RWMutex
	prefs caldav.Preferences
}

// NewMemory creates an empty in-memory preference store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Preferences(ctx context.Context) (caldav.Preferences, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clonePreferences(m.prefs), nil
}

func (m *Memory) SetPreferences(ctx context.Context, prefs caldav.Preferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs = clonePreferences(prefs)
	return nil
}

// clonePreferences keeps callers from sharing the internal maps.
func clonePreferences(p caldav.Preferences) caldav.Preferences {
	out := caldav.Preferences{
		SelectedCalendarURLs: append([]string(nil), p.SelectedCalendarURLs...),
		WeekStartDay:         p.WeekStartDay,
	}
	if p.ColorOverrides != nil {
		out.ColorOverrides = make(map[string]string, len(p.ColorOverrides))
		for k, v := range p.ColorOverrides {
			out.ColorOverrides[k] = v
		}
	}
	return out
}
