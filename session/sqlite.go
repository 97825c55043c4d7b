package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/FuzzyMistborn/caldav-frontend/caldav"
)

// SQLiteStore persists one user's preferences in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (creating if needed) the preference database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// DELETE journal mode keeps writes immediately visible to re-opens.
	connStr := dbPath + "?_foreign_keys=on&_journal_mode=DELETE&_synchronous=FULL"
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS preferences (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		selected_calendars TEXT NOT NULL DEFAULT '[]',
		color_overrides TEXT NOT NULL DEFAULT '{}',
		week_start INTEGER NOT NULL DEFAULT 0,
		updated DATETIME
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Preferences(ctx context.Context) (caldav.Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var selected, overrides string
	var weekStart int
	err := s.db.QueryRowContext(ctx,
		`SELECT selected_calendars, color_overrides, week_start FROM preferences WHERE id = 1`).
		Scan(&selected, &overrides, &weekStart)
	if errors.Is(err, sql.ErrNoRows) {
		return caldav.Preferences{}, nil
	}
	if err != nil {
		return caldav.Preferences{}, fmt.Errorf("failed to load preferences: %w", err)
	}

	prefs := caldav.Preferences{WeekStartDay: time.Weekday(weekStart)}
	if err := json.Unmarshal([]byte(selected), &prefs.SelectedCalendarURLs); err != nil {
		return caldav.Preferences{}, fmt.Errorf("corrupt calendar selection: %w", err)
	}
	if err := json.Unmarshal([]byte(overrides), &prefs.ColorOverrides); err != nil {
		return caldav.Preferences{}, fmt.Errorf("corrupt color overrides: %w", err)
	}
	return prefs, nil
}

func (s *SQLiteStore) SetPreferences(ctx context.Context, prefs caldav.Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	selected, err := json.Marshal(prefs.SelectedCalendarURLs)
	if err != nil {
		return fmt.Errorf("failed to encode calendar selection: %w", err)
	}
	overrides := prefs.ColorOverrides
	if overrides == nil {
		overrides = map[string]string{}
	}
	overrideJSON, err := json.Marshal(overrides)
	if err != nil {
		return fmt.Errorf("failed to encode color overrides: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO preferences (id, selected_calendars, color_overrides, week_start, updated)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			selected_calendars = excluded.selected_calendars,
			color_overrides = excluded.color_overrides,
			week_start = excluded.week_start,
			updated = excluded.updated`,
		string(selected), string(overrideJSON), int(prefs.WeekStartDay), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save preferences: %w", err)
	}
	return nil
}
