// Package syncer aggregates events across calendars and performs the write
// operations, including scoped edits of recurring series.
package syncer

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/FuzzyMistborn/caldav-frontend/caldav"
	"github.com/FuzzyMistborn/caldav-frontend/internal/httpclient"
	"github.com/FuzzyMistborn/caldav-frontend/recurrence"
)

// Scope selects which occurrences of a recurring event a write applies to.
// The values double as wire values for the HTTP layer.
type Scope string

const (
	ScopeThisOccurrence Scope = "this"
	ScopeThisAndFuture  Scope = "future"
	ScopeEntireSeries   Scope = "all"
)

// ParseScope validates a wire scope value. There is no default: callers must
// say what they mean.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeThisOccurrence, ScopeThisAndFuture, ScopeEntireSeries:
		return Scope(s), nil
	default:
		return "", fmt.Errorf("%w: unknown scope %q", caldav.ErrValidation, s)
	}
}

const defaultBatchTimeout = 20 * time.Second

// Syncer reads and writes calendar objects through one DAV transport.
// Writes to the same calendar are serialized; different calendars proceed
// independently.
type Syncer struct {
	client       httpclient.HttpClientWrapper
	engine       *recurrence.Engine
	logger       *slog.Logger
	batchTimeout time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithBatchTimeout bounds one FetchRange batch across all calendars.
func WithBatchTimeout(d time.Duration) Option {
	return func(s *Syncer) { s.batchTimeout = d }
}

// NewSyncer creates a Syncer on top of an existing DAV client. A nil logger
// discards debug output.
func NewSyncer(client httpclient.HttpClientWrapper, logger *slog.Logger, opts ...Option) *Syncer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Syncer{
		client:       client,
		engine:       recurrence.NewEngine(logger),
		logger:       logger,
		batchTimeout: defaultBatchTimeout,
		locks:        make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// calendarLock returns the write lock for one calendar URL.
func (s *Syncer) calendarLock(calendarURL string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[calendarURL]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[calendarURL] = lock
	}
	return lock
}

// resolveHref makes an object href absolute against its calendar URL.
func resolveHref(calendarURL, href string) string {
	base, err := url.Parse(calendarURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
