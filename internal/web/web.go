// Package web exposes the calendar core as a JSON HTTP API.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/FuzzyMistborn/caldav-frontend/caldav"
	"github.com/FuzzyMistborn/caldav-frontend/registry"
	"github.com/FuzzyMistborn/caldav-frontend/session"
	"github.com/FuzzyMistborn/caldav-frontend/syncer"
)

// Server wires the discovery, sync and preference layers behind HTTP
// handlers.
type Server struct {
	profile  caldav.ServerProfile
	creds    session.CredentialSource
	prefs    session.PreferenceStore
	registry *registry.Registry
	syncer   *syncer.Syncer
	logger   *slog.Logger

	mu        sync.RWMutex
	calendars []caldav.Calendar
}

// NewServer creates the API server. A nil logger discards debug output.
func NewServer(profile caldav.ServerProfile, creds session.CredentialSource, prefs session.PreferenceStore, reg *registry.Registry, sc *syncer.Syncer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		profile:  profile,
		creds:    creds,
		prefs:    prefs,
		registry: reg,
		syncer:   sc,
		logger:   logger,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/calendars", s.handleCalendars)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("POST /api/events", s.handleCreateEvent)
	mux.HandleFunc("PUT /api/events/{uid}", s.handleUpdateEvent)
	mux.HandleFunc("DELETE /api/events/{uid}", s.handleDeleteEvent)
	mux.HandleFunc("GET /api/preferences", s.handleGetPreferences)
	mux.HandleFunc("PUT /api/preferences", s.handleSetPreferences)
	return mux
}

// RefreshCalendars re-discovers the calendar list and caches it. The cron
// scheduler calls this periodically; requests fall back to it lazily.
func (s *Server) RefreshCalendars(ctx context.Context) error {
	creds, err := s.creds.Credentials(ctx)
	if err != nil {
		return err
	}
	calendars, err := s.registry.Discover(ctx, s.profile, creds)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.calendars = calendars
	s.mu.Unlock()
	s.logger.Info("calendar list refreshed", "calendars", len(calendars))
	return nil
}

// cachedCalendars returns the last discovered list, discovering on first use.
func (s *Server) cachedCalendars(ctx context.Context) ([]caldav.Calendar, error) {
	s.mu.RLock()
	calendars := s.calendars
	s.mu.RUnlock()
	if calendars != nil {
		return calendars, nil
	}
	if err := s.RefreshCalendars(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calendars, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type calendarJSON struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Color    string `json:"color"`
	Visible  bool   `json:"visible"`
	ReadOnly bool   `json:"read_only"`
}

func (s *Server) handleCalendars(w http.ResponseWriter, r *http.Request) {
	calendars, err := s.visibleCalendars(r.Context(), true)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]calendarJSON, 0, len(calendars))
	for _, cal := range calendars {
		out = append(out, calendarJSON{
			Name:     cal.Name,
			URL:      cal.URL,
			Color:    cal.Color,
			Visible:  cal.Visible,
			ReadOnly: cal.ReadOnly,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"calendars": out})
}

// visibleCalendars overlays preferences onto the cached discovery result.
// With includeHidden the full list comes back with visibility flags set.
func (s *Server) visibleCalendars(ctx context.Context, includeHidden bool) ([]caldav.Calendar, error) {
	calendars, err := s.cachedCalendars(ctx)
	if err != nil {
		return nil, err
	}
	prefs, err := s.prefs.Preferences(ctx)
	if err != nil {
		return nil, err
	}
	overlaid := registry.ApplyPreferences(calendars, prefs)
	if includeHidden {
		return overlaid, nil
	}
	var visible []caldav.Calendar
	for _, cal := range overlaid {
		if cal.Visible {
			visible = append(visible, cal)
		}
	}
	return visible, nil
}

type occurrenceJSON struct {
	UID         string    `json:"uid"`
	Href        string    `json:"href"`
	CalendarURL string    `json:"calendar_url"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"all_day"`
	IsException bool      `json:"is_exception"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	start, err := parseTimeParam(r, "start")
	if err != nil {
		s.writeError(w, err)
		return
	}
	end, err := parseTimeParam(r, "end")
	if err != nil {
		s.writeError(w, err)
		return
	}

	calendars, err := s.visibleCalendars(r.Context(), false)
	if err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.syncer.FetchRange(r.Context(), calendars, start, end)
	if err != nil {
		s.writeError(w, err)
		return
	}

	events := make([]occurrenceJSON, 0, len(result.Occurrences))
	for _, occ := range result.Occurrences {
		events = append(events, occurrenceJSON{
			UID:         occ.EventUID,
			Href:        occ.EventHref,
			CalendarURL: occ.CalendarURL,
			Summary:     occ.Summary,
			Description: occ.Description,
			Location:    occ.Location,
			Start:       occ.Start,
			End:         occ.End,
			AllDay:      occ.AllDay,
			IsException: occ.IsException,
		})
	}

	var warnings []string
	for _, status := range result.Statuses {
		if status.Err != nil {
			warnings = append(warnings, status.CalendarURL+": "+status.Err.Error())
		} else if status.Skipped > 0 {
			warnings = append(warnings, status.CalendarURL+": skipped unreadable events")
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events":   events,
		"warnings": warnings,
	})
}

type eventPayload struct {
	CalendarURL string    `json:"calendar_url"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"all_day"`
	RRule       string    `json:"rrule"`
}

type eventJSON struct {
	UID         string `json:"uid"`
	Href        string `json:"href"`
	CalendarURL string `json:"calendar_url"`
	ETag        string `json:"etag"`
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var payload eventPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, wrapValidation(err))
		return
	}
	if payload.CalendarURL == "" {
		s.writeError(w, wrapValidation(errors.New("calendar_url is required")))
		return
	}

	ev, err := s.syncer.CreateEvent(r.Context(), payload.CalendarURL, caldav.Event{
		Summary:        payload.Summary,
		Description:    payload.Description,
		Location:       payload.Location,
		Start:          payload.Start,
		End:            payload.End,
		AllDay:         payload.AllDay,
		RecurrenceRule: payload.RRule,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, eventJSON{
		UID:         ev.UID,
		Href:        ev.Href,
		CalendarURL: ev.CalendarURL,
		ETag:        ev.ETag,
	})
}

// scopeOf reads the edit scope from the request. Writes against recurring
// events must say which occurrences they mean; there is no default.
func scopeOf(r *http.Request) (syncer.Scope, time.Time, error) {
	scope, err := syncer.ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		return "", time.Time{}, err
	}
	var occurrence time.Time
	if raw := r.URL.Query().Get("occurrence"); raw != "" {
		occurrence, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return "", time.Time{}, wrapValidation(err)
		}
	}
	return scope, occurrence, nil
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")
	scope, occurrence, err := scopeOf(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var payload eventPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, wrapValidation(err))
		return
	}
	if payload.CalendarURL == "" {
		s.writeError(w, wrapValidation(errors.New("calendar_url is required")))
		return
	}

	ev, err := s.syncer.UpdateEvent(r.Context(), payload.CalendarURL, uid,
		r.Header.Get("If-Match"),
		func(ev *caldav.Event) {
			ev.Summary = payload.Summary
			ev.Description = payload.Description
			ev.Location = payload.Location
			if !payload.Start.IsZero() {
				ev.Start = payload.Start
			}
			if !payload.End.IsZero() {
				ev.End = payload.End
			}
		},
		scope, occurrence)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, eventJSON{
		UID:         ev.UID,
		Href:        ev.Href,
		CalendarURL: ev.CalendarURL,
		ETag:        ev.ETag,
	})
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")
	calendarURL := r.URL.Query().Get("calendar")
	if calendarURL == "" {
		s.writeError(w, wrapValidation(errors.New("calendar query parameter is required")))
		return
	}
	scope, occurrence, err := scopeOf(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.syncer.DeleteEvent(r.Context(), calendarURL, uid,
		r.Header.Get("If-Match"), scope, occurrence); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type preferencesJSON struct {
	SelectedCalendars []string          `json:"selected_calendars"`
	ColorOverrides    map[string]string `json:"color_overrides"`
	WeekStartDay      int               `json:"week_start_day"`
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := s.prefs.Preferences(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preferencesJSON{
		SelectedCalendars: prefs.SelectedCalendarURLs,
		ColorOverrides:    prefs.ColorOverrides,
		WeekStartDay:      int(prefs.WeekStartDay),
	})
}

func (s *Server) handleSetPreferences(w http.ResponseWriter, r *http.Request) {
	var payload preferencesJSON
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, wrapValidation(err))
		return
	}
	if payload.WeekStartDay < 0 || payload.WeekStartDay > 6 {
		s.writeError(w, wrapValidation(errors.New("week_start_day must be 0..6")))
		return
	}

	err := s.prefs.SetPreferences(r.Context(), caldav.Preferences{
		SelectedCalendarURLs: payload.SelectedCalendars,
		ColorOverrides:       payload.ColorOverrides,
		WeekStartDay:         time.Weekday(payload.WeekStartDay),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, wrapValidation(errors.New(name + " query parameter is required"))
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		// Date-only form is accepted for whole-day ranges.
		t, err = time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, wrapValidation(errors.New(name + " must be RFC 3339 or YYYY-MM-DD"))
		}
	}
	return t, nil
}

func wrapValidation(err error) error {
	return errors.Join(caldav.ErrValidation, err)
}

// writeError maps the error taxonomy onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, caldav.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, caldav.ErrAuthentication):
		status = http.StatusUnauthorized
	case errors.Is(err, caldav.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, caldav.ErrWriteConflict):
		status = http.StatusConflict
	case errors.Is(err, caldav.ErrInvalidConfiguration):
		status = http.StatusBadRequest
	case errors.Is(err, caldav.ErrServerUnavailable), errors.Is(err, caldav.ErrUnsupportedServer):
		status = http.StatusBadGateway
	}
	if status >= 500 {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]any{
		"error":     err.Error(),
		"retryable": caldav.IsRetryable(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
