package router

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/campusrooms/roomsched/internal/extract"
	"github.com/campusrooms/roomsched/internal/query"
	"github.com/campusrooms/roomsched/internal/storage"
)

func (rt *router) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		rt.logger.Warn().Err(err).Msg("failed to encode response")
	}
}

func (rt *router) writeError(w http.ResponseWriter, status int, msg string) {
	rt.writeJSON(w, status, map[string]string{"error": msg})
}

func (rt *router) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// parseTimeParam accepts RFC3339 or a bare date.
func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02", v, time.Local)
}

func (rt *router) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseTimeParam(q.Get("from"))
	if err != nil {
		rt.writeError(w, http.StatusBadRequest, "invalid from")
		return
	}
	to, err := parseTimeParam(q.Get("to"))
	if err != nil {
		rt.writeError(w, http.StatusBadRequest, "invalid to")
		return
	}

	events, err := rt.Query.Events(r.Context(), from, to, query.Filters{
		Subject:   q.Get("subject"),
		Professor: q.Get("professor"),
		Room:      q.Get("room"),
		Building:  q.Get("building"),
		Group:     q.Get("group"),
	})
	if err != nil {
		rt.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	rt.writeJSON(w, http.StatusOK, events)
}

func (rt *router) handleCalendars(w http.ResponseWriter, r *http.Request) {
	calMap, err := rt.Query.CalendarMap(r.Context())
	if err != nil {
		rt.writeError(w, http.StatusInternalServerError, "calendar map unavailable")
		return
	}
	rt.writeJSON(w, http.StatusOK, calMap)
}

func (rt *router) handleDepartures(w http.ResponseWriter, r *http.Request) {
	board, err := rt.Query.DeparturesBoard(r.Context())
	if err != nil {
		rt.writeError(w, http.StatusInternalServerError, "departures unavailable")
		return
	}
	rt.writeJSON(w, http.StatusOK, board)
}

func (rt *router) handlePipeline(w http.ResponseWriter, r *http.Request) {
	progress, err := rt.Dir.ReadProgress()
	if err != nil {
		rt.writeError(w, http.StatusInternalServerError, "progress unavailable")
		return
	}
	fp, err := rt.Dir.Fingerprint()
	if err != nil {
		rt.writeError(w, http.StatusInternalServerError, "fingerprint unavailable")
		return
	}
	hashes, err := rt.Dir.ListEventFiles()
	if err != nil {
		rt.writeError(w, http.StatusInternalServerError, "artifact listing unavailable")
		return
	}

	rt.writeJSON(w, http.StatusOK, map[string]any{
		"progress":         progress,
		"fingerprint":      fp.String(),
		"artifacts":        len(hashes),
		"last_merge_error": rt.Cache.LastError(),
	})
}

type sourcePayload struct {
	DisplayName *string `json:"display_name"`
	Email       *string `json:"email"`
	Building    *string `json:"building"`
	Room        *string `json:"room"`
	PrimaryURL  *string `json:"primary_url"`
	ICSURL      *string `json:"ics_url"`
	Color       *string `json:"color"`
	Enabled     *bool   `json:"enabled"`
}

type sourceView struct {
	ID            int64      `json:"id"`
	DisplayName   string     `json:"display_name"`
	Email         string     `json:"email"`
	Building      string     `json:"building"`
	Room          string     `json:"room"`
	PrimaryURL    string     `json:"primary_url"`
	ICSURL        string     `json:"ics_url"`
	Color         string     `json:"color"`
	Enabled       bool       `json:"enabled"`
	LastFetchedAt *time.Time `json:"last_fetched_at,omitempty"`
}

func viewOf(src *storage.CalendarSource) sourceView {
	return sourceView{
		ID:            src.ID,
		DisplayName:   src.DisplayName,
		Email:         src.Email,
		Building:      src.Building,
		Room:          src.Room,
		PrimaryURL:    src.PrimaryURL,
		ICSURL:        src.ICSURL,
		Color:         src.Color,
		Enabled:       src.Enabled,
		LastFetchedAt: src.LastFetchedAt,
	}
}

func (rt *router) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := rt.Store.ListSources(r.Context(), false)
	if err != nil {
		rt.writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	views := make([]sourceView, 0, len(sources))
	for _, src := range sources {
		views = append(views, viewOf(src))
	}
	rt.writeJSON(w, http.StatusOK, views)
}

func (rt *router) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	var p sourcePayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		rt.writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if p.PrimaryURL == nil || *p.PrimaryURL == "" {
		rt.writeError(w, http.StatusBadRequest, "primary_url required")
		return
	}

	src := &storage.CalendarSource{
		PrimaryURL: *p.PrimaryURL,
		Enabled:    true,
	}
	if p.DisplayName != nil {
		src.DisplayName = *p.DisplayName
	}
	if p.Email != nil {
		src.Email = *p.Email
	}
	if p.Building != nil {
		src.Building = *p.Building
	}
	if p.Room != nil {
		src.Room = *p.Room
	}
	if p.ICSURL != nil {
		src.ICSURL = *p.ICSURL
	}
	if p.Enabled != nil {
		src.Enabled = *p.Enabled
	}
	if p.Color != nil && *p.Color != "" {
		src.Color = *p.Color
	}

	created, err := rt.Store.UpsertSourceByURL(r.Context(), src)
	if err != nil {
		rt.writeError(w, http.StatusInternalServerError, "upsert failed")
		return
	}

	stored, err := rt.Store.GetSourceByURL(r.Context(), src.PrimaryURL)
	if err != nil {
		rt.writeError(w, http.StatusInternalServerError, "reload failed")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	rt.writeJSON(w, status, viewOf(stored))
}

func (rt *router) pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil
}

func (rt *router) handleUpdateSource(w http.ResponseWriter, r *http.Request) {
	id, ok := rt.pathID(r)
	if !ok {
		rt.writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var p sourcePayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		rt.writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	err := rt.Store.UpdateSource(r.Context(), id, storage.SourceUpdate{
		DisplayName: p.DisplayName,
		Email:       p.Email,
		Building:    p.Building,
		Room:        p.Room,
		ICSURL:      p.ICSURL,
		Color:       p.Color,
		Enabled:     p.Enabled,
	})
	if errors.Is(err, storage.ErrNotFound) {
		rt.writeError(w, http.StatusNotFound, "source not found")
		return
	}
	if err != nil {
		rt.writeError(w, http.StatusInternalServerError, "update failed")
		return
	}

	src, err := rt.Store.GetSource(r.Context(), id)
	if err != nil {
		rt.writeError(w, http.StatusInternalServerError, "reload failed")
		return
	}
	rt.writeJSON(w, http.StatusOK, viewOf(src))
}

func (rt *router) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	id, ok := rt.pathID(r)
	if !ok {
		rt.writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	err := rt.Store.DeleteSource(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		rt.writeError(w, http.StatusNotFound, "source not found")
		return
	}
	if err != nil {
		rt.writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *router) handleImportCSV(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, rt.Config.HTTP.MaxCSVBytes)
	defer body.Close()

	res, err := rt.Importer.Import(r.Context(), body)
	if err != nil {
		rt.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rt.writeJSON(w, http.StatusOK, res)
}

type manualEventPayload struct {
	Room        string    `json:"room"`
	Building    string    `json:"building"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

func (rt *router) handleListManualEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseTimeParam(q.Get("from"))
	if err != nil {
		rt.writeError(w, http.StatusBadRequest, "invalid from")
		return
	}
	to, err := parseTimeParam(q.Get("to"))
	if err != nil {
		rt.writeError(w, http.StatusBadRequest, "invalid to")
		return
	}
	switch {
	case from.IsZero() && to.IsZero():
		now := time.Now()
		from = now.AddDate(0, 0, -7)
		to = now.AddDate(0, 0, 7)
	case from.IsZero():
		from = time.Now()
	case to.IsZero():
		to = from.AddDate(0, 0, 7)
	}

	events, err := rt.Store.ListManualEvents(r.Context(), from, to)
	if err != nil {
		rt.writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	if events == nil {
		events = []*storage.ManualEvent{}
	}
	rt.writeJSON(w, http.StatusOK, events)
}

func (rt *router) handleAddManualEvent(w http.ResponseWriter, r *http.Request) {
	var p manualEventPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		rt.writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if p.Room == "" || p.Title == "" {
		rt.writeError(w, http.StatusBadRequest, "room and title required")
		return
	}
	if p.End.Before(p.Start) {
		rt.writeError(w, http.StatusBadRequest, "end before start")
		return
	}

	ev := &storage.ManualEvent{
		Room:        p.Room,
		Building:    p.Building,
		Title:       p.Title,
		Description: p.Description,
		Start:       p.Start,
		End:         p.End,
	}
	if err := rt.Store.AddManualEvent(r.Context(), ev); err != nil {
		rt.writeError(w, http.StatusInternalServerError, "insert failed")
		return
	}
	rt.writeJSON(w, http.StatusCreated, ev)
}

func (rt *router) handleDeleteManualEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := rt.pathID(r)
	if !ok {
		rt.writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	err := rt.Store.DeleteManualEvent(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		rt.writeError(w, http.StatusNotFound, "manual event not found")
		return
	}
	if err != nil {
		rt.writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *router) handleTriggerExtraction(w http.ResponseWriter, r *http.Request) {
	err := rt.Orchestrator.StartAsync()
	if errors.Is(err, extract.ErrAlreadyRunning) {
		rt.writeJSON(w, http.StatusConflict, map[string]string{"status": "already_running"})
		return
	}
	if err != nil {
		rt.writeError(w, http.StatusInternalServerError, "failed to start extraction")
		return
	}
	rt.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (rt *router) handleCleanup(w http.ResponseWriter, r *http.Request) {
	deleted, err := rt.Scheduler.RunRetention(r.Context())
	if err != nil {
		rt.writeError(w, http.StatusInternalServerError, "cleanup failed")
		return
	}
	rt.writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}
