package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	scheduler "github.com/DEEJ4Y/postscheduler"
)

// clockSkew is how far in the past a new job may be scheduled.
const clockSkew = 30 * time.Second

type createJobReq struct {
	Text           string `json:"text" validate:"max=280"`
	AIPrompt       string `json:"aiPrompt"`
	GenerateWithAI bool   `json:"generateWithAI"`
	ScheduledAt    string `json:"scheduledAt" validate:"required"`
	Timezone       string `json:"timezone" validate:"omitempty,timezone"`
	Repeat         string `json:"repeat" validate:"omitempty,oneof=none daily"`
}

// jobView is the JSON form of a job, keyed like the stored document.
type jobView struct {
	ID             string                 `json:"_id"`
	UserID         string                 `json:"userId,omitempty"`
	OwnerID        string                 `json:"xUserId"`
	Text           string                 `json:"text"`
	AIPrompt       string                 `json:"aiPrompt"`
	GenerateWithAI bool                   `json:"generateWithAI"`
	ScheduledAt    time.Time              `json:"scheduledAt"`
	Timezone       string                 `json:"timezone"`
	Repeat         scheduler.Repeat       `json:"repeat"`
	Status         scheduler.Status       `json:"status"`
	Attempts       int                    `json:"attempts"`
	MaxAttempts    int                    `json:"maxAttempts"`
	LastError      string                 `json:"lastError,omitempty"`
	PostedAt       *time.Time             `json:"postedAt,omitempty"`
	Response       map[string]interface{} `json:"response,omitempty"`
	CreatedBy      string                 `json:"createdBy,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
	UpdatedAt      time.Time              `json:"updatedAt"`
}

func newJobView(j *scheduler.Job) jobView {
	return jobView{
		ID:             j.ID,
		UserID:         j.UserID,
		OwnerID:        j.OwnerID,
		Text:           j.Text,
		AIPrompt:       j.AIPrompt,
		GenerateWithAI: j.GenerateWithAI,
		ScheduledAt:    j.ScheduledAt,
		Timezone:       j.Timezone,
		Repeat:         j.Repeat,
		Status:         j.Status,
		Attempts:       j.Attempts,
		MaxAttempts:    j.MaxAttempts,
		LastError:      j.LastError,
		PostedAt:       j.PostedAt,
		Response:       j.Response,
		CreatedBy:      j.Meta.CreatedBy,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}

// parseScheduledAt accepts RFC 3339, or a wall-clock time without offset
// interpreted in loc.
func parseScheduledAt(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	var lastErr error
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04"} {
		t, err := time.ParseInLocation(layout, s, loc)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// CreateJob handles POST /api/scheduler/create.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFromContext(r.Context())

	var req createJobReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeErrorDetail(w, http.StatusBadRequest, "invalid_request", validationDetail(err))
		return
	}

	text := strings.TrimSpace(req.Text)
	if !req.GenerateWithAI && text == "" {
		writeError(w, http.StatusBadRequest, "missing_text")
		return
	}
	tz := req.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc := scheduler.ResolveLocation(tz)
	scheduledAt, err := parseScheduledAt(req.ScheduledAt, loc)
	if err != nil {
		writeErrorDetail(w, http.StatusBadRequest, "invalid_scheduledAt_format", "Use ISO datetime (e.g. 2025-12-01T09:30:00.000Z)")
		return
	}
	if !scheduledAt.After(h.now().Add(-clockSkew)) {
		writeError(w, http.StatusBadRequest, "scheduledAt_must_be_future")
		return
	}
	repeat := scheduler.Repeat(req.Repeat)
	if repeat == "" {
		repeat = scheduler.RepeatNone
	}

	var snapshot *scheduler.PostingPreferences
	if h.opts.Preferences != nil {
		snapshot, err = h.opts.Preferences.GetPreferences(r.Context(), sess.Subject)
		if err != nil {
			h.logger.Error("load preferences for snapshot", "owner", sess.Subject, "error", err)
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}
	}

	job := &scheduler.Job{
		UserID:         sess.UserID,
		OwnerID:        sess.Subject,
		Text:           text,
		AIPrompt:       strings.TrimSpace(req.AIPrompt),
		GenerateWithAI: req.GenerateWithAI,
		ScheduledAt:    scheduledAt.UTC(),
		Timezone:       tz,
		Repeat:         repeat,
		Status:         scheduler.StatusPending,
		MaxAttempts:    h.opts.MaxAttempts,
		Meta: scheduler.Meta{
			CreatedBy:   "api/scheduler/create",
			Preferences: snapshot,
		},
	}
	id, err := h.opts.Jobs.Create(r.Context(), job)
	if err != nil {
		h.logger.Error("create job", "owner", sess.Subject, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	created, err := h.opts.Jobs.Get(r.Context(), id)
	if err != nil {
		job.ID = id
		created = job
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "scheduled": newJobView(created)})
}

// ListJobs handles GET /api/scheduler/list.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFromContext(r.Context())

	jobs, err := h.opts.Jobs.ListByOwner(r.Context(), sess.Subject)
	if err != nil {
		h.logger.Error("list jobs", "owner", sess.Subject, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	views := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, newJobView(j))
	}

	var userTimezone any
	if h.opts.Preferences != nil {
		prefs, err := h.opts.Preferences.GetPreferences(r.Context(), sess.Subject)
		if err == nil && prefs != nil && prefs.Timezone != "" {
			userTimezone = prefs.Timezone
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "scheduled": views, "userTimezone": userTimezone})
}

// DeleteJob handles DELETE /api/scheduler/delete/{id}.
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFromContext(r.Context())
	id := chi.URLParam(r, "id")

	ok, err := h.opts.Jobs.DeleteOwned(r.Context(), id, sess.Subject)
	if err != nil {
		h.logger.Error("delete job", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// CancelJob handles POST /api/scheduler/cancel/{id}. Only pending or failed
// jobs can be cancelled.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFromContext(r.Context())
	id := chi.URLParam(r, "id")

	ok, err := h.opts.Jobs.CancelOwned(r.Context(), id, sess.Subject)
	if err != nil {
		h.logger.Error("cancel job", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !ok {
		job, err := h.opts.Jobs.Get(r.Context(), id)
		if errors.Is(err, scheduler.ErrNotFound) || (err == nil && job.OwnerID != sess.Subject) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		writeError(w, http.StatusConflict, "not_cancellable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
