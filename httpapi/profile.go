package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	scheduler "github.com/DEEJ4Y/postscheduler"
)

type windowReq struct {
	Start string `json:"start" validate:"hhmm"`
	End   string `json:"end" validate:"hhmm"`
}

type preferencesReq struct {
	Windows    []windowReq `json:"windows" validate:"dive"`
	Tone       string      `json:"tone"`
	Topics     []string    `json:"topics"`
	DailyLimit *int        `json:"dailyLimit" validate:"omitempty,gte=0"`
	Timezone   string      `json:"timezone" validate:"omitempty,timezone"`
}

type saveProfileReq struct {
	PostingPreferences *preferencesReq `json:"postingPreferences" validate:"required"`
}

type preferencesView struct {
	Windows    []scheduler.Window `json:"windows"`
	Tone       string             `json:"tone,omitempty"`
	Topics     []string           `json:"topics"`
	DailyLimit *int               `json:"dailyLimit"`
	Timezone   string             `json:"timezone,omitempty"`
}

func newPreferencesView(p *scheduler.PostingPreferences) preferencesView {
	v := preferencesView{Windows: []scheduler.Window{}, Topics: []string{}}
	if p == nil {
		return v
	}
	if p.Windows != nil {
		v.Windows = p.Windows
	}
	if p.Topics != nil {
		v.Topics = p.Topics
	}
	v.Tone, v.DailyLimit, v.Timezone = p.Tone, p.DailyLimit, p.Timezone
	return v
}

// GetProfile handles GET /api/profile.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFromContext(r.Context())

	prefs, err := h.opts.Preferences.GetPreferences(r.Context(), sess.Subject)
	if err != nil {
		h.logger.Error("load preferences", "owner", sess.Subject, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"profile": map[string]any{
			"xUserId":            sess.Subject,
			"postingPreferences": newPreferencesView(prefs),
		},
	})
}

// SaveProfile handles POST /api/profile. The preferences are replaced as a whole.
func (h *Handler) SaveProfile(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFromContext(r.Context())

	var req saveProfileReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if req.PostingPreferences == nil {
		writeError(w, http.StatusBadRequest, "missing_postingPreferences")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeErrorDetail(w, http.StatusBadRequest, "invalid_request", validationDetail(err))
		return
	}

	in := req.PostingPreferences
	prefs := &scheduler.PostingPreferences{
		Windows:    make([]scheduler.Window, 0, len(in.Windows)),
		DailyLimit: in.DailyLimit,
		Tone:       in.Tone,
		Topics:     in.Topics,
		Timezone:   in.Timezone,
	}
	if prefs.Tone == "" {
		prefs.Tone = "neutral"
	}
	if prefs.Topics == nil {
		prefs.Topics = []string{}
	}
	for _, win := range in.Windows {
		prefs.Windows = append(prefs.Windows, scheduler.Window{Start: win.Start, End: win.End})
	}

	err := h.opts.Preferences.SavePreferences(r.Context(), sess.Subject, prefs)
	if errors.Is(err, scheduler.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user_not_found")
		return
	}
	if err != nil {
		h.logger.Error("save preferences", "owner", sess.Subject, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"profile": map[string]any{"postingPreferences": newPreferencesView(prefs)},
	})
}
