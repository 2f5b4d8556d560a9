package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	scheduler "github.com/DEEJ4Y/postscheduler"
)

const defaultGeneratePrompt = "Write a short tweet about developer productivity"

// requireTrigger checks the bearer trigger token when one is configured.
func (h *Handler) requireTrigger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := h.opts.TriggerToken
		if want != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				writeError(w, http.StatusUnauthorized, "not_authenticated")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Run handles POST /api/scheduler/run by running one dispatch pass.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	if h.opts.Poller == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler_unavailable")
		return
	}
	stats, err := h.opts.Poller.PollOnce(r.Context())
	if err != nil {
		h.logger.Error("triggered poll failed", "error", err)
		writeErrorDetail(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "processed": stats.Posted, "stats": stats})
}

type generateReq struct {
	Prompt string `json:"prompt"`
}

// Generate handles POST /api/scheduler/generate.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	if h.opts.Generator == nil {
		writeError(w, http.StatusServiceUnavailable, "generator_unavailable")
		return
	}

	var req generateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		prompt = defaultGeneratePrompt
	}

	text, err := h.opts.Generator.Generate(r.Context(), prompt)
	if err != nil {
		h.logger.Warn("generation failed", "error", err)
		writeErrorDetail(w, http.StatusBadGateway, scheduler.ReasonAIError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "text": strings.TrimSpace(text)})
}
