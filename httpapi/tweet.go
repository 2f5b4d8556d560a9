package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	scheduler "github.com/DEEJ4Y/postscheduler"
)

type tweetReq struct {
	Text string `json:"text"`
}

// PostNow handles POST /api/tweet: an immediate send for the session's
// account, outside the dispatch loop.
func (h *Handler) PostNow(w http.ResponseWriter, r *http.Request) {
	if h.opts.Accounts == nil || h.opts.Tokens == nil || h.opts.Poster == nil {
		writeError(w, http.StatusServiceUnavailable, "posting_unavailable")
		return
	}
	sess, _ := SessionFromContext(r.Context())

	var req tweetReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if utf8.RuneCountInString(text) > scheduler.MaxPostLength {
		writeError(w, http.StatusBadRequest, "text_too_long")
		return
	}

	log := h.logger.With("owner", sess.Subject)
	acct, err := h.opts.Accounts.GetAccount(r.Context(), sess.Subject)
	if err != nil && !errors.Is(err, scheduler.ErrNotFound) {
		log.Error("load account failed", "error", err)
		writeErrorDetail(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	token, ok := "", false
	if acct != nil {
		token, ok = h.opts.Tokens.AccessToken(r.Context(), acct)
	}
	if !ok {
		writeErrorDetail(w, http.StatusForbidden, "no_valid_token", "Please re-authenticate")
		return
	}

	res, err := h.opts.Poster.Post(r.Context(), token, text)
	if err != nil {
		log.Error("tweet send failed", "error", err)
		writeErrorDetail(w, http.StatusBadGateway, "tweet_create_failed", err.Error())
		return
	}
	if !res.Success {
		log.Warn("tweet rejected", "status", res.StatusCode)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"ok":     false,
			"error":  "tweet_create_failed",
			"status": res.StatusCode,
			"body":   string(res.Body),
		})
		return
	}

	var tweet any
	if err := json.Unmarshal(res.Body, &tweet); err != nil {
		tweet = string(res.Body)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tweet": tweet})
}
