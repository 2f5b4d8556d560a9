// Package httpapi is the HTTP adapter over the dispatch loop: an external poll
// trigger, scheduled-post CRUD, posting-preference management and immediate sends.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	scheduler "github.com/DEEJ4Y/postscheduler"
)

// JobRepo is the job persistence the handlers need.
type JobRepo interface {
	Create(ctx context.Context, job *scheduler.Job) (string, error)
	Get(ctx context.Context, id string) (*scheduler.Job, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*scheduler.Job, error)
	DeleteOwned(ctx context.Context, id, ownerID string) (bool, error)
	CancelOwned(ctx context.Context, id, ownerID string) (bool, error)
}

// PreferenceRepo reads and replaces posting preferences.
type PreferenceRepo interface {
	GetPreferences(ctx context.Context, ownerID string) (*scheduler.PostingPreferences, error)
	SavePreferences(ctx context.Context, ownerID string, prefs *scheduler.PostingPreferences) error
}

// AccountReader loads the OAuth material of an account.
type AccountReader interface {
	GetAccount(ctx context.Context, ownerID string) (*scheduler.Account, error)
}

// TokenSource returns a usable access token, refreshing it when needed.
type TokenSource interface {
	AccessToken(ctx context.Context, acct *scheduler.Account) (string, bool)
}

// Poller runs a single dispatch pass.
type Poller interface {
	PollOnce(ctx context.Context) (scheduler.PollStats, error)
}

// Options configures the HTTP adapter.
type Options struct {
	Jobs        JobRepo
	Preferences PreferenceRepo
	Poller      Poller
	Generator   scheduler.Generator
	Sessions    *JWT

	// Accounts, Tokens and Poster back the immediate send.
	Accounts AccountReader
	Tokens   TokenSource
	Poster   scheduler.Poster

	// TriggerToken guards the poll trigger when set.
	TriggerToken string

	// MaxAttempts is stamped on created jobs. Default: 3.
	MaxAttempts int

	Logger *slog.Logger
	Now    func() time.Time
}

// Handler serves the API.
type Handler struct {
	opts     Options
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewHandler applies defaults to opts.
func NewHandler(opts Options) *Handler {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{
		opts:     opts,
		validate: newValidator(),
		logger:   opts.Logger,
		now:      opts.Now,
	}
}

// NewRouter mounts every route.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api/scheduler", func(r chi.Router) {
		r.With(h.requireTrigger).Post("/run", h.Run)

		r.Group(func(r chi.Router) {
			r.Use(RequireSession(h.opts.Sessions))

			r.Post("/generate", h.Generate)
			r.Post("/create", h.CreateJob)
			r.Get("/list", h.ListJobs)
			r.Delete("/delete/{id}", h.DeleteJob)
			r.Post("/cancel/{id}", h.CancelJob)
		})
	})

	r.With(RequireSession(h.opts.Sessions)).Post("/api/tweet", h.PostNow)

	r.Route("/api/profile", func(r chi.Router) {
		r.Use(RequireSession(h.opts.Sessions))

		r.Get("/", h.GetProfile)
		r.Post("/", h.SaveProfile)
	})

	return r
}
