package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestContentResolver(t *testing.T) {
	ctx := context.Background()

	t.Run("literal text is used verbatim", func(t *testing.T) {
		gen := &stubGenerator{out: "unused"}
		text, err := NewContentResolver(gen, 0).Resolve(ctx, &Job{Text: "hello world", GenerateWithAI: true}, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if text != "hello world" {
			t.Errorf("expected literal text, got %q", text)
		}
		if gen.calls != 0 {
			t.Error("generator should not be called for literal text")
		}
	})

	t.Run("blank text without generation is empty_text", func(t *testing.T) {
		_, err := NewContentResolver(nil, 0).Resolve(ctx, &Job{Text: "   "}, nil)
		if !errors.Is(err, ErrEmptyText) {
			t.Errorf("expected ErrEmptyText, got %v", err)
		}
		if failureReason(err) != ReasonEmptyText {
			t.Errorf("expected reason %q, got %q", ReasonEmptyText, failureReason(err))
		}
	})

	t.Run("generation uses the job prompt and trims", func(t *testing.T) {
		gen := &stubGenerator{out: "  Coffee first.  \n"}
		text, err := NewContentResolver(gen, 0).Resolve(ctx, &Job{GenerateWithAI: true, AIPrompt: "tweet about coffee"}, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if text != "Coffee first." {
			t.Errorf("expected trimmed text, got %q", text)
		}
		if gen.prompt != "tweet about coffee" || gen.calls != 1 {
			t.Errorf("expected one call with job prompt, got %d calls with %q", gen.calls, gen.prompt)
		}
	})

	t.Run("generated text is truncated by characters", func(t *testing.T) {
		gen := &stubGenerator{out: strings.Repeat("é", 300)}
		text, err := NewContentResolver(gen, 0).Resolve(ctx, &Job{GenerateWithAI: true}, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n := len([]rune(text)); n != MaxPostLength {
			t.Errorf("expected %d characters, got %d", MaxPostLength, n)
		}
	})

	t.Run("empty generation is empty_text", func(t *testing.T) {
		gen := &stubGenerator{out: "   "}
		_, err := NewContentResolver(gen, 0).Resolve(ctx, &Job{GenerateWithAI: true}, nil)
		if !errors.Is(err, ErrEmptyText) {
			t.Errorf("expected ErrEmptyText, got %v", err)
		}
	})

	t.Run("generator failure is ai_error", func(t *testing.T) {
		gen := &stubGenerator{err: errors.New("rate limited")}
		_, err := NewContentResolver(gen, 0).Resolve(ctx, &Job{GenerateWithAI: true}, nil)
		var genErr *GenerationError
		if !errors.As(err, &genErr) {
			t.Fatalf("expected GenerationError, got %v", err)
		}
		if got := failureReason(err); got != "ai_error: rate limited" {
			t.Errorf("unexpected reason %q", got)
		}
	})

	t.Run("missing generator is ai_error", func(t *testing.T) {
		_, err := NewContentResolver(nil, 0).Resolve(ctx, &Job{GenerateWithAI: true}, nil)
		if !errors.Is(err, ErrGeneratorAbsent) {
			t.Errorf("expected ErrGeneratorAbsent, got %v", err)
		}
	})
}

func TestBuildPrompt(t *testing.T) {
	tests := []struct {
		name   string
		prompt string
		prefs  *PostingPreferences
		want   string
	}{
		{"job prompt wins", " tweet about coffee ", &PostingPreferences{Topics: []string{"go"}}, "tweet about coffee"},
		{"no preferences", "", nil, "Write a short tweet about technology. Tone: neutral."},
		{"topics and tone", "", &PostingPreferences{Topics: []string{"go", "databases"}, Tone: "witty"}, "Write a short tweet about go, databases. Tone: witty."},
		{"tone only", "", &PostingPreferences{Tone: "calm"}, "Write a short tweet about technology. Tone: calm."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildPrompt(tt.prompt, tt.prefs); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestFailureReasons(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrNoAccount, ReasonNoAccount},
		{ErrNoAccessToken, ReasonNoAccessToken},
		{&SendError{StatusCode: 403, Body: `{"detail":"forbidden"}`}, `post_error: 403 {"detail":"forbidden"}`},
		{&SendError{Err: errors.New("connection reset")}, "post_error: connection reset"},
		{errors.New("boom"), "boom"},
	}
	for _, tt := range tests {
		if got := failureReason(tt.err); got != tt.want {
			t.Errorf("failureReason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
