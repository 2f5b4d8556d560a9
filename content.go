package scheduler

import (
	"context"
	"fmt"
	"strings"
)

// MaxPostLength is the platform limit on post length, in characters.
const MaxPostLength = 280

const (
	defaultTopic = "technology"
	defaultTone  = "neutral"
)

// ContentResolver determines the final text of a job.
type ContentResolver struct {
	generator Generator
	maxLength int
}

// NewContentResolver creates a resolver. generator may be nil, in which case
// jobs without literal text cannot be resolved.
func NewContentResolver(generator Generator, maxLength int) *ContentResolver {
	if maxLength <= 0 {
		maxLength = MaxPostLength
	}
	return &ContentResolver{generator: generator, maxLength: maxLength}
}

// Resolve returns literal text when present, otherwise generated text when the
// job permits generation. An empty result is ErrEmptyText.
func (r *ContentResolver) Resolve(ctx context.Context, job *Job, prefs *PostingPreferences) (string, error) {
	if text := strings.TrimSpace(job.Text); text != "" {
		return job.Text, nil
	}
	if !job.GenerateWithAI {
		return "", ErrEmptyText
	}
	if r.generator == nil {
		return "", &GenerationError{Err: ErrGeneratorAbsent}
	}

	out, err := r.generator.Generate(ctx, BuildPrompt(job.AIPrompt, prefs))
	if err != nil {
		return "", &GenerationError{Err: err}
	}
	text := truncate(strings.TrimSpace(out), r.maxLength)
	if text == "" {
		return "", ErrEmptyText
	}
	return text, nil
}

// BuildPrompt returns the job prompt, or one synthesized from preferences.
func BuildPrompt(jobPrompt string, prefs *PostingPreferences) string {
	if p := strings.TrimSpace(jobPrompt); p != "" {
		return p
	}
	topic, tone := defaultTopic, defaultTone
	if prefs != nil {
		if len(prefs.Topics) > 0 {
			topic = strings.Join(prefs.Topics, ", ")
		}
		if t := strings.TrimSpace(prefs.Tone); t != "" {
			tone = t
		}
	}
	return fmt.Sprintf("Write a short tweet about %s. Tone: %s.", topic, tone)
}

// truncate cuts s to at most n runes, trimming any trailing space left by the cut.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimSpace(string(runes[:n]))
}
