package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	scheduler "github.com/DEEJ4Y/postscheduler"
)

const (
	DefaultAPIBaseURL = "https://api.twitter.com"
	tweetsPath        = "/2/tweets"
	maxBodyBytes      = 1 << 20
)

// Poster publishes tweets through the X API v2.
type Poster struct {
	client  *http.Client
	baseURL string
}

// NewPoster creates a poster. An empty baseURL targets the public API.
func NewPoster(client *http.Client, baseURL string) *Poster {
	if client == nil {
		client = NewHTTPClient("x-api", DefaultTimeout, "")
	}
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}
	return &Poster{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// Post implements scheduler.Poster. Non-2xx replies are returned as an
// unsuccessful result with the raw body.
func (p *Poster) Post(ctx context.Context, accessToken, text string) (*scheduler.PostResult, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("encode tweet: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+tweetsPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build tweet request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post tweet: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read tweet response: %w", err)
	}
	return &scheduler.PostResult{
		Success:    resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode: resp.StatusCode,
		Body:       body,
	}, nil
}
