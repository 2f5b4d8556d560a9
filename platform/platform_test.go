package platform

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoster_Success(t *testing.T) {
	var gotAuth, gotText string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2/tweets", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		gotAuth = r.Header.Get("Authorization")
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotText = body["text"]
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data":{"id":"1","text":"hello"}}`))
	}))
	defer server.Close()

	p := NewPoster(NewHTTPClient("test", 5*time.Second, "test-agent"), server.URL)
	res, err := p.Post(context.Background(), "tok", "hello")
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, http.StatusCreated, res.StatusCode)
	assert.JSONEq(t, `{"data":{"id":"1","text":"hello"}}`, string(res.Body))
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "hello", gotText)
}

func TestPoster_FailureStatusIsNotAnError(t *testing.T) {
	for _, code := range []int{http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
			w.Write([]byte(`{"title":"nope"}`))
		}))

		p := NewPoster(NewHTTPClient("test", 5*time.Second, ""), server.URL)
		res, err := p.Post(context.Background(), "tok", "hello")
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, code, res.StatusCode)
		assert.Contains(t, string(res.Body), "nope")
		server.Close()
	}
}

func TestBreakerTransport_OpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := &http.Client{Transport: NewBreakerTransport("trip", nil, "")}
	for i := 0; i < 6; i++ {
		resp, err := client.Get(server.URL)
		require.NoError(t, err)
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}

	_, err := client.Get(server.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, int32(6), calls.Load())
}

func TestBreakerTransport_SetsUserAgent(t *testing.T) {
	var ua string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
	}))
	defer server.Close()

	client := &http.Client{Transport: NewBreakerTransport("ua", nil, "postscheduler/1.0")}
	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "postscheduler/1.0", ua)
}

func tokenServer(t *testing.T, check func(r *http.Request), reply string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		check(r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(reply))
	}))
}

func TestOAuthRefresher_ConfidentialClientUsesBasicAuth(t *testing.T) {
	server := tokenServer(t, func(r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "client", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "old-refresh", r.PostForm.Get("refresh_token"))
		assert.Empty(t, r.PostForm.Get("client_id"))
	}, `{"access_token":"new-access","refresh_token":"new-refresh","expires_in":7200,"token_type":"bearer"}`, http.StatusOK)
	defer server.Close()

	r := NewOAuthRefresher(OAuthConfig{TokenURL: server.URL, ClientID: "client", ClientSecret: "secret"}, server.Client())
	before := time.Now()
	grant, err := r.Refresh(context.Background(), "old-refresh")
	require.NoError(t, err)

	assert.Equal(t, "new-access", grant.AccessToken)
	assert.Equal(t, "new-refresh", grant.RefreshToken)
	assert.WithinDuration(t, before.Add(2*time.Hour), grant.Expiry, 10*time.Second)
}

func TestOAuthRefresher_PublicClientSendsClientIDInBody(t *testing.T) {
	server := tokenServer(t, func(r *http.Request) {
		_, _, ok := r.BasicAuth()
		assert.False(t, ok)
		assert.Equal(t, "client", r.PostForm.Get("client_id"))
		assert.Empty(t, r.PostForm.Get("client_secret"))
	}, `{"access_token":"new-access","expires_in":60,"token_type":"bearer"}`, http.StatusOK)
	defer server.Close()

	r := NewOAuthRefresher(OAuthConfig{TokenURL: server.URL, ClientID: "client"}, server.Client())
	grant, err := r.Refresh(context.Background(), "old-refresh")
	require.NoError(t, err)

	assert.Equal(t, "new-access", grant.AccessToken)
	assert.Empty(t, grant.RefreshToken, "omitted refresh token must not be reported as rotated")
}

func TestOAuthRefresher_ErrorStatus(t *testing.T) {
	server := tokenServer(t, func(*http.Request) {}, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	defer server.Close()

	r := NewOAuthRefresher(OAuthConfig{TokenURL: server.URL, ClientID: "client"}, server.Client())
	_, err := r.Refresh(context.Background(), "old-refresh")
	assert.Error(t, err)
}
