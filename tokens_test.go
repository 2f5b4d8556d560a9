package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestRefresher(accounts AccountStore, exchanger TokenExchanger, now time.Time) *TokenRefresher {
	r := NewTokenRefresher(accounts, prefixVault{}, exchanger, 0, nil)
	r.now = func() time.Time { return now }
	return r
}

func TestAccessToken(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)
	almost := now.Add(2 * time.Second)

	t.Run("fresh token is decrypted without refresh", func(t *testing.T) {
		ex := &stubExchanger{}
		r := newTestRefresher(&recordingAccounts{}, ex, now)
		token, ok := r.AccessToken(ctx, &Account{OwnerID: "u", AccessTokenEnc: "enc:at", RefreshTokenEnc: "enc:rt", ExpiresAt: &later})
		if !ok || token != "at" {
			t.Errorf("expected at, got %q %v", token, ok)
		}
		if ex.calls != 0 {
			t.Error("unexpected refresh")
		}
	})

	t.Run("unknown expiry counts as fresh", func(t *testing.T) {
		r := newTestRefresher(&recordingAccounts{}, &stubExchanger{}, now)
		if token, ok := r.AccessToken(ctx, &Account{AccessTokenEnc: "enc:at"}); !ok || token != "at" {
			t.Errorf("expected at, got %q %v", token, ok)
		}
	})

	t.Run("token inside margin is refreshed and persisted", func(t *testing.T) {
		newExpiry := now.Add(2 * time.Hour)
		ex := &stubExchanger{grant: &TokenGrant{AccessToken: "at2", RefreshToken: "rt2", Expiry: newExpiry}}
		accounts := &recordingAccounts{}
		r := newTestRefresher(accounts, ex, now)

		token, ok := r.AccessToken(ctx, &Account{OwnerID: "u", AccessTokenEnc: "enc:at", RefreshTokenEnc: "enc:rt", ExpiresAt: &almost})
		if !ok || token != "at2" {
			t.Fatalf("expected at2, got %q %v", token, ok)
		}
		if ex.got != "rt" {
			t.Errorf("expected decrypted refresh token, got %q", ex.got)
		}
		if len(accounts.updates) != 1 {
			t.Fatalf("expected one update, got %d", len(accounts.updates))
		}
		u := accounts.updates[0]
		if u.AccessTokenEnc != "enc:at2" || u.RefreshTokenEnc != "enc:rt2" {
			t.Errorf("unexpected update %+v", u)
		}
		if u.ExpiresAt == nil || !u.ExpiresAt.Equal(newExpiry) {
			t.Errorf("expected expiry %v, got %v", newExpiry, u.ExpiresAt)
		}
	})

	t.Run("omitted refresh token keeps the old one", func(t *testing.T) {
		ex := &stubExchanger{grant: &TokenGrant{AccessToken: "at2"}}
		accounts := &recordingAccounts{}
		r := newTestRefresher(accounts, ex, now)

		if _, ok := r.AccessToken(ctx, &Account{OwnerID: "u", RefreshTokenEnc: "enc:rt"}); !ok {
			t.Fatal("expected token")
		}
		u := accounts.updates[0]
		if u.RefreshTokenEnc != "enc:rt" {
			t.Errorf("expected old refresh token retained, got %q", u.RefreshTokenEnc)
		}
		if u.ExpiresAt != nil {
			t.Errorf("expected no expiry, got %v", u.ExpiresAt)
		}
	})

	t.Run("persist failure still returns the token", func(t *testing.T) {
		ex := &stubExchanger{grant: &TokenGrant{AccessToken: "at2"}}
		r := newTestRefresher(&recordingAccounts{err: errors.New("write failed")}, ex, now)
		if token, ok := r.AccessToken(ctx, &Account{OwnerID: "u", RefreshTokenEnc: "enc:rt"}); !ok || token != "at2" {
			t.Errorf("expected at2, got %q %v", token, ok)
		}
	})

	t.Run("undecryptable access token falls back to refresh", func(t *testing.T) {
		ex := &stubExchanger{grant: &TokenGrant{AccessToken: "at2"}}
		r := newTestRefresher(&recordingAccounts{}, ex, now)
		if token, ok := r.AccessToken(ctx, &Account{AccessTokenEnc: "garbage", RefreshTokenEnc: "enc:rt"}); !ok || token != "at2" {
			t.Errorf("expected at2, got %q %v", token, ok)
		}
	})

	failures := []struct {
		name      string
		acct      *Account
		exchanger TokenExchanger
	}{
		{"nil account", nil, &stubExchanger{}},
		{"expired without refresh token", &Account{AccessTokenEnc: "enc:at", ExpiresAt: &almost}, &stubExchanger{}},
		{"no exchanger", &Account{RefreshTokenEnc: "enc:rt"}, nil},
		{"undecryptable refresh token", &Account{RefreshTokenEnc: "garbage"}, &stubExchanger{grant: &TokenGrant{AccessToken: "x"}}},
		{"exchange error", &Account{RefreshTokenEnc: "enc:rt"}, &stubExchanger{err: errors.New("400 invalid_grant")}},
		{"empty grant", &Account{RefreshTokenEnc: "enc:rt"}, &stubExchanger{grant: &TokenGrant{}}},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRefresher(&recordingAccounts{}, tt.exchanger, now)
			if token, ok := r.AccessToken(ctx, tt.acct); ok || token != "" {
				t.Errorf("expected no token, got %q", token)
			}
		})
	}
}
