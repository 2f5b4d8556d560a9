package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// DefaultExpiryMargin is how close to expiry a cached access token is still used.
const DefaultExpiryMargin = 5 * time.Second

// TokenRefresher returns usable access tokens, refreshing them when needed.
type TokenRefresher struct {
	accounts  AccountStore
	vault     Vault
	exchanger TokenExchanger
	margin    time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewTokenRefresher creates a refresher. exchanger may be nil, in which case
// expired tokens are never refreshed.
func NewTokenRefresher(accounts AccountStore, vault Vault, exchanger TokenExchanger, margin time.Duration, logger *slog.Logger) *TokenRefresher {
	if margin <= 0 {
		margin = DefaultExpiryMargin
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenRefresher{
		accounts:  accounts,
		vault:     vault,
		exchanger: exchanger,
		margin:    margin,
		now:       time.Now,
		logger:    logger,
	}
}

// AccessToken returns a plaintext access token for acct, or false when none can
// be obtained. It never returns an error; failures are logged.
func (r *TokenRefresher) AccessToken(ctx context.Context, acct *Account) (string, bool) {
	if acct == nil {
		return "", false
	}
	log := r.logger.With("owner", acct.OwnerID)

	if acct.AccessTokenEnc != "" && r.fresh(acct.ExpiresAt) {
		token, err := r.vault.Decrypt(acct.AccessTokenEnc)
		if err == nil && token != "" {
			return token, true
		}
		log.Warn("decrypt access token failed, trying refresh", "error", err)
	}

	if acct.RefreshTokenEnc == "" || r.exchanger == nil {
		return "", false
	}
	refreshToken, err := r.vault.Decrypt(acct.RefreshTokenEnc)
	if err != nil {
		log.Error("decrypt refresh token failed", "error", err)
		return "", false
	}

	grant, err := r.exchanger.Refresh(ctx, refreshToken)
	if err != nil {
		log.Error("token refresh failed", "error", err)
		return "", false
	}
	if grant == nil || grant.AccessToken == "" {
		log.Error("token refresh returned no access token")
		return "", false
	}

	// The provider may keep the refresh token; the old one stays valid then.
	newRefresh := grant.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}
	r.persist(ctx, acct.OwnerID, grant.AccessToken, newRefresh, grant.Expiry, log)
	return grant.AccessToken, true
}

func (r *TokenRefresher) fresh(expiresAt *time.Time) bool {
	if expiresAt == nil {
		return true
	}
	return expiresAt.After(r.now().Add(r.margin))
}

// persist stores the refreshed tokens. Failures are logged and the fresh
// access token is still used for the current send.
func (r *TokenRefresher) persist(ctx context.Context, ownerID, access, refresh string, expiry time.Time, log *slog.Logger) {
	accessEnc, err := r.vault.Encrypt(access)
	if err != nil {
		log.Error("encrypt refreshed access token failed", "error", err)
		return
	}
	refreshEnc, err := r.vault.Encrypt(refresh)
	if err != nil {
		log.Error("encrypt refresh token failed", "error", err)
		return
	}
	update := TokenUpdate{AccessTokenEnc: accessEnc, RefreshTokenEnc: refreshEnc}
	if !expiry.IsZero() {
		update.ExpiresAt = &expiry
	}
	if err := r.accounts.UpdateTokens(ctx, ownerID, update); err != nil {
		log.Error("store refreshed tokens failed", "error", err)
	}
}
