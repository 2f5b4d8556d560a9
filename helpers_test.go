package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// mapCounters is a CounterStore over a map.
type mapCounters struct {
	mu     sync.Mutex
	counts map[string]int
	err    error
}

func newMapCounters() *mapCounters {
	return &mapCounters{counts: make(map[string]int)}
}

func (c *mapCounters) Increment(_ context.Context, ownerID, dayKey string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[ownerID+"|"+dayKey]++
	return c.counts[ownerID+"|"+dayKey], nil
}

func (c *mapCounters) Count(_ context.Context, ownerID, dayKey string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	return c.counts[ownerID+"|"+dayKey], nil
}

// prefixVault "encrypts" by prefixing, so tests can read stored values.
type prefixVault struct{}

func (prefixVault) Encrypt(s string) (string, error) {
	return "enc:" + s, nil
}

func (prefixVault) Decrypt(s string) (string, error) {
	if !strings.HasPrefix(s, "enc:") {
		return "", errors.New("malformed ciphertext")
	}
	return strings.TrimPrefix(s, "enc:"), nil
}

// recordingAccounts is an AccountStore that keeps the last update.
type recordingAccounts struct {
	mu      sync.Mutex
	updates []TokenUpdate
	err     error
}

func (a *recordingAccounts) GetAccount(context.Context, string) (*Account, error) {
	return nil, ErrNotFound
}

func (a *recordingAccounts) UpdateTokens(_ context.Context, _ string, u TokenUpdate) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.updates = append(a.updates, u)
	return a.err
}

// stubExchanger returns a fixed grant.
type stubExchanger struct {
	calls int
	got   string
	grant *TokenGrant
	err   error
}

func (e *stubExchanger) Refresh(_ context.Context, refreshToken string) (*TokenGrant, error) {
	e.calls++
	e.got = refreshToken
	return e.grant, e.err
}

// stubGenerator returns a fixed completion.
type stubGenerator struct {
	calls  int
	prompt string
	out    string
	err    error
}

func (g *stubGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.calls++
	g.prompt = prompt
	return g.out, g.err
}

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func intPtr(n int) *int {
	return &n
}
