// Package security implements the orchestrator's robot-facing auth surface:
// opaque bearer tokens with scopes and TTLs, HMAC message signing, and
// per-identity rate limiting.
package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"sync"
	"time"

	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/orcherr"
)

// DefaultTokenTTL is the lifetime a newly issued token gets when the caller
// does not specify one.
const DefaultTokenTTL = 24 * time.Hour

// tokenByteLen is the amount of entropy backing each opaque token, encoded
// URL-safe base64 without padding.
const tokenByteLen = 32

// Token is an issued credential bound to a robot identity and a set of
// scopes, expiring after TTL.
type Token struct {
	Value     string
	RobotID   string
	Scopes    []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func (t Token) expired(now time.Time) bool { return !now.Before(t.ExpiresAt) }

// HasScope reports whether the token carries the given scope.
func (t Token) HasScope(scope string) bool {
	for _, s := range t.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// TokenManager issues, validates and revokes opaque bearer tokens. Lookups
// are exact map lookups by token value; expired tokens are pruned when
// Validate meets them and by Sweep.
type TokenManager struct {
	mu     sync.Mutex
	tokens map[string]Token
	now    func() time.Time
}

// NewTokenManager builds an empty TokenManager.
func NewTokenManager() *TokenManager {
	return &TokenManager{tokens: make(map[string]Token), now: time.Now}
}

// Issue generates a new opaque token for robotID with the given scopes. A
// ttl of zero uses DefaultTokenTTL.
func (m *TokenManager) Issue(robotID string, scopes []string, ttl time.Duration) (Token, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	value, err := randomToken()
	if err != nil {
		return Token{}, orcherr.Fatal("generate token", err)
	}

	now := m.now()
	tok := Token{
		Value:     value,
		RobotID:   robotID,
		Scopes:    append([]string(nil), scopes...),
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	m.mu.Lock()
	m.tokens[value] = tok
	m.mu.Unlock()
	return tok, nil
}

// Validate looks up a token value, rejecting it if unknown or expired. The
// comparison against the stored map key is a Go map lookup (O(1) exact
// match); callers that receive tokens from an untrusted wire should prefer
// comparing the resulting Token.Value with ConstantTimeEquals before acting
// on scope claims extracted from client-supplied data.
func (m *TokenManager) Validate(value string) (Token, error) {
	m.mu.Lock()
	tok, ok := m.tokens[value]
	if ok && tok.expired(m.now()) {
		delete(m.tokens, value)
		ok = false
	}
	m.mu.Unlock()

	if !ok {
		return Token{}, orcherr.Validation(orcherr.CodeTokenExpired, "token not found or expired")
	}
	return tok, nil
}

// Revoke removes a single token by value.
func (m *TokenManager) Revoke(value string) {
	m.mu.Lock()
	delete(m.tokens, value)
	m.mu.Unlock()
}

// RevokeRobot removes every token issued to a robot, e.g. on deregistration.
func (m *TokenManager) RevokeRobot(robotID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for v, tok := range m.tokens {
		if tok.RobotID == robotID {
			delete(m.tokens, v)
			n++
		}
	}
	return n
}

// Sweep removes expired tokens without requiring a Validate call, intended
// for a periodic background tick so revoked/expired credentials don't
// linger in memory.
func (m *TokenManager) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for v, tok := range m.tokens {
		if tok.expired(now) {
			delete(m.tokens, v)
			n++
		}
	}
	return n
}

// Count returns the number of currently tracked (not yet swept) tokens.
func (m *TokenManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

func randomToken() (string, error) {
	buf := make([]byte, tokenByteLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ConstantTimeEquals compares two token values in constant time, for use
// when a value arrives from client input and must be checked against a
// known-good value without leaking timing information.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
