package cluster

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// TokenManager issues and validates time-limited join tokens, gating who
// may become a Raft voter in this cluster.
type TokenManager struct {
	mu     sync.RWMutex
	tokens map[string]*JoinToken
}

// JoinToken authorizes a single node to join the cluster in a given role
// until ExpiresAt.
type JoinToken struct {
	Token     string
	Role      string
	CreatedAt time.Time
	ExpiresAt time.Time
}

func NewTokenManager() *TokenManager {
	return &TokenManager{tokens: make(map[string]*JoinToken)}
}

// GenerateToken creates and stores a new random join token.
func (tm *TokenManager) GenerateToken(role string, duration time.Duration) (*JoinToken, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generating random token: %w", err)
	}

	jt := &JoinToken{
		Token:     hex.EncodeToString(raw),
		Role:      role,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(duration),
	}

	tm.mu.Lock()
	tm.tokens[jt.Token] = jt
	tm.mu.Unlock()
	return jt, nil
}

// ValidateToken returns the role authorized by token, or an error if it is
// unknown or expired.
func (tm *TokenManager) ValidateToken(token string) (string, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	jt, ok := tm.tokens[token]
	if !ok {
		return "", fmt.Errorf("invalid token")
	}
	if time.Now().After(jt.ExpiresAt) {
		return "", fmt.Errorf("token expired")
	}
	return jt.Role, nil
}

// RevokeToken invalidates a token before its natural expiry.
func (tm *TokenManager) RevokeToken(token string) {
	tm.mu.Lock()
	delete(tm.tokens, token)
	tm.mu.Unlock()
}

// CleanupExpiredTokens prunes expired entries so the map doesn't grow
// unbounded across a long-lived cluster.
func (tm *TokenManager) CleanupExpiredTokens() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	now := time.Now()
	for token, jt := range tm.tokens {
		if now.After(jt.ExpiresAt) {
			delete(tm.tokens, token)
		}
	}
}
