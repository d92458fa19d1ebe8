// Copyright (C) 2025, PayAttn Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"crypto/hmac"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/payattn/broker/pkg/chain"
)

// Authenticator verifies bearer tokens on the mutation endpoints. Each client
// gets a purpose-bound token derived from the service secret, so leaking one
// client's token never exposes another's. Derived tokens are cached with a
// TTL so a rotated secret propagates without a restart.
type Authenticator struct {
	secret []byte
	keys   *chain.KeyCache
}

// NewAuthenticator creates an authenticator, or nil when no secret is
// configured so the caller can skip the middleware in demo mode.
func NewAuthenticator(secret []byte, ttl time.Duration) *Authenticator {
	if len(secret) == 0 {
		return nil
	}
	return &Authenticator{
		secret: secret,
		keys:   chain.NewKeyCache(1024, ttl),
	}
}

// TokenFor returns the bearer token for a client id. Operators run this out
// of band to issue credentials.
func (a *Authenticator) TokenFor(clientID string) (string, error) {
	raw, err := a.tokenBytes(clientID)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

func (a *Authenticator) tokenBytes(clientID string) ([]byte, error) {
	hash := chain.HashKey([]byte(clientID))
	if material, ok := a.keys.Get(hash); ok {
		return material, nil
	}
	material, err := chain.DeriveKey(a.secret, "api-auth/"+clientID, 32)
	if err != nil {
		return nil, err
	}
	a.keys.Put(hash, material)
	return material, nil
}

// Middleware rejects requests whose bearer token does not match the token
// derived for the X-Client-Id header.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetHeader("X-Client-Id")
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if clientID == "" || !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing credentials"})
			return
		}

		presented, err := hex.DecodeString(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bad token"})
			return
		}
		expected, err := a.tokenBytes(clientID)
		if err != nil || !hmac.Equal(presented, expected) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bad token"})
			return
		}
		c.Next()
	}
}
