// Copyright (C) 2025, PayAttn Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func authRouter(a *Authenticator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(a.Middleware())
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func doAuthed(router *gin.Engine, clientID, token string) int {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if clientID != "" {
		req.Header.Set("X-Client-Id", clientID)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w.Code
}

func TestAuthenticatorAcceptsIssuedToken(t *testing.T) {
	require := require.New(t)

	a := NewAuthenticator([]byte("service secret"), time.Hour)
	require.NotNil(a)
	router := authRouter(a)

	token, err := a.TokenFor("agent-1")
	require.NoError(err)
	require.Equal(http.StatusOK, doAuthed(router, "agent-1", token))

	// Tokens are client-bound.
	require.Equal(http.StatusUnauthorized, doAuthed(router, "agent-2", token))
}

func TestAuthenticatorRejectsBadCredentials(t *testing.T) {
	require := require.New(t)

	a := NewAuthenticator([]byte("service secret"), time.Hour)
	router := authRouter(a)

	require.Equal(http.StatusUnauthorized, doAuthed(router, "", ""))
	require.Equal(http.StatusUnauthorized, doAuthed(router, "agent-1", ""))
	require.Equal(http.StatusUnauthorized, doAuthed(router, "agent-1", "not-hex!"))
	require.Equal(http.StatusUnauthorized, doAuthed(router, "agent-1", "deadbeef"))
}

func TestAuthenticatorNilWithoutSecret(t *testing.T) {
	require.Nil(t, NewAuthenticator(nil, time.Hour))
}
