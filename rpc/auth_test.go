package rpc

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"plenum/core"
)

func signToken(t *testing.T, secret, subject string, role core.Role) string {
	t.Helper()
	claims := jwt.MapClaims{
		"role": string(role),
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	if subject != "" {
		claims["sub"] = subject
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestVerify(t *testing.T) {
	auth := NewAuthenticator("test-secret")

	identity, err := auth.Verify(signToken(t, "test-secret", "alice", core.RoleVoter))
	require.NoError(t, err)
	require.Equal(t, Identity{Subject: "alice", Role: core.RoleVoter}, identity)

	_, err = auth.Verify(signToken(t, "wrong-secret", "alice", core.RoleVoter))
	require.Error(t, err)

	_, err = auth.Verify(signToken(t, "test-secret", "alice", core.Role("admin")))
	require.Error(t, err)

	// Non-public roles require a subject.
	_, err = auth.Verify(signToken(t, "test-secret", "", core.RoleController))
	require.Error(t, err)

	// Anonymous public tokens are fine.
	identity, err = auth.Verify(signToken(t, "test-secret", "", core.RolePublic))
	require.NoError(t, err)
	require.Equal(t, core.RolePublic, identity.Role)
}

func TestVerifyRejectsUnsignedAlg(t *testing.T) {
	auth := NewAuthenticator("test-secret")
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub":  "alice",
		"role": string(core.RoleController),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = auth.Verify(unsigned)
	require.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/v1/chambers/c/stream", nil)
	require.Empty(t, bearerToken(r))

	r.Header.Set("Authorization", "Bearer abc")
	require.Equal(t, "abc", bearerToken(r))

	// Websocket upgrades cannot carry headers from browsers, so the query
	// parameter form must work too.
	r = httptest.NewRequest("GET", "/v1/chambers/c/stream?token=xyz", nil)
	require.Equal(t, "xyz", bearerToken(r))
}
