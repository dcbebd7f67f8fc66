package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKID    = "docsage-test"
	testIssuer = "https://id.docsage.test"
)

func newTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func jwksJSON(t *testing.T, pub *rsa.PublicKey) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"kid": testKID,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
	require.NoError(t, err)
	return data
}

func newTestVerifier(t *testing.T, key *rsa.PrivateKey) *Verifier {
	t.Helper()
	kf, err := keyfunc.NewJWKSetJSON(jwksJSON(t, &key.PublicKey))
	require.NoError(t, err)
	return NewVerifierWithKeyfunc(kf, Config{Issuer: testIssuer})
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = testKID
	s, err := tok.SignedString(key)
	require.NoError(t, err)
	return s
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub": "user-42",
		"iss": testIssuer,
		"exp": jwt.NewNumericDate(time.Now().Add(time.Hour)),
		"iat": jwt.NewNumericDate(time.Now()),
	}
}

func serve(t *testing.T, h http.Handler, authHeader string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/v1/conversations", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestVerify(t *testing.T) {
	key := newTestKey(t)
	v := newTestVerifier(t, key)
	ctx := t.Context()

	claims, err := v.Verify(ctx, signToken(t, key, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "user-42", claims.UserID())

	c := validClaims()
	delete(c, "sub")
	c["username"] = "alice"
	claims, err = v.Verify(ctx, signToken(t, key, c))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID())
}

func TestVerify_Rejects(t *testing.T) {
	key := newTestKey(t)
	other := newTestKey(t)
	v := newTestVerifier(t, key)

	expired := validClaims()
	expired["exp"] = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	wrongIssuer := validClaims()
	wrongIssuer["iss"] = "https://evil.test"
	noExp := validClaims()
	delete(noExp, "exp")
	noSubject := validClaims()
	delete(noSubject, "sub")

	tests := []struct {
		name  string
		token string
	}{
		{"expired", signToken(t, key, expired)},
		{"wrong issuer", signToken(t, key, wrongIssuer)},
		{"missing exp", signToken(t, key, noExp)},
		{"no subject", signToken(t, key, noSubject)},
		{"wrong key", signToken(t, other, validClaims())},
		{"garbage", "not.a.token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(t.Context(), tt.token)
			assert.Error(t, err)
		})
	}
}

func TestMiddleware(t *testing.T) {
	key := newTestKey(t)
	v := newTestVerifier(t, key)

	var seen string
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := serve(t, h, "Bearer "+signToken(t, key, validClaims()))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "user-42", seen)

	for _, header := range []string{"", "Basic abc", "Bearer ", "Bearer garbage"} {
		rec := serve(t, h, header)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
		assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))

		var body struct {
			Error struct {
				Kind string `json:"kind"`
			} `json:"error"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "Unauthorized", body.Error.Kind)
	}
}

func TestDevMiddleware(t *testing.T) {
	var seen string
	h := DevMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(DevUserHeader, "u1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", seen)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUserFromContext(t *testing.T) {
	_, ok := UserFromContext(t.Context())
	assert.False(t, ok)

	user, ok := UserFromContext(WithUser(t.Context(), "u9"))
	assert.True(t, ok)
	assert.Equal(t, "u9", user)
}
