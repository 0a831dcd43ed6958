package jwtmiddleware_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/linemk/shop-orders/internal/domain/models"
	security "github.com/linemk/shop-orders/internal/jwt-new"
	"github.com/linemk/shop-orders/internal/jwt-new/jwtmiddleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "testsecret"

// echoUserID отвечает id пользователя из контекста
func echoUserID() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			http.Error(w, "userID not found", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(strconv.FormatInt(userID, 10)))
	})
}

func serve(t *testing.T, authHeader string) *httptest.ResponseRecorder {
	t.Helper()
	handler := jwtmiddleware.NewJWTMiddleware(testSecret)(echoUserID())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestJWTMiddleware_MissingAuthorization(t *testing.T) {
	rr := serve(t, "")

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), "missing token")
}

func TestJWTMiddleware_InvalidAuthorizationFormat(t *testing.T) {
	rr := serve(t, "InvalidFormat")

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid token format")
}

func TestJWTMiddleware_InvalidToken(t *testing.T) {
	rr := serve(t, "Bearer invalid.token.value")

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid token")
}

func TestJWTMiddleware_WrongSecret(t *testing.T) {
	token, err := security.NewToken(&models.User{ID: 7, Username: "bob"}, time.Hour, "other-secret")
	require.NoError(t, err)

	rr := serve(t, "Bearer "+token)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	token, err := security.NewToken(&models.User{ID: 7, Username: "bob"}, -time.Minute, testSecret)
	require.NoError(t, err)

	rr := serve(t, "Bearer "+token)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestJWTMiddleware_UnexpectedSigningMethod(t *testing.T) {
	claims := jwt.MapClaims{"sub": "123"}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	rr := serve(t, "Bearer "+token)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestJWTMiddleware_InvalidSubject(t *testing.T) {
	claims := jwt.MapClaims{"sub": "not-a-number"}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	rr := serve(t, "Bearer "+token)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid user id")
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	// Токен для userID=123, выданный так же, как в AuthService.
	token, err := security.NewToken(&models.User{ID: 123, Username: "alice"}, time.Hour, testSecret)
	require.NoError(t, err)

	rr := serve(t, fmt.Sprintf("Bearer %s", token))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "123", rr.Body.String())
}

func TestJWTMiddleware_EmptySecretPanics(t *testing.T) {
	assert.Panics(t, func() {
		jwtmiddleware.NewJWTMiddleware("")
	})
}

func TestFromContext(t *testing.T) {
	ctx := jwtmiddleware.WithUserID(context.Background(), 456)
	userID, ok := jwtmiddleware.FromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, int64(456), userID)

	_, ok = jwtmiddleware.FromContext(context.Background())
	assert.False(t, ok)
}
