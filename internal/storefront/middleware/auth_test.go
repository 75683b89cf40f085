package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/25x8/digital-storefront/internal/storefront/models"
	"github.com/25x8/digital-storefront/internal/storefront/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthMiddleware(t *testing.T) {
	repo := repository.NewMemoryRepository()
	user := &models.User{Login: "alice", ChatID: 1}
	require.NoError(t, repo.CreateUser(context.Background(), user))

	valid, err := GenerateToken(user.ID, "secret")
	require.NoError(t, err)
	forged, err := GenerateToken(user.ID, "other")
	require.NoError(t, err)
	ghost, err := GenerateToken(user.ID+100, "secret")
	require.NoError(t, err)

	var gotID int64
	h := AuthMiddleware(&JWTConfig{SecretKey: "secret", Repo: repo})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = GetUserID(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		cookie string
		want   int
	}{
		{name: "bearer", header: "Bearer " + valid, want: http.StatusOK},
		{name: "cookie", cookie: valid, want: http.StatusOK},
		{name: "missing", want: http.StatusUnauthorized},
		{name: "wrong secret", header: "Bearer " + forged, want: http.StatusUnauthorized},
		{name: "unknown user", header: "Bearer " + ghost, want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotID = 0
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: authCookieName, Value: tt.cookie})
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, user.ID, gotID)
			}
		})
	}
}

func TestAdminMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	for _, tc := range []struct {
		configured, sent string
		want             int
	}{
		{"admin-token", "admin-token", http.StatusOK},
		{"admin-token", "guess", http.StatusUnauthorized},
		{"", "", http.StatusUnauthorized},
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(AdminTokenHeader, tc.sent)
		rec := httptest.NewRecorder()
		AdminMiddleware(tc.configured)(ok).ServeHTTP(rec, req)
		assert.Equal(t, tc.want, rec.Code)
	}
}
