package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgate/authgate/internal/token"
)

type errorBody struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

// echoPrincipal answers 200 with the principal's email, or 500 if none is attached.
func echoPrincipal(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(p.Email))
	})
}

func serve(h http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr error
	}{
		{"", "", ErrMissingToken},
		{"Bearer abc.def.ghi", "abc.def.ghi", nil},
		{"Bearer", "", ErrMalformedHeader},
		{"Bearer ", "", ErrMalformedHeader},
		{"bearer abc", "", ErrMalformedHeader},
		{"Basic abc", "", ErrMalformedHeader},
		{"Bearer  abc", "", ErrMalformedHeader},
		{"Bearer abc def", "", ErrMalformedHeader},
		{"abc.def.ghi", "", ErrMalformedHeader},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, err := bearerToken(tt.header)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequireAccess(t *testing.T) {
	env := newTestEnv(t)
	guard := NewGuard(env.service, nil)
	session := env.registerAndLogin(t, "Ana", "ana@x.com")

	t.Run("valid token attaches principal", func(t *testing.T) {
		var called bool
		w := serve(guard.RequireAccess(echoPrincipal(&called)), "Bearer "+session.AccessToken)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "ana@x.com", w.Body.String())
	})

	tests := []struct {
		name       string
		header     string
		wantCode   string
		wantReason bool
	}{
		{"missing header", "", "MISSING_TOKEN", false},
		{"wrong scheme", "Basic " + session.AccessToken, "MALFORMED_HEADER", false},
		{"lowercase scheme", "bearer " + session.AccessToken, "MALFORMED_HEADER", false},
		{"garbage token", "Bearer garbage", "INVALID_TOKEN", true},
		{"refresh token", "Bearer " + session.RefreshToken, "INVALID_TOKEN", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called bool
			w := serve(guard.RequireAccess(echoPrincipal(&called)), tt.header)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.False(t, called, "downstream handler must not run")
			body := decodeError(t, w)
			assert.Equal(t, tt.wantCode, body.Error.Code)
			if tt.wantReason {
				assert.NotEmpty(t, body.Error.Details["reason"])
			}
		})
	}

	t.Run("expired token", func(t *testing.T) {
		env.clock.Advance(16 * time.Minute)
		defer env.clock.Advance(-16 * time.Minute)

		var called bool
		w := serve(guard.RequireAccess(echoPrincipal(&called)), "Bearer "+session.AccessToken)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.False(t, called)
		assert.Contains(t, decodeError(t, w).Error.Details["reason"], "expired")
	})
}

func TestRequireAdmin_Standalone(t *testing.T) {
	env := newTestEnv(t)
	guard := NewGuard(env.service, nil)
	user := env.registerAndLogin(t, "Ana", "ana@x.com")
	admin := env.registerAndLogin(t, "Root", testAdmin)

	t.Run("token problems are forbidden", func(t *testing.T) {
		for _, header := range []string{"", "Token x", "Bearer garbage", "Bearer " + admin.RefreshToken} {
			var called bool
			w := serve(guard.RequireAdmin(echoPrincipal(&called)), header)
			assert.Equal(t, http.StatusForbidden, w.Code, header)
			assert.False(t, called)
		}
	})

	t.Run("non-admin is unauthorized", func(t *testing.T) {
		var called bool
		w := serve(guard.RequireAdmin(echoPrincipal(&called)), "Bearer "+user.AccessToken)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.False(t, called)
		assert.Equal(t, "NOT_AUTHORIZED", decodeError(t, w).Error.Code)
	})

	t.Run("admin passes through", func(t *testing.T) {
		var called bool
		w := serve(guard.RequireAdmin(echoPrincipal(&called)), "Bearer "+admin.AccessToken)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, testAdmin, w.Body.String())
	})
}

func TestRequireAdmin_AfterRequireAccess(t *testing.T) {
	env := newTestEnv(t)
	guard := NewGuard(env.service, nil)
	user := env.registerAndLogin(t, "Ana", "ana@x.com")
	admin := env.registerAndLogin(t, "Root", testAdmin)

	var called bool
	h := guard.RequireAccess(guard.RequireAdmin(echoPrincipal(&called)))

	assert.Equal(t, http.StatusUnauthorized, serve(h, "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(h, "Bearer "+user.AccessToken).Code)
	assert.False(t, called)

	w := serve(h, "Bearer "+admin.AccessToken)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, called)
}

func TestRequireAdmin_NoAdminConfigured(t *testing.T) {
	env := newTestEnv(t)
	env.service.policy.AdminEmail = ""
	guard := NewGuard(env.service, nil)

	// with no administrator configured even the usual admin address is refused
	access, _, err := env.service.codec.Issue(testAdmin, token.KindAccess, time.Minute)
	require.NoError(t, err)

	var called bool
	w := serve(guard.RequireAdmin(echoPrincipal(&called)), "Bearer "+access)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, called)
}
