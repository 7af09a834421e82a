package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/authgate/authgate/internal/errors"
)

func newTestMux(env *testEnv) *http.ServeMux {
	h := NewHandler(env.service)
	g := NewGuard(env.service, nil)

	mux := http.NewServeMux()
	mux.Handle("POST /register", apperrors.HandleFunc(h.Register))
	mux.Handle("POST /login", apperrors.HandleFunc(h.Login))
	mux.Handle("POST /refresh", apperrors.HandleFunc(h.Refresh))
	mux.Handle("POST /logout", g.RequireAccess(apperrors.HandleFunc(h.Logout)))
	mux.Handle("GET /users", g.RequireAdmin(apperrors.HandleFunc(h.ListUsers)))
	return mux
}

func do(t *testing.T, h http.Handler, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeTokens(t *testing.T, w *httptest.ResponseRecorder) TokenResponse {
	t.Helper()
	var resp TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHandler_AdminScenario(t *testing.T) {
	env := newTestEnv(t)
	mux := newTestMux(env)

	w := do(t, mux, http.MethodPost, "/register", "", RegisterRequest{Name: "Ana", Email: "Ana@X.com", Password: "secret1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "secret1")
	assert.NotContains(t, w.Body.String(), "$2a$")
	var reg RegisterResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reg))
	assert.Equal(t, "ana@x.com", reg.User.Email)

	w = do(t, mux, http.MethodPost, "/login", "", LoginRequest{Email: "ana@x.com", Password: "secret1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	ana := decodeTokens(t, w)
	assert.Equal(t, "login successful", ana.Message)
	assert.NotEmpty(t, ana.AccessToken)
	assert.NotEmpty(t, ana.RefreshToken)
	assert.Equal(t, 900, ana.ExpiresIn)

	w = do(t, mux, http.MethodGet, "/users", ana.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "NOT_AUTHORIZED", decodeError(t, w).Error.Code)

	do(t, mux, http.MethodPost, "/register", "", RegisterRequest{Name: "Root", Email: testAdmin, Password: "secret1"})
	w = do(t, mux, http.MethodPost, "/login", "", LoginRequest{Email: testAdmin, Password: "secret1"})
	require.Equal(t, http.StatusOK, w.Code)
	admin := decodeTokens(t, w)
	assert.Equal(t, "administrator login successful", admin.Message)

	w = do(t, mux, http.MethodGet, "/users", admin.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var users []UserResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &users))
	assert.Len(t, users, 2)
	assert.NotContains(t, w.Body.String(), "$2a$")
}

func TestHandler_RegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	mux := newTestMux(env)

	tests := []struct {
		name string
		req  RegisterRequest
	}{
		{"short name", RegisterRequest{Name: "A", Email: "a@x.com", Password: "secret1"}},
		{"digits in name", RegisterRequest{Name: "Ana2", Email: "a@x.com", Password: "secret1"}},
		{"bad email", RegisterRequest{Name: "Ana", Email: "not-an-email", Password: "secret1"}},
		{"short password", RegisterRequest{Name: "Ana", Email: "a@x.com", Password: "12345"}},
		{"long password", RegisterRequest{Name: "Ana", Email: "a@x.com", Password: "123456789"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, mux, http.MethodPost, "/register", "", tt.req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, apperrors.CodeValidationError, decodeError(t, w).Error.Code)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperrors.CodeInvalidRequest, decodeError(t, w).Error.Code)
}

func TestHandler_RegisterDuplicate(t *testing.T) {
	env := newTestEnv(t)
	mux := newTestMux(env)
	req := RegisterRequest{Name: "Ana", Email: "ana@x.com", Password: "secret1"}

	require.Equal(t, http.StatusCreated, do(t, mux, http.MethodPost, "/register", "", req).Code)
	w := do(t, mux, http.MethodPost, "/register", "", req)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperrors.CodeEmailExists, decodeError(t, w).Error.Code)
}

func TestHandler_LoginFailures(t *testing.T) {
	env := newTestEnv(t)
	mux := newTestMux(env)
	env.registerAndLogin(t, "Ana", "ana@x.com")

	w := do(t, mux, http.MethodPost, "/login", "", LoginRequest{Email: "ana@x.com", Password: "wrong1"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	wrongPassword := decodeError(t, w)

	w = do(t, mux, http.MethodPost, "/login", "", LoginRequest{Email: "ghost@x.com", Password: "secret1"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, wrongPassword.Error, decodeError(t, w).Error, "unknown email must look like a wrong password")

	w = do(t, mux, http.MethodPost, "/login", "", LoginRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_Refresh(t *testing.T) {
	env := newTestEnv(t)
	mux := newTestMux(env)
	session := env.registerAndLogin(t, "Ana", "ana@x.com")

	w := do(t, mux, http.MethodPost, "/refresh", "", RefreshRequest{RefreshToken: session.RefreshToken})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	renewed := decodeTokens(t, w)
	assert.Equal(t, "tokens renewed", renewed.Message)
	assert.NotEqual(t, session.RefreshToken, renewed.RefreshToken)

	w = do(t, mux, http.MethodPost, "/refresh", "", RefreshRequest{RefreshToken: session.RefreshToken})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, apperrors.CodeTokenNotBound, decodeError(t, w).Error.Code)

	w = do(t, mux, http.MethodPost, "/refresh", "", RefreshRequest{})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, apperrors.CodeMissingRefreshToken, decodeError(t, w).Error.Code)

	w = do(t, mux, http.MethodPost, "/refresh", "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, mux, http.MethodPost, "/refresh", "", RefreshRequest{RefreshToken: session.AccessToken})
	assert.Equal(t, http.StatusForbidden, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, apperrors.CodeInvalidRefreshToken, body.Error.Code)
	assert.NotEmpty(t, body.Error.Details["reason"])
}

func TestHandler_Logout(t *testing.T) {
	env := newTestEnv(t)
	mux := newTestMux(env)
	session := env.registerAndLogin(t, "Ana", "ana@x.com")

	w := do(t, mux, http.MethodPost, "/logout", "", RefreshRequest{RefreshToken: session.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code, "logout requires an access token")

	w = do(t, mux, http.MethodPost, "/logout", session.AccessToken, RefreshRequest{RefreshToken: "unbound"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, mux, http.MethodPost, "/logout", session.AccessToken, RefreshRequest{})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, mux, http.MethodPost, "/logout", session.AccessToken, RefreshRequest{RefreshToken: session.RefreshToken})
	require.Equal(t, http.StatusOK, w.Code)
	var msg MessageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msg))
	assert.Equal(t, "user Ana logged out", msg.Message)

	w = do(t, mux, http.MethodPost, "/refresh", "", RefreshRequest{RefreshToken: session.RefreshToken})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandler_StoreFailureHidesCause(t *testing.T) {
	env := newTestEnvWithStore(t, failingStore{err: errors.New("dial tcp 10.0.0.7:5432: connection refused")})
	mux := newTestMux(env)

	w := do(t, mux, http.MethodPost, "/login", "", LoginRequest{Email: "ana@x.com", Password: "secret1"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, apperrors.CodeStoreFailure, decodeError(t, w).Error.Code)
	assert.NotContains(t, w.Body.String(), "10.0.0.7")
}
