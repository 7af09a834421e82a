package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/authgate/authgate/internal/errors"
	"github.com/authgate/authgate/internal/store"
)

const maxBodyBytes = 1 << 20

// Handler exposes Service over HTTP. Its methods are apperrors.Handler values.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type RegisterRequest struct {
	Name     string `json:"nome"`
	Email    string `json:"email"`
	Password string `json:"senha"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"senha"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type UserResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"nome"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

type RegisterResponse struct {
	Message string       `json:"message"`
	User    UserResponse `json:"user"`
}

type TokenResponse struct {
	Message string `json:"message"`
	TokenPair
}

type MessageResponse struct {
	Message string `json:"message"`
}

func newUserResponse(c *store.Credential) UserResponse {
	return UserResponse{ID: c.ID, Name: c.Name, Email: c.Email, CreatedAt: c.CreatedAt}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) error {
	var req RegisterRequest
	if err := decode(w, r, &req); err != nil {
		return err
	}
	if err := validateRegister(&req); err != nil {
		return err
	}

	c, err := h.service.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		return toAppError(err)
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusCreated, RegisterResponse{
		Message: "user created",
		User:    newUserResponse(c),
	})
	return nil
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) error {
	var req LoginRequest
	if err := decode(w, r, &req); err != nil {
		return err
	}
	if err := validateLogin(&req); err != nil {
		return err
	}

	session, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		return toAppError(err)
	}

	msg := "login successful"
	if session.Admin {
		msg = "administrator login successful"
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, TokenResponse{
		Message:   msg,
		TokenPair: session.TokenPair,
	})
	return nil
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) error {
	var req RefreshRequest
	if err := decode(w, r, &req); err != nil {
		return err
	}

	pair, err := h.service.Renew(r.Context(), req.RefreshToken)
	if err != nil {
		return toAppError(err)
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, TokenResponse{
		Message:   "tokens renewed",
		TokenPair: *pair,
	})
	return nil
}

// Logout expects to run behind RequireAccess.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) error {
	var req RefreshRequest
	if err := decode(w, r, &req); err != nil {
		return err
	}

	c, err := h.service.Logout(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrMissingRefreshToken) || errors.Is(err, ErrTokenNotBound) {
			return apperrors.NotFound("refresh token")
		}
		return toAppError(err)
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("user %s logged out", c.Name),
	})
	return nil
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) error {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		return toAppError(err)
	}

	resp := make([]UserResponse, 0, len(users))
	for _, c := range users {
		resp = append(resp, newUserResponse(c))
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, resp)
	return nil
}

// decode reads a JSON body. An empty body leaves dst zeroed.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.BadRequest("invalid request body").WithCause(err)
	}
	return nil
}

func toAppError(err error) error {
	switch {
	case errors.Is(err, ErrMissingRefreshToken):
		return apperrors.MissingRefreshToken()
	case errors.Is(err, ErrInvalidRefreshToken):
		return apperrors.InvalidRefreshToken().WithReason(Reason(err))
	case errors.Is(err, ErrTokenNotBound):
		return apperrors.TokenNotBound()
	case errors.Is(err, ErrInvalidCredentials):
		return apperrors.InvalidCredentials()
	case errors.Is(err, ErrEmailTaken):
		return apperrors.EmailExists()
	case errors.Is(err, ErrStoreFailure):
		return apperrors.StoreFailure().WithCause(err)
	default:
		return apperrors.InternalError("an unexpected error occurred").WithCause(err)
	}
}
