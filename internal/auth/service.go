package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/authgate/authgate/internal/logger"
	"github.com/authgate/authgate/internal/metrics"
	"github.com/authgate/authgate/internal/store"
	"github.com/authgate/authgate/internal/token"
)

// CredentialStore is the persistence the service depends on. RotateRefreshToken
// and ClearRefreshToken must be conditional on the presented token still
// being the stored one.
type CredentialStore interface {
	Create(ctx context.Context, c *store.Credential) error
	FindByEmail(ctx context.Context, email string) (*store.Credential, error)
	FindByRefreshToken(ctx context.Context, token string) (*store.Credential, error)
	UpdateRefreshToken(ctx context.Context, email, token string) error
	RotateRefreshToken(ctx context.Context, current, next string) (*store.Credential, error)
	ClearRefreshToken(ctx context.Context, token string) (*store.Credential, error)
	List(ctx context.Context) ([]*store.Credential, error)
}

type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hash string) bool
}

// Policy is fixed at startup.
type Policy struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// AdminEmail is the single identity allowed through RequireAdmin.
	// Empty means nobody is an administrator.
	AdminEmail string
}

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
}

type Session struct {
	TokenPair
	User  *store.Credential
	Admin bool
}

type Service struct {
	store   CredentialStore
	hasher  PasswordHasher
	codec   *token.Codec
	policy  Policy
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewService wires the token lifecycle. m may be nil.
func NewService(store CredentialStore, hasher PasswordHasher, codec *token.Codec, policy Policy, m *metrics.Metrics) *Service {
	return &Service{
		store:   store,
		hasher:  hasher,
		codec:   codec,
		policy:  policy,
		metrics: m,
		log:     logger.Default().WithComponent("auth"),
	}
}

func (s *Service) IsAdmin(email string) bool {
	return s.policy.AdminEmail != "" && email == s.policy.AdminEmail
}

func (s *Service) Register(ctx context.Context, name, email, password string) (*store.Credential, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	c := &store.Credential{
		ID:           uuid.New(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.Create(ctx, c); err != nil {
		if errors.Is(err, store.ErrEmailExists) {
			return nil, ErrEmailTaken
		}
		return nil, s.storeFailure(ctx, "create", err)
	}

	s.log.Info(ctx, "user registered", map[string]any{"user_id": c.ID.String()})
	return c, nil
}

// Login checks the password and binds a fresh refresh token to the record,
// replacing whatever was stored before.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	c, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.metrics.Login("invalid_credentials")
			return nil, ErrInvalidCredentials
		}
		s.metrics.Login("error")
		return nil, s.storeFailure(ctx, "find_by_email", err)
	}

	if !s.hasher.Verify(password, c.PasswordHash) {
		s.metrics.Login("invalid_credentials")
		return nil, ErrInvalidCredentials
	}

	pair, err := s.mintPair(c.Email)
	if err != nil {
		s.metrics.Login("error")
		return nil, err
	}

	if err := s.store.UpdateRefreshToken(ctx, c.Email, pair.RefreshToken); err != nil {
		s.metrics.Login("error")
		return nil, s.storeFailure(ctx, "update_refresh_token", err)
	}
	c.RefreshToken = pair.RefreshToken

	admin := s.IsAdmin(c.Email)
	s.metrics.Login("success")
	s.log.Info(ctx, "user logged in", map[string]any{"user_id": c.ID.String(), "admin": admin})
	return &Session{TokenPair: *pair, User: c, Admin: admin}, nil
}

// Renew exchanges a refresh token for a new pair. The presented token must
// still be the one stored on its owner's record; signature validity alone is
// not enough. Of several concurrent renewals with the same token at most one
// succeeds, the rest fail with ErrTokenNotBound.
func (s *Service) Renew(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		s.metrics.Renewal("missing")
		return nil, ErrMissingRefreshToken
	}

	claims, err := s.codec.Verify(refreshToken, token.KindRefresh)
	if err != nil {
		s.metrics.Renewal("invalid")
		return nil, withReason(ErrInvalidRefreshToken, err)
	}

	c, err := s.store.FindByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.metrics.Renewal("not_bound")
			s.log.Warn(ctx, "refresh token not linked to any user", nil)
			return nil, ErrTokenNotBound
		}
		s.metrics.Renewal("error")
		return nil, s.storeFailure(ctx, "find_by_refresh_token", err)
	}
	if c.Email != claims.Subject {
		s.metrics.Renewal("not_bound")
		return nil, ErrTokenNotBound
	}

	pair, err := s.mintPair(c.Email)
	if err != nil {
		s.metrics.Renewal("error")
		return nil, err
	}

	if _, err := s.store.RotateRefreshToken(ctx, refreshToken, pair.RefreshToken); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// another renewal rotated the token between lookup and swap
			s.metrics.Renewal("not_bound")
			s.log.Warn(ctx, "refresh token superseded during rotation", map[string]any{"user_id": c.ID.String()})
			return nil, ErrTokenNotBound
		}
		s.metrics.Renewal("error")
		return nil, s.storeFailure(ctx, "rotate_refresh_token", err)
	}

	s.metrics.Renewal("success")
	return pair, nil
}

// Logout unbinds refreshToken from its owner and returns the owner.
func (s *Service) Logout(ctx context.Context, refreshToken string) (*store.Credential, error) {
	if refreshToken == "" {
		return nil, ErrMissingRefreshToken
	}

	c, err := s.store.ClearRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTokenNotBound
		}
		return nil, s.storeFailure(ctx, "clear_refresh_token", err)
	}

	s.log.Info(ctx, "user logged out", map[string]any{"user_id": c.ID.String()})
	return c, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]*store.Credential, error) {
	users, err := s.store.List(ctx)
	if err != nil {
		return nil, s.storeFailure(ctx, "list", err)
	}
	return users, nil
}

// VerifyAccess resolves the principal behind an access token. It performs no I/O.
func (s *Service) VerifyAccess(accessToken string) (Principal, error) {
	claims, err := s.codec.Verify(accessToken, token.KindAccess)
	if err != nil {
		return Principal{}, withReason(ErrInvalidToken, err)
	}
	return Principal{Email: claims.Subject}, nil
}

func (s *Service) mintPair(email string) (*TokenPair, error) {
	access, _, err := s.codec.Issue(email, token.KindAccess, s.policy.AccessTTL)
	if err != nil {
		return nil, err
	}
	refresh, _, err := s.codec.Issue(email, token.KindRefresh, s.policy.RefreshTTL)
	if err != nil {
		return nil, err
	}
	s.metrics.TokenIssued(string(token.KindAccess))
	s.metrics.TokenIssued(string(token.KindRefresh))

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(s.policy.AccessTTL.Seconds()),
	}, nil
}

func (s *Service) storeFailure(ctx context.Context, op string, err error) error {
	s.metrics.StoreFailure(op)
	s.log.Error(ctx, "credential store operation failed", err, map[string]any{"operation": op})
	return &storeError{op: op, cause: err}
}

// Reason returns the verification error behind an ErrInvalidToken or
// ErrInvalidRefreshToken failure, or "" for any other error.
func Reason(err error) string {
	var re *reasonError
	if !errors.As(err, &re) {
		return ""
	}
	return token.Reason(re.reason)
}
