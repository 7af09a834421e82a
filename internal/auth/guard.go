package auth

import (
	"errors"
	"net/http"
	"strings"

	apperrors "github.com/authgate/authgate/internal/errors"
	"github.com/authgate/authgate/internal/logger"
	"github.com/authgate/authgate/internal/metrics"
)

const bearerPrefix = "Bearer "

// Guard holds the request gates. Neither gate touches the credential store.
type Guard struct {
	service *Service
	metrics *metrics.Metrics
	log     *logger.Logger
}

func NewGuard(service *Service, m *metrics.Metrics) *Guard {
	return &Guard{
		service: service,
		metrics: m,
		log:     logger.Default().WithComponent("guard"),
	}
}

// RequireAccess admits requests carrying a valid access token and attaches
// the principal to the request context. Every failure is a 401.
func (g *Guard) RequireAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := g.authenticate(r)
		if err != nil {
			g.reject(w, r, "access", err, accessFailure(err))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequireAdmin admits only the configured administrator. A principal already
// resolved by RequireAccess is reused; otherwise the token is resolved here
// and token problems are answered with 403. A valid non-admin token gets 401
// and the principal stays attached to the request.
func (g *Guard) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			var err error
			p, err = g.authenticate(r)
			if err != nil {
				g.reject(w, r, "admin", err, accessFailure(err).WithStatus(http.StatusForbidden))
				return
			}
			r = r.WithContext(WithPrincipal(r.Context(), p))
		}

		if !g.service.IsAdmin(p.Email) {
			g.reject(w, r, "admin", ErrNotAuthorized, apperrors.NotAuthorized())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Guard) authenticate(r *http.Request) (Principal, error) {
	raw, err := bearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return Principal{}, err
	}
	return g.service.VerifyAccess(raw)
}

func (g *Guard) reject(w http.ResponseWriter, r *http.Request, guard string, cause error, appErr *apperrors.AppError) {
	g.metrics.GuardRejected(guard, strings.ToLower(appErr.Code))
	g.log.Debug(r.Context(), "request rejected", map[string]any{
		"guard":  guard,
		"path":   r.URL.Path,
		"reason": cause.Error(),
	})
	apperrors.Write(w, r, appErr)
}

// bearerToken extracts the token from an Authorization header of the exact
// form "Bearer <token>".
func bearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", ErrMalformedHeader
	}
	raw := header[len(bearerPrefix):]
	if raw == "" || strings.ContainsAny(raw, " \t") {
		return "", ErrMalformedHeader
	}
	return raw, nil
}

func accessFailure(err error) *apperrors.AppError {
	switch {
	case errors.Is(err, ErrMissingToken):
		return apperrors.MissingToken()
	case errors.Is(err, ErrMalformedHeader):
		return apperrors.MalformedHeader()
	default:
		return apperrors.InvalidToken().WithReason(Reason(err))
	}
}
