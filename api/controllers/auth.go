package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/nivenlabs/subflow-backend/api/middleware"
	"github.com/nivenlabs/subflow-backend/api/responses"
	"github.com/nivenlabs/subflow-backend/api/validators"
	pkgauth "github.com/nivenlabs/subflow-backend/pkg/auth"
	"github.com/nivenlabs/subflow-backend/pkg/auth/session"
	"github.com/nivenlabs/subflow-backend/pkg/config"
	"github.com/nivenlabs/subflow-backend/pkg/db/models"
	pkgerrors "github.com/nivenlabs/subflow-backend/pkg/errors"
	"github.com/nivenlabs/subflow-backend/pkg/logger"
	"github.com/nivenlabs/subflow-backend/pkg/security"
)

// UserDirectory is the account lookup surface login needs.
type UserDirectory interface {
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
}

// SessionIssuer creates, rotates, and revokes refresh sessions.
// *session.Manager satisfies it.
type SessionIssuer interface {
	Generate(ctx context.Context, accessID string) (string, error)
	Rotate(ctx context.Context, oldAccessID, provided string) (string, string, error)
	Revoke(ctx context.Context, accessID string) error
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	AccessToken  string `json:"access_token" validate:"required"`
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type tokenPairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type logoutResponse struct {
	Revoked bool `json:"revoked"`
}

// Login verifies subscriber credentials and issues an access/refresh
// pair. Lookup misses and password mismatches produce the same error so
// the endpoint does not confirm which emails exist.
func Login(cfg config.JWTConfig, users UserDirectory, sessions SessionIssuer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if users == nil || sessions == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "auth unavailable"))
			return
		}

		var payload loginRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		user, err := users.FindUserByEmail(ctx, payload.Email)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup account"))
			return
		}
		if user == nil || !user.IsActive {
			responses.WriteError(ctx, logg, w, invalidCredentials())
			return
		}

		ok, err := security.VerifyPassword(payload.Password, user.PasswordHash)
		if err != nil || !ok {
			responses.WriteError(ctx, logg, w, invalidCredentials())
			return
		}

		pair, err := issueTokenPair(ctx, cfg, sessions, user)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		now := time.Now().UTC()
		user.LastLoginAt = &now
		if err := users.UpdateUser(ctx, user); err != nil && logg != nil {
			logg.Error(logg.WithUserID(ctx, user.ID.String()), "record last login failed", err)
		}

		responses.WriteSuccess(w, pair)
	}
}

// RefreshToken rotates a refresh session. The expired access token is
// accepted so its jti can locate the session; the refresh token itself
// is what proves possession.
func RefreshToken(cfg config.JWTConfig, sessions SessionIssuer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if sessions == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "auth unavailable"))
			return
		}

		var payload refreshRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		claims, err := pkgauth.ParseAccessTokenAllowExpired(cfg, payload.AccessToken)
		if err != nil || claims.ID == "" {
			responses.WriteError(ctx, logg, w, invalidCredentials())
			return
		}

		newAccessID, newRefresh, err := sessions.Rotate(ctx, claims.ID, payload.RefreshToken)
		if err != nil {
			if errors.Is(err, session.ErrInvalidRefreshToken) {
				responses.WriteError(ctx, logg, w, invalidCredentials())
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rotate session"))
			return
		}

		access, err := pkgauth.MintAccessToken(cfg, time.Now().UTC(), pkgauth.AccessTokenPayload{
			UserID: claims.UserID,
			Email:  claims.Email,
			JTI:    newAccessID,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint access token"))
			return
		}

		responses.WriteSuccess(w, tokenPairResponse{
			AccessToken:  access,
			RefreshToken: newRefresh,
			ExpiresIn:    int64(cfg.Expiration().Seconds()),
		})
	}
}

// Logout revokes the caller's refresh session, which also invalidates
// the access token at the session check.
func Logout(sessions SessionIssuer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if sessions == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "auth unavailable"))
			return
		}

		accessID := middleware.AccessIDFromContext(ctx)
		if accessID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing session id"))
			return
		}

		if err := sessions.Revoke(ctx, accessID); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "revoke session"))
			return
		}

		responses.WriteSuccess(w, logoutResponse{Revoked: true})
	}
}

func issueTokenPair(ctx context.Context, cfg config.JWTConfig, sessions SessionIssuer, user *models.User) (tokenPairResponse, error) {
	accessID := session.NewAccessID()
	access, err := pkgauth.MintAccessToken(cfg, time.Now().UTC(), pkgauth.AccessTokenPayload{
		UserID: user.ID,
		Email:  user.Email,
		JTI:    accessID,
	})
	if err != nil {
		return tokenPairResponse{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint access token")
	}

	refresh, err := sessions.Generate(ctx, accessID)
	if err != nil {
		return tokenPairResponse{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store refresh session")
	}

	return tokenPairResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(cfg.Expiration().Seconds()),
	}, nil
}

func invalidCredentials() error {
	return pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid credentials")
}
