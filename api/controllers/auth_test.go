package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nivenlabs/subflow-backend/api/middleware"
	pkgauth "github.com/nivenlabs/subflow-backend/pkg/auth"
	"github.com/nivenlabs/subflow-backend/pkg/auth/session"
	"github.com/nivenlabs/subflow-backend/pkg/config"
	"github.com/nivenlabs/subflow-backend/pkg/db/models"
	"github.com/nivenlabs/subflow-backend/pkg/security"
)

var testJWTConfig = config.JWTConfig{
	Secret:                 "test-secret",
	Issuer:                 "subflow-test",
	ExpirationMinutes:      15,
	RefreshTokenTTLMinutes: 60,
}

type fakeUserDirectory struct {
	user    *models.User
	updated *models.User
}

func (d *fakeUserDirectory) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	if d.user != nil && d.user.Email == email {
		return d.user, nil
	}
	return nil, nil
}

func (d *fakeUserDirectory) UpdateUser(_ context.Context, user *models.User) error {
	d.updated = user
	return nil
}

type fakeSessions struct {
	generatedFor string
	refresh      string
	rotateOld    string
	rotateNewID  string
	rotateToken  string
	rotateErr    error
	revoked      string
}

func (s *fakeSessions) Generate(_ context.Context, accessID string) (string, error) {
	s.generatedFor = accessID
	return s.refresh, nil
}

func (s *fakeSessions) Rotate(_ context.Context, oldAccessID, _ string) (string, string, error) {
	if s.rotateErr != nil {
		return "", "", s.rotateErr
	}
	s.rotateOld = oldAccessID
	return s.rotateNewID, s.rotateToken, nil
}

func (s *fakeSessions) Revoke(_ context.Context, accessID string) error {
	s.revoked = accessID
	return nil
}

func seedUser(t *testing.T, email, password string) *models.User {
	t.Helper()
	hash, err := security.HashPassword(password, config.PasswordConfig{})
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return &models.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
	}
}

func postJSON(t *testing.T, handler http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeTokenPair(t *testing.T, rec *httptest.ResponseRecorder) tokenPairResponse {
	t.Helper()
	var envelope struct {
		Data tokenPairResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return envelope.Data
}

func TestLoginIssuesTokenPair(t *testing.T) {
	user := seedUser(t, "sub@example.com", "hunter2hunter2")
	dir := &fakeUserDirectory{user: user}
	sessions := &fakeSessions{refresh: "refresh-token"}

	rec := postJSON(t, Login(testJWTConfig, dir, sessions, nil), map[string]string{
		"email":    "sub@example.com",
		"password": "hunter2hunter2",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	pair := decodeTokenPair(t, rec)
	if pair.RefreshToken != "refresh-token" {
		t.Fatalf("unexpected refresh token %q", pair.RefreshToken)
	}
	if pair.ExpiresIn != int64((15 * time.Minute).Seconds()) {
		t.Fatalf("unexpected expires_in %d", pair.ExpiresIn)
	}

	claims, err := pkgauth.ParseAccessToken(testJWTConfig, pair.AccessToken)
	if err != nil {
		t.Fatalf("minted token must parse: %v", err)
	}
	if claims.UserID != user.ID {
		t.Fatalf("token carries user %s, want %s", claims.UserID, user.ID)
	}
	if claims.ID == "" || claims.ID != sessions.generatedFor {
		t.Fatalf("refresh session keyed by %q, token jti %q", sessions.generatedFor, claims.ID)
	}
	if dir.updated == nil || dir.updated.LastLoginAt == nil {
		t.Fatal("login must stamp last_login_at")
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	user := seedUser(t, "sub@example.com", "correct-horse")
	dir := &fakeUserDirectory{user: user}
	sessions := &fakeSessions{refresh: "refresh-token"}

	rec := postJSON(t, Login(testJWTConfig, dir, sessions, nil), map[string]string{
		"email":    "sub@example.com",
		"password": "battery-staple",
	})

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if sessions.generatedFor != "" {
		t.Fatal("no session may be created on a failed login")
	}
}

func TestLoginRejectsUnknownEmail(t *testing.T) {
	dir := &fakeUserDirectory{}
	sessions := &fakeSessions{}

	rec := postJSON(t, Login(testJWTConfig, dir, sessions, nil), map[string]string{
		"email":    "nobody@example.com",
		"password": "whatever",
	})

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRefreshRotatesSession(t *testing.T) {
	userID := uuid.New()
	expired, err := pkgauth.MintAccessToken(testJWTConfig, time.Now().Add(-time.Hour), pkgauth.AccessTokenPayload{
		UserID: userID,
		Email:  "sub@example.com",
		JTI:    "old-access-id",
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}

	sessions := &fakeSessions{rotateNewID: "new-access-id", rotateToken: "new-refresh"}

	rec := postJSON(t, RefreshToken(testJWTConfig, sessions, nil), map[string]string{
		"access_token":  expired,
		"refresh_token": "old-refresh",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if sessions.rotateOld != "old-access-id" {
		t.Fatalf("rotated session %q, want old-access-id", sessions.rotateOld)
	}

	pair := decodeTokenPair(t, rec)
	if pair.RefreshToken != "new-refresh" {
		t.Fatalf("unexpected refresh token %q", pair.RefreshToken)
	}
	claims, err := pkgauth.ParseAccessToken(testJWTConfig, pair.AccessToken)
	if err != nil {
		t.Fatalf("rotated token must parse: %v", err)
	}
	if claims.ID != "new-access-id" {
		t.Fatalf("new token jti %q, want new-access-id", claims.ID)
	}
	if claims.UserID != userID {
		t.Fatalf("rotation must preserve the user, got %s", claims.UserID)
	}
}

func TestRefreshRejectsInvalidRefreshToken(t *testing.T) {
	expired, err := pkgauth.MintAccessToken(testJWTConfig, time.Now().Add(-time.Hour), pkgauth.AccessTokenPayload{
		UserID: uuid.New(),
		JTI:    "old-access-id",
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}

	sessions := &fakeSessions{rotateErr: session.ErrInvalidRefreshToken}

	rec := postJSON(t, RefreshToken(testJWTConfig, sessions, nil), map[string]string{
		"access_token":  expired,
		"refresh_token": "stolen",
	})

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	sessions := &fakeSessions{}

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(middleware.WithAccessID(req.Context(), "access-123"))
	rec := httptest.NewRecorder()
	Logout(sessions, nil)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if sessions.revoked != "access-123" {
		t.Fatalf("revoked %q, want access-123", sessions.revoked)
	}
}
