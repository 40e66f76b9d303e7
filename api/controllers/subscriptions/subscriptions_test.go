package subscriptions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nivenlabs/subflow-backend/api/middleware"
	"github.com/nivenlabs/subflow-backend/internal/orchestrator"
	"github.com/nivenlabs/subflow-backend/pkg/db/models"
	"github.com/nivenlabs/subflow-backend/pkg/enums"
	pkgerrors "github.com/nivenlabs/subflow-backend/pkg/errors"
)

type stubLifecycle struct {
	cancelOutcome *orchestrator.CancelOutcome
	cancelErr     error
	cancelReason  string
	change        *orchestrator.PlanChange
	changeErr     error
	upgrades      int
	downgrades    int
}

func (s *stubLifecycle) Cancel(_ context.Context, _ uuid.UUID, reason string) (*orchestrator.CancelOutcome, error) {
	s.cancelReason = reason
	return s.cancelOutcome, s.cancelErr
}

func (s *stubLifecycle) Upgrade(context.Context, uuid.UUID, uuid.UUID) (*orchestrator.PlanChange, error) {
	s.upgrades++
	return s.change, s.changeErr
}

func (s *stubLifecycle) Downgrade(context.Context, uuid.UUID, uuid.UUID) (*orchestrator.PlanChange, error) {
	s.downgrades++
	return s.change, s.changeErr
}

type stubReader struct {
	subs []models.Subscription
	err  error
}

func (s *stubReader) ListUserSubscriptions(context.Context, uuid.UUID) ([]models.Subscription, error) {
	return s.subs, s.err
}

func authedRequest(method, target, body string) *http.Request {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body == "" {
		req.ContentLength = 0
	}
	return req.WithContext(middleware.WithUserID(req.Context(), uuid.NewString()))
}

func TestListReturnsSubscriptions(t *testing.T) {
	now := time.Now().UTC()
	reader := &stubReader{subs: []models.Subscription{{
		ID:                     uuid.New(),
		Gateway:                enums.GatewayPaddle,
		ProviderSubscriptionID: "sub-1",
		Status:                 enums.SubscriptionStatusActive,
		PackageID:              uuid.New(),
		CurrentPeriodEnd:       &now,
	}}}

	resp := httptest.NewRecorder()
	List(reader, nil).ServeHTTP(resp, authedRequest(http.MethodGet, "/api/v1/subscriptions", ""))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "sub-1") {
		t.Fatalf("expected subscription in body: %s", resp.Body.String())
	}
}

func TestListRejectsMissingUserContext(t *testing.T) {
	resp := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions", nil)
	List(&stubReader{}, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestCancelWithoutBody(t *testing.T) {
	svc := &stubLifecycle{cancelOutcome: &orchestrator.CancelOutcome{SubscriptionID: "sub-1"}}

	resp := httptest.NewRecorder()
	Cancel(svc, nil).ServeHTTP(resp, authedRequest(http.MethodPost, "/api/v1/subscriptions/cancel", ""))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.cancelReason != "" {
		t.Fatalf("expected empty reason, got %q", svc.cancelReason)
	}
}

func TestCancelPassesReason(t *testing.T) {
	svc := &stubLifecycle{cancelOutcome: &orchestrator.CancelOutcome{SubscriptionID: "sub-1", AlreadyCancelled: true}}

	resp := httptest.NewRecorder()
	Cancel(svc, nil).ServeHTTP(resp, authedRequest(http.MethodPost, "/api/v1/subscriptions/cancel", `{"reason":"too expensive"}`))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if svc.cancelReason != "too expensive" {
		t.Fatalf("expected reason forwarded, got %q", svc.cancelReason)
	}
	var payload struct {
		Data cancelResponse `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !payload.Data.AlreadyCancelled {
		t.Fatal("expected already_cancelled in response")
	}
}

func TestCancelSurfacesNotFound(t *testing.T) {
	svc := &stubLifecycle{cancelErr: pkgerrors.New(pkgerrors.CodeNotFound, "no subscription to cancel")}

	resp := httptest.NewRecorder()
	Cancel(svc, nil).ServeHTTP(resp, authedRequest(http.MethodPost, "/api/v1/subscriptions/cancel", ""))

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestUpgradeRequiresPackageID(t *testing.T) {
	svc := &stubLifecycle{}

	resp := httptest.NewRecorder()
	Upgrade(svc, nil).ServeHTTP(resp, authedRequest(http.MethodPost, "/api/v1/subscriptions/upgrade", `{}`))

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if svc.upgrades != 0 {
		t.Fatal("invalid payload must not reach the service")
	}
}

func TestUpgradeAppliesChange(t *testing.T) {
	target := uuid.New()
	svc := &stubLifecycle{change: &orchestrator.PlanChange{
		SubscriptionID: "sub-1",
		PackageID:      target,
		Prorated:       true,
		EffectiveAt:    time.Now().UTC(),
	}}

	body := `{"package_id":"` + target.String() + `"}`
	resp := httptest.NewRecorder()
	Upgrade(svc, nil).ServeHTTP(resp, authedRequest(http.MethodPost, "/api/v1/subscriptions/upgrade", body))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.upgrades != 1 {
		t.Fatalf("expected one upgrade call, got %d", svc.upgrades)
	}
	if !strings.Contains(resp.Body.String(), `"prorated":true`) {
		t.Fatalf("expected prorated flag in body: %s", resp.Body.String())
	}
}

func TestDowngradeRoutesToDeferredChange(t *testing.T) {
	target := uuid.New()
	svc := &stubLifecycle{change: &orchestrator.PlanChange{
		SubscriptionID: "sub-1",
		PackageID:      target,
		EffectiveAt:    time.Now().UTC(),
	}}

	body := `{"package_id":"` + target.String() + `"}`
	resp := httptest.NewRecorder()
	Downgrade(svc, nil).ServeHTTP(resp, authedRequest(http.MethodPost, "/api/v1/subscriptions/downgrade", body))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if svc.downgrades != 1 || svc.upgrades != 0 {
		t.Fatalf("expected downgrade path, got up=%d down=%d", svc.upgrades, svc.downgrades)
	}
}
