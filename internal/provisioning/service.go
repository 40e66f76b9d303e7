package provisioning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nivenlabs/subflow-backend/pkg/config"
	"github.com/nivenlabs/subflow-backend/pkg/db/models"
	pkgerrors "github.com/nivenlabs/subflow-backend/pkg/errors"
	"github.com/nivenlabs/subflow-backend/pkg/logger"
	"github.com/nivenlabs/subflow-backend/pkg/security"
)

const tempPasswordLength = 16

// Service provisions the downstream tenant, subscriber credentials and
// license entitlement after a first payment activates.
type Service struct {
	cfg         config.ProvisioningConfig
	passwordCfg config.PasswordConfig
	http        *http.Client
	logg        *logger.Logger
}

// TenantResult is the outcome of a tenant creation call. TempPassword
// is only populated here; the hash is what gets stored.
type TenantResult struct {
	TenantID     string
	TempPassword string
	PasswordHash string
}

// NewService builds a provisioning service.
func NewService(cfg config.ProvisioningConfig, passwordCfg config.PasswordConfig, logg *logger.Logger) (*Service, error) {
	if strings.TrimSpace(cfg.TenantServiceURL) == "" {
		return nil, fmt.Errorf("tenant service url is required")
	}
	if strings.TrimSpace(cfg.LicenseServiceURL) == "" {
		return nil, fmt.Errorf("license service url is required")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{
		cfg:         cfg,
		passwordCfg: passwordCfg,
		http:        &http.Client{Timeout: timeout},
		logg:        logg,
	}, nil
}

// CreateTenant registers the customer with the tenant service under a
// generated temporary password. Replays hit a 409 from the tenant
// service; the existing tenant id in the conflict body is adopted so
// the retry sweep stays idempotent. Credentials are left untouched on
// adoption since the tenant already has them.
func (s *Service) CreateTenant(ctx context.Context, user *models.User) (*TenantResult, error) {
	tempPassword, err := security.GenerateTempPassword(tempPasswordLength)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate temp password")
	}
	passwordHash, err := security.HashPassword(tempPassword, s.passwordCfg)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash temp password")
	}

	reqBody := map[string]any{
		"email":         user.Email,
		"external_id":   user.ID.String(),
		"password_hash": passwordHash,
	}

	var resp struct {
		TenantID string `json:"tenant_id"`
	}
	status, err := s.post(ctx, s.cfg.TenantServiceURL+"/v1/tenants", reqBody, &resp)
	if err != nil {
		return nil, err
	}
	if status == http.StatusConflict {
		if resp.TenantID == "" {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "tenant already exists for user but the conflict names no tenant id").
				WithDetails(map[string]any{"user_id": user.ID.String()})
		}
		return &TenantResult{TenantID: resp.TenantID}, nil
	}
	if status >= http.StatusBadRequest {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("tenant service error: %d", status))
	}
	if resp.TenantID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "tenant service returned no tenant id")
	}

	return &TenantResult{
		TenantID:     resp.TenantID,
		TempPassword: tempPassword,
		PasswordHash: passwordHash,
	}, nil
}

// ActivateLicense grants the package entitlement on the tenant.
func (s *Service) ActivateLicense(ctx context.Context, tenantID string, packageID uuid.UUID, providerSubscriptionID string) error {
	reqBody := map[string]any{
		"tenant_id":       tenantID,
		"package_id":      packageID.String(),
		"subscription_id": providerSubscriptionID,
	}
	status, err := s.post(ctx, s.cfg.LicenseServiceURL+"/v1/licenses/activate", reqBody, nil)
	if err != nil {
		return err
	}
	if status >= http.StatusBadRequest {
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("license service error: %d", status))
	}
	return nil
}

// RevokeLicense withdraws the entitlement when a cancellation becomes
// effective.
func (s *Service) RevokeLicense(ctx context.Context, tenantID, providerSubscriptionID string) error {
	reqBody := map[string]any{
		"tenant_id":       tenantID,
		"subscription_id": providerSubscriptionID,
	}
	status, err := s.post(ctx, s.cfg.LicenseServiceURL+"/v1/licenses/revoke", reqBody, nil)
	if err != nil {
		return err
	}
	if status >= http.StatusBadRequest {
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("license service error: %d", status))
	}
	return nil
}

// NotifyAffiliate registers a paid conversion with the affiliate
// service. Optional: a missing service URL turns this into a no-op so
// deployments without an affiliate program skip the hop.
func (s *Service) NotifyAffiliate(ctx context.Context, affiliateRef string, orderID uuid.UUID, amountCents int64, currencyCode string) error {
	if strings.TrimSpace(s.cfg.AffiliateServiceURL) == "" || affiliateRef == "" {
		return nil
	}
	reqBody := map[string]any{
		"affiliate_ref": affiliateRef,
		"order_id":      orderID.String(),
		"amount_cents":  amountCents,
		"currency":      currencyCode,
	}
	status, err := s.post(ctx, s.cfg.AffiliateServiceURL+"/v1/conversions", reqBody, nil)
	if err != nil {
		return err
	}
	if status >= http.StatusBadRequest {
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("affiliate service error: %d", status))
	}
	return nil
}

// post sends the JSON request and decodes the body into out when the
// status is a success. 4xx statuses are returned to the caller for
// interpretation; transport failures map to DEPENDENCY_ERROR.
func (s *Service) post(ctx context.Context, endpoint string, body, out any) (int, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode provisioning request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build provisioning request")
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIToken)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "provisioning request failed")
	}
	defer resp.Body.Close()

	// Conflict bodies are decoded too: the tenant service reports the
	// existing tenant id there. Empty bodies are tolerated so bare
	// statuses still reach the caller.
	if out != nil && (resp.StatusCode < http.StatusBadRequest || resp.StatusCode == http.StatusConflict) {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return resp.StatusCode, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode provisioning response")
		}
	}
	return resp.StatusCode, nil
}
