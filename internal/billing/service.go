package billing

import (
	"context"
	"errors"

	"github.com/nivenlabs/subflow-backend/pkg/db/models"
	"github.com/nivenlabs/subflow-backend/pkg/enums"
	pkgerrors "github.com/nivenlabs/subflow-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ServiceParams groups dependencies for the billing service.
type ServiceParams struct {
	Repo Repository
}

// Service exposes the catalog and subscription read surface plus
// gateway administration. Payment state transitions live in the
// orchestrator, not here.
type Service struct {
	repo Repository
}

// NewService builds a billing service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	return &Service{repo: params.Repo}, nil
}

func (s *Service) ListPackages(ctx context.Context) ([]models.Package, error) {
	return s.repo.ListActivePackages(ctx)
}

func (s *Service) GetPackage(ctx context.Context, id uuid.UUID) (*models.Package, error) {
	pkg, err := s.repo.FindPackageByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if pkg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "package not found")
	}
	return pkg, nil
}

func (s *Service) ListGateways(ctx context.Context) ([]models.Gateway, error) {
	return s.repo.ListGateways(ctx)
}

// SetActiveGateway routes new, unbound users to the named gateway.
// Existing gateway bindings are untouched.
func (s *Service) SetActiveGateway(ctx context.Context, name enums.GatewayName) error {
	if !name.IsValid() {
		return pkgerrors.New(pkgerrors.CodeUnsupportedGateway, "unknown gateway").
			WithDetails(map[string]any{"gateway": string(name)})
	}
	if err := s.repo.SetActiveGateway(ctx, name); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "gateway not configured").
				WithDetails(map[string]any{"gateway": string(name)})
		}
		return err
	}
	return nil
}

func (s *Service) ListUserSubscriptions(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error) {
	return s.repo.ListSubscriptionsForUser(ctx, userID)
}

func (s *Service) ActiveSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	return s.repo.FindActiveSubscriptionForUser(ctx, userID)
}
