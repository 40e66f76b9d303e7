package orchestrator

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nivenlabs/subflow-backend/internal/provisioning"
	"github.com/nivenlabs/subflow-backend/pkg/db/models"
	"github.com/nivenlabs/subflow-backend/pkg/enums"
	pkgerrors "github.com/nivenlabs/subflow-backend/pkg/errors"
	"github.com/nivenlabs/subflow-backend/pkg/outbox"
	"github.com/nivenlabs/subflow-backend/pkg/outbox/payloads"
)

// provisionFirstActivation runs the once-per-user sub-flow after the
// first successful payment: tenant assignment, then license activation,
// each through the retry coordinator. Partial failure must not block
// the user; the account stays active with a pending marker and an
// outbox event schedules the replay.
func (s *Service) provisionFirstActivation(ctx context.Context, user *models.User, order *models.Order, providerSubscriptionID string) {
	if s.provisioner == nil {
		return
	}

	var tenant *provisioning.TenantResult
	err := s.retry.Do(ctx, "provision_tenant", func(ctx context.Context) error {
		var attemptErr error
		tenant, attemptErr = s.provisioner.CreateTenant(ctx, user)
		return attemptErr
	})
	if err != nil {
		s.markProvisioningPending(ctx, user, order, "create_tenant", err)
		return
	}

	user.TenantID = &tenant.TenantID
	// An adopted tenant keeps its existing credentials; only a freshly
	// created one carries a new hash.
	if tenant.PasswordHash != "" {
		user.PasswordHash = tenant.PasswordHash
	}

	err = s.retry.Do(ctx, "activate_license", func(ctx context.Context) error {
		return s.provisioner.ActivateLicense(ctx, tenant.TenantID, order.PackageID, providerSubscriptionID)
	})
	if err != nil {
		s.markProvisioningPending(ctx, user, order, "activate_license", err)
		return
	}

	user.Provisioning = enums.ProvisioningStatusCompleted
	if updateErr := s.repo.UpdateUser(ctx, user); updateErr != nil && s.logg != nil {
		s.logg.Error(ctx, "persisting provisioning outcome failed", updateErr)
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithUserID(ctx, user.ID.String()), "first activation provisioned")
	}

	s.notifyAffiliate(ctx, user, order)
}

// markProvisioningPending records the partial failure and queues the
// outbox replay. The user keeps access either way.
func (s *Service) markProvisioningPending(ctx context.Context, user *models.User, order *models.Order, step string, cause error) {
	if s.logg != nil {
		s.logg.Error(s.logg.WithUserID(ctx, user.ID.String()), "provisioning step failed, queueing retry", cause)
	}

	user.Provisioning = enums.ProvisioningStatusPending
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.UpdateUser(ctx, user); err != nil {
			return err
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventProvisioningRetry,
			AggregateType: enums.AggregateUser,
			AggregateID:   user.ID,
			Data: payloads.ProvisioningRetryEvent{
				UserID:  user.ID,
				OrderID: order.ID,
				Step:    step,
				Error:   cause.Error(),
			},
		})
	})
	if err != nil && s.logg != nil {
		s.logg.Error(ctx, "queueing provisioning retry failed", err)
	}
}

// RetryProvisioning replays the provisioning sub-flow for a user stuck
// in the pending state. Called by the scheduled sweep; safe to invoke
// repeatedly because each step is idempotent on the provider side.
func (s *Service) RetryProvisioning(ctx context.Context, userID uuid.UUID) error {
	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil || user.Provisioning != enums.ProvisioningStatusPending {
		return nil
	}

	order, err := s.repo.FindLatestCompletedOrderForUser(ctx, user.ID)
	if err != nil {
		return err
	}
	if order == nil {
		// Pending marker without a completed order means the confirmation
		// was rolled back; nothing to replay.
		if s.logg != nil {
			s.logg.Warn(s.logg.WithUserID(ctx, user.ID.String()), "provisioning pending without completed order")
		}
		return nil
	}

	providerSubscriptionID := order.CheckoutReference
	if order.ExternalSubscriptionID != nil && *order.ExternalSubscriptionID != "" {
		providerSubscriptionID = *order.ExternalSubscriptionID
	}

	if user.TenantID != nil && *user.TenantID != "" {
		// Tenant already assigned; only the license step is outstanding.
		err := s.retry.Do(ctx, "activate_license", func(ctx context.Context) error {
			return s.provisioner.ActivateLicense(ctx, *user.TenantID, order.PackageID, providerSubscriptionID)
		})
		if err != nil {
			s.markProvisioningPending(ctx, user, order, "activate_license", err)
			return err
		}
		user.Provisioning = enums.ProvisioningStatusCompleted
		if err := s.repo.UpdateUser(ctx, user); err != nil {
			return err
		}
		s.notifyAffiliate(ctx, user, order)
		return nil
	}

	s.provisionFirstActivation(ctx, user, order, providerSubscriptionID)

	refreshed, err := s.repo.FindUserByID(ctx, user.ID)
	if err != nil {
		return err
	}
	if refreshed != nil && refreshed.Provisioning == enums.ProvisioningStatusPending {
		return pkgerrors.New(pkgerrors.CodeDependency, "provisioning replay still pending")
	}
	return nil
}

func (s *Service) notifyAffiliate(ctx context.Context, user *models.User, order *models.Order) {
	if s.provisioner == nil || user.AffiliateRef == nil || *user.AffiliateRef == "" {
		return
	}
	err := s.retry.Do(ctx, "notify_affiliate", func(ctx context.Context) error {
		return s.provisioner.NotifyAffiliate(ctx, *user.AffiliateRef, order.ID, order.Amount.Mul(centsFactor).IntPart(), order.CurrencyCode)
	})
	if err != nil && s.logg != nil {
		// Conversion reporting is best-effort; the outbox event emitted
		// at confirmation remains the durable record.
		s.logg.Error(ctx, "affiliate notification failed", err)
	}
}
