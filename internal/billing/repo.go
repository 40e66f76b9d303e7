package billing

import (
	"context"
	"time"

	"github.com/nivenlabs/subflow-backend/pkg/db/models"
	"github.com/nivenlabs/subflow-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository handles billing persistence: gateway configuration,
// packages, orders, subscriptions and the webhook audit trail.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	ListGateways(ctx context.Context) ([]models.Gateway, error)
	FindGatewayByName(ctx context.Context, name enums.GatewayName) (*models.Gateway, error)
	ActiveGateway(ctx context.Context) (*models.Gateway, error)
	SetActiveGateway(ctx context.Context, name enums.GatewayName) error

	ListActivePackages(ctx context.Context) ([]models.Package, error)
	FindPackageByID(ctx context.Context, id uuid.UUID) (*models.Package, error)

	FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	ListUsersPendingProvisioning(ctx context.Context, limit int) ([]models.User, error)

	CreateOrder(ctx context.Context, order *models.Order) error
	UpdateOrder(ctx context.Context, order *models.Order) error
	FindOrderByReference(ctx context.Context, reference string) (*models.Order, error)
	FindOrderByReferenceForUpdate(ctx context.Context, reference string) (*models.Order, error)
	FindOrderByExternalTransactionID(ctx context.Context, transactionID string) (*models.Order, error)
	ListPendingOrders(ctx context.Context, olderThan time.Duration, limit int) ([]models.Order, error)
	FindLatestCompletedOrderForUser(ctx context.Context, userID uuid.UUID) (*models.Order, error)

	CreateSubscription(ctx context.Context, subscription *models.Subscription) error
	UpdateSubscription(ctx context.Context, subscription *models.Subscription) error
	FindSubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (*models.Subscription, error)
	FindActiveSubscriptionForUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	ListSubscriptionsForUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error)

	RecordWebhookEvent(ctx context.Context, event *models.WebhookEvent) error
	HasProcessedWebhookEvent(ctx context.Context, gateway enums.GatewayName, externalEventID string) (bool, error)
	DeleteWebhookEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a billing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) ListGateways(ctx context.Context) ([]models.Gateway, error) {
	var gateways []models.Gateway
	if err := r.db.WithContext(ctx).
		Order("position ASC, name ASC").
		Find(&gateways).Error; err != nil {
		return nil, err
	}
	return gateways, nil
}

func (r *repository) FindGatewayByName(ctx context.Context, name enums.GatewayName) (*models.Gateway, error) {
	var gateway models.Gateway
	if err := r.db.WithContext(ctx).
		Where("name = ?", name).
		First(&gateway).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &gateway, nil
}

func (r *repository) ActiveGateway(ctx context.Context) (*models.Gateway, error) {
	var gateway models.Gateway
	if err := r.db.WithContext(ctx).
		Where("active = ?", true).
		First(&gateway).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &gateway, nil
}

// SetActiveGateway flips the admin-active flag to the named gateway.
// The partial unique index on (active) keeps concurrent writers from
// ending up with two active rows.
func (r *repository) SetActiveGateway(ctx context.Context, name enums.GatewayName) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Gateway{}).
			Where("active = ?", true).
			Update("active", false).Error; err != nil {
			return err
		}
		result := tx.Model(&models.Gateway{}).
			Where("name = ?", name).
			Update("active", true)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

func (r *repository) ListActivePackages(ctx context.Context) ([]models.Package, error) {
	var packages []models.Package
	if err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("price_amount ASC").
		Find(&packages).Error; err != nil {
		return nil, err
	}
	return packages, nil
}

func (r *repository) FindPackageByID(ctx context.Context, id uuid.UUID) (*models.Package, error) {
	var pkg models.Package
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&pkg).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &pkg, nil
}

func (r *repository) FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (r *repository) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).
		Where("email = ?", email).
		First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (r *repository) UpdateUser(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Save(user).Error
}

func (r *repository) ListUsersPendingProvisioning(ctx context.Context, limit int) ([]models.User, error) {
	if limit <= 0 {
		limit = 100
	}
	var users []models.User
	if err := r.db.WithContext(ctx).
		Where("provisioning = ?", enums.ProvisioningStatusPending).
		Order("updated_at ASC").
		Limit(limit).
		Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) UpdateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Save(order).Error
}

func (r *repository) FindOrderByReference(ctx context.Context, reference string) (*models.Order, error) {
	return r.findOrderByReference(ctx, reference, false)
}

// FindOrderByReferenceForUpdate takes a row lock so concurrent webhook
// and success-callback deliveries for the same order serialize.
func (r *repository) FindOrderByReferenceForUpdate(ctx context.Context, reference string) (*models.Order, error) {
	return r.findOrderByReference(ctx, reference, true)
}

func (r *repository) findOrderByReference(ctx context.Context, reference string, lock bool) (*models.Order, error) {
	if reference == "" {
		return nil, nil
	}
	query := r.db.WithContext(ctx)
	if lock && r.db.Dialector.Name() == "postgres" {
		// sqlite (used in tests) has no row locks.
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var order models.Order
	if err := query.
		Where("checkout_reference = ?", reference).
		First(&order).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindOrderByExternalTransactionID(ctx context.Context, transactionID string) (*models.Order, error) {
	if transactionID == "" {
		return nil, nil
	}
	var order models.Order
	if err := r.db.WithContext(ctx).
		Where("external_transaction_id = ?", transactionID).
		First(&order).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListPendingOrders(ctx context.Context, olderThan time.Duration, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	var orders []models.Order
	if err := r.db.WithContext(ctx).
		Where("status = ?", enums.OrderStatusPending).
		Where("created_at < ?", cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repository) FindLatestCompletedOrderForUser(ctx context.Context, userID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("status = ?", enums.OrderStatusCompleted).
		Order("completed_at DESC").
		First(&order).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *repository) CreateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Create(subscription).Error
}

func (r *repository) UpdateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Save(subscription).Error
}

func (r *repository) FindSubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (*models.Subscription, error) {
	if providerSubscriptionID == "" {
		return nil, nil
	}
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("provider_subscription_id = ?", providerSubscriptionID).
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindActiveSubscriptionForUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("status IN ?", []enums.SubscriptionStatus{
			enums.SubscriptionStatusActive,
			enums.SubscriptionStatusPastDue,
		}).
		Order("created_at DESC").
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) ListSubscriptionsForUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error) {
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) RecordWebhookEvent(ctx context.Context, event *models.WebhookEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) HasProcessedWebhookEvent(ctx context.Context, gateway enums.GatewayName, externalEventID string) (bool, error) {
	if externalEventID == "" {
		return false, nil
	}
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("gateway = ?", gateway).
		Where("external_event_id = ?", externalEventID).
		Where("outcome = ?", enums.WebhookOutcomeProcessed).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) DeleteWebhookEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("received_at < ?", cutoff).
		Delete(&models.WebhookEvent{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
