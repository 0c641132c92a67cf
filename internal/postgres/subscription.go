package postgres

import (
	"context"
	"errors"

	"github.com/dukerupert/plansync/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// SubscriptionStore implements domain.SubscriptionStore using PostgreSQL.
type SubscriptionStore struct {
	db DBTX
}

// Compile-time check that SubscriptionStore implements domain.SubscriptionStore.
var _ domain.SubscriptionStore = (*SubscriptionStore)(nil)

// NewSubscriptionStore creates a new PostgreSQL-backed subscription store.
func NewSubscriptionStore(db DBTX) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

const subscriptionColumns = `id::text, company_id, plan_id, platform_subscription_id, status,
	activated_on, cancelled_on, idempotency_key, meta, created_at, updated_at`

// =============================================================================
// LOOKUPS
// =============================================================================

// GetActiveSubscription returns the most recently activated active subscription.
func (s *SubscriptionStore) GetActiveSubscription(ctx context.Context, companyID int64) (*domain.Subscription, error) {
	const op = "subscription.get_active"
	return s.queryOne(ctx, op, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE company_id = $1 AND status = 'active'
		ORDER BY activated_on DESC NULLS LAST, created_at DESC
		LIMIT 1`, companyID)
}

// GetSubscriptionByID returns a subscription by id. Malformed ids match nothing.
func (s *SubscriptionStore) GetSubscriptionByID(ctx context.Context, id string) (*domain.Subscription, error) {
	const op = "subscription.get_by_id"
	subID, ok := parseUUID(id)
	if !ok {
		return nil, nil
	}
	return s.queryOne(ctx, op, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE id = $1`, subID)
}

// GetSubscriptionByPlatformID returns the company's newest subscription for a platform id.
func (s *SubscriptionStore) GetSubscriptionByPlatformID(ctx context.Context, platformSubscriptionID string, companyID int64) (*domain.Subscription, error) {
	const op = "subscription.get_by_platform_id"
	return s.queryOne(ctx, op, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE platform_subscription_id = $1 AND company_id = $2
		ORDER BY created_at DESC
		LIMIT 1`, platformSubscriptionID, companyID)
}

// GetSubscriptionByIdempotencyKey returns the subscription created with key.
func (s *SubscriptionStore) GetSubscriptionByIdempotencyKey(ctx context.Context, companyID int64, key string) (*domain.Subscription, error) {
	const op = "subscription.get_by_idempotency_key"
	if key == "" {
		return nil, nil
	}
	return s.queryOne(ctx, op, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE company_id = $1 AND idempotency_key = $2`, companyID, key)
}

// ListSubscriptions returns every subscription of a company, newest first.
func (s *SubscriptionStore) ListSubscriptions(ctx context.Context, companyID int64) ([]domain.Subscription, error) {
	const op = "subscription.list"

	rows, err := s.db.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE company_id = $1
		ORDER BY created_at DESC`, companyID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list subscriptions")
	}
	defer rows.Close()

	subs := []domain.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, domain.Internal(err, op, "failed to scan subscription")
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, op, "failed to list subscriptions")
	}

	return subs, nil
}

// =============================================================================
// MUTATIONS
// =============================================================================

// CreateSubscription inserts a pending subscription.
func (s *SubscriptionStore) CreateSubscription(ctx context.Context, params domain.CreateSubscriptionParams) (*domain.Subscription, error) {
	const op = "subscription.create"
	return s.insert(ctx, op, params.CompanyID, params.PlanID, params.PlatformSubscriptionID,
		domain.SubscriptionStatusPending, params.IdempotencyKey, params.Meta)
}

// CreateFreeSubscription inserts an active subscription with no platform id.
func (s *SubscriptionStore) CreateFreeSubscription(ctx context.Context, params domain.CreateFreeSubscriptionParams) (*domain.Subscription, error) {
	const op = "subscription.create_free"
	return s.insert(ctx, op, params.CompanyID, params.PlanID, "",
		domain.SubscriptionStatusActive, params.IdempotencyKey, params.Meta)
}

// ActivateSubscription marks a subscription active as of now.
func (s *SubscriptionStore) ActivateSubscription(ctx context.Context, id string, platformSubscriptionID string) (*domain.Subscription, error) {
	const op = "subscription.activate"
	subID, ok := parseUUID(id)
	if !ok {
		return nil, domain.NotFound(op, "subscription", id)
	}

	sub, err := s.queryOne(ctx, op, `
		UPDATE subscriptions
		SET status = 'active',
			activated_on = NOW(),
			platform_subscription_id = $2,
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+subscriptionColumns, subID, nullableText(platformSubscriptionID))
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.NotFound(op, "subscription", id)
	}
	return sub, nil
}

// CancelSubscription moves a subscription to cancelled or expired as of now.
func (s *SubscriptionStore) CancelSubscription(ctx context.Context, id string, status domain.SubscriptionStatus) (*domain.Subscription, error) {
	const op = "subscription.cancel"
	status, err := domain.CancelStatus(op, status)
	if err != nil {
		return nil, err
	}
	subID, ok := parseUUID(id)
	if !ok {
		return nil, domain.NotFound(op, "subscription", id)
	}

	sub, err := s.queryOne(ctx, op, `
		UPDATE subscriptions
		SET status = $2,
			cancelled_on = NOW(),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+subscriptionColumns, subID, string(status))
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.NotFound(op, "subscription", id)
	}
	return sub, nil
}

// RemoveSubscription deletes a subscription and returns the deleted row.
func (s *SubscriptionStore) RemoveSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	const op = "subscription.remove"
	subID, ok := parseUUID(id)
	if !ok {
		return nil, domain.NotFound(op, "subscription", id)
	}

	sub, err := s.queryOne(ctx, op, `
		DELETE FROM subscriptions
		WHERE id = $1
		RETURNING `+subscriptionColumns, subID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.NotFound(op, "subscription", id)
	}
	return sub, nil
}

// =============================================================================
// Helper Functions
// =============================================================================

func (s *SubscriptionStore) insert(ctx context.Context, op string, companyID int64, planID, platformID string,
	status domain.SubscriptionStatus, idempotencyKey string, meta map[string]any) (*domain.Subscription, error) {
	metaJSON, err := encodeMeta(meta)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to encode subscription meta")
	}

	activatedOn := "NULL"
	if status == domain.SubscriptionStatusActive {
		activatedOn = "NOW()"
	}

	sub, err := s.queryOne(ctx, op, `
		INSERT INTO subscriptions (id, company_id, plan_id, platform_subscription_id, status,
			activated_on, idempotency_key, meta)
		VALUES ($1, $2, $3, $4, $5, `+activatedOn+`, $6, $7)
		RETURNING `+subscriptionColumns,
		uuid.New().String(), companyID, planID, nullableText(platformID), string(status),
		nullableText(idempotencyKey), metaJSON)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// queryOne runs a single-row statement. No matching row yields (nil, nil).
func (s *SubscriptionStore) queryOne(ctx context.Context, op, query string, args ...any) (*domain.Subscription, error) {
	sub, err := scanSubscription(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		if isUniqueViolation(err) {
			return nil, domain.Conflict(op, "subscription with this idempotency key already exists")
		}
		return nil, domain.Internal(err, op, "subscription query failed")
	}
	return sub, nil
}

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var (
		sub         domain.Subscription
		platformID  pgtype.Text
		status      string
		activatedOn pgtype.Timestamptz
		cancelledOn pgtype.Timestamptz
		idemKey     pgtype.Text
		meta        []byte
	)

	err := row.Scan(
		&sub.ID, &sub.CompanyID, &sub.PlanID, &platformID, &status,
		&activatedOn, &cancelledOn, &idemKey, &meta, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sub.PlatformSubscriptionID = platformID.String
	sub.Status = domain.SubscriptionStatus(status)
	sub.ActivatedOn = timePtr(activatedOn)
	sub.CancelledOn = timePtr(cancelledOn)
	sub.IdempotencyKey = idemKey.String
	if sub.Meta, err = decodeMeta(meta); err != nil {
		return nil, err
	}

	return &sub, nil
}
