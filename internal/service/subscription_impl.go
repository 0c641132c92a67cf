package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/plansync/internal/billing"
	"github.com/dukerupert/plansync/internal/domain"
	"github.com/dukerupert/plansync/internal/events"
	"github.com/dukerupert/plansync/internal/lock"
	"github.com/dukerupert/plansync/internal/telemetry"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Options carries the optional collaborators of the subscription service.
// Zero values get in-process defaults.
type Options struct {
	Locker    lock.Locker                    // default: lock.NewLocalLocker()
	Publisher events.Publisher               // default: events.NopPublisher{}
	Metrics   *telemetry.SubscriptionMetrics // default: metrics on a private registry
	Logger    *slog.Logger                   // default: discard
}

// subscriptionService implements SubscriptionService interface
type subscriptionService struct {
	store     domain.SubscriptionStore
	catalog   domain.PlanCatalog
	config    Config
	locker    lock.Locker
	publisher events.Publisher
	metrics   *telemetry.SubscriptionMetrics
	logger    *slog.Logger
}

// NewSubscriptionService creates a new SubscriptionService instance
func NewSubscriptionService(store domain.SubscriptionStore, catalog domain.PlanCatalog, config Config, opts Options) (SubscriptionService, error) {
	if config.ExtensionID == "" {
		return nil, ErrMissingExtensionID
	}

	if opts.Locker == nil {
		opts.Locker = lock.NewLocalLocker()
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NopPublisher{}
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewSubscriptionMetrics(prometheus.NewRegistry(), "")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	return &subscriptionService{
		store:     store,
		catalog:   catalog,
		config:    config,
		locker:    opts.Locker,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		logger:    opts.Logger.With("service", "subscription"),
	}, nil
}

// SubscribePlan starts a subscription to a plan.
//
// Flow:
//  1. Replay an earlier result for a repeated idempotency key
//  2. Resolve the plan (inactive or out-of-scope plans are not found)
//  3. Free plan: create an active record, never contacting the authority
//  4. Paid plan: create the authority charge, then a pending record
//
// The authority is called before anything is written, so an authority
// failure leaves no local record behind.
func (s *subscriptionService) SubscribePlan(ctx context.Context, params SubscribeParams, authority billing.Authority) (*SubscribeResult, error) {
	const op = "subscription.subscribe"

	if params.PlanID == "" {
		return nil, ErrMissingPlanID
	}

	release, err := s.acquire(ctx, op, params.CompanyID)
	if err != nil {
		return nil, err
	}
	defer release()

	// Step 1: Replay
	if params.IdempotencyKey != "" {
		existing, err := s.store.GetSubscriptionByIdempotencyKey(ctx, params.CompanyID, params.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			s.metrics.SubscribeRequests.WithLabelValues("replayed").Inc()
			s.logger.Info("subscribe replayed",
				"company_id", params.CompanyID,
				"subscription_id", existing.ID,
				"idempotency_key", params.IdempotencyKey)
			return &SubscribeResult{
				PlatformSubscriptionID: existing.PlatformSubscriptionID,
				RedirectURL:            existing.ConfirmURL(),
			}, nil
		}
	}

	// Step 2: Plan
	plan, err := s.catalog.GetPlanByID(ctx, params.PlanID)
	if err != nil {
		return nil, err
	}
	if plan == nil || !plan.IsActive || !plan.VisibleTo(params.CompanyID) {
		return nil, ErrPlanNotFound
	}

	// Step 3: Free plan
	if !plan.IsPaid() {
		active, err := s.store.GetActiveSubscription(ctx, params.CompanyID)
		if err != nil {
			return nil, err
		}
		if active != nil {
			return nil, ErrActiveSubscriptionExists
		}

		sub, err := s.store.CreateFreeSubscription(ctx, domain.CreateFreeSubscriptionParams{
			CompanyID:      params.CompanyID,
			PlanID:         plan.ID,
			IdempotencyKey: params.IdempotencyKey,
		})
		if err != nil {
			s.metrics.SubscribeRequests.WithLabelValues("error").Inc()
			return nil, err
		}

		s.metrics.SubscribeRequests.WithLabelValues("free").Inc()
		s.publish(ctx, events.TypeCreated, sub)
		s.logger.Info("free subscription created",
			"company_id", sub.CompanyID,
			"subscription_id", sub.ID,
			"plan_id", plan.ID)

		return &SubscribeResult{}, nil
	}

	// Step 4: Paid plan
	if authority == nil {
		return nil, ErrAuthorityRequired
	}
	if params.CallbackURL == "" {
		return nil, ErrMissingCallbackURL
	}

	charge, err := s.createCharge(ctx, authority, params, plan)
	if err != nil {
		s.metrics.SubscribeRequests.WithLabelValues("error").Inc()
		s.logger.Error("failed to create subscription charge",
			"company_id", params.CompanyID,
			"plan_id", plan.ID,
			"error", err)
		return nil, authorityFailure(err, op, "billing authority failed to create subscription charge")
	}

	meta := map[string]any{}
	if charge.ConfirmURL != "" {
		meta[domain.MetaConfirmURL] = charge.ConfirmURL
	}

	sub, err := s.store.CreateSubscription(ctx, domain.CreateSubscriptionParams{
		CompanyID:              params.CompanyID,
		PlanID:                 plan.ID,
		PlatformSubscriptionID: charge.ID,
		IdempotencyKey:         params.IdempotencyKey,
		Meta:                   meta,
	})
	if err != nil {
		s.metrics.SubscribeRequests.WithLabelValues("error").Inc()
		s.logger.Error("charge created but subscription not stored",
			"company_id", params.CompanyID,
			"platform_subscription_id", charge.ID,
			"error", err)
		return nil, err
	}

	s.metrics.SubscribeRequests.WithLabelValues("paid").Inc()
	s.publish(ctx, events.TypeCreated, sub)
	s.logger.Info("pending subscription created",
		"company_id", sub.CompanyID,
		"subscription_id", sub.ID,
		"platform_subscription_id", charge.ID,
		"plan_id", plan.ID)

	return &SubscribeResult{
		PlatformSubscriptionID: charge.ID,
		RedirectURL:            sub.ConfirmURL(),
	}, nil
}

// UpdateSubscriptionStatus reconciles a record with the authority after the
// merchant acts on the charge.
//
// Flow:
//  1. Short-circuit placeholder ids (free plan callbacks)
//  2. Find the local record by platform id
//  3. Find the company's current active record
//  4. Ask the authority for the charge status
//  5. Terminal records are never touched again
//  6. Active records follow the authority: kept, or cancelled/expired
//  7. Pending and authority active: activate and cancel the one it supersedes
//  8. Pending and anything else: the merchant declined; delete the record
func (s *subscriptionService) UpdateSubscriptionStatus(ctx context.Context, companyID int64, platformSubscriptionID string, authority billing.Authority) (*SubscriptionUpdate, error) {
	const op = "subscription.update_status"

	// Step 1: Placeholder ids
	if isPlaceholderID(platformSubscriptionID) {
		s.metrics.StatusUpdates.WithLabelValues("free_ignored").Inc()
		return &SubscriptionUpdate{Message: MsgFreeSubscription}, nil
	}
	if authority == nil {
		return nil, ErrAuthorityRequired
	}

	release, err := s.acquire(ctx, op, companyID)
	if err != nil {
		return nil, err
	}
	defer release()

	// Step 2: Local record
	record, err := s.store.GetSubscriptionByPlatformID(ctx, platformSubscriptionID, companyID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		s.metrics.StatusUpdates.WithLabelValues("not_found").Inc()
		return &SubscriptionUpdate{Message: msgNotFound(platformSubscriptionID)}, nil
	}

	// Step 3: Current active record
	existing, err := s.store.GetActiveSubscription(ctx, companyID)
	if err != nil {
		return nil, err
	}

	// Step 4: Authority status
	charge, err := s.getCharge(ctx, authority, companyID, platformSubscriptionID)
	if errors.Is(err, billing.ErrChargeNotFound) {
		s.metrics.StatusUpdates.WithLabelValues("authority_not_found").Inc()
		s.logger.Warn("subscription unknown to billing authority",
			"company_id", companyID,
			"platform_subscription_id", platformSubscriptionID)
		return &SubscriptionUpdate{
			Subscription: record,
			Message:      msgNotFoundOnAuthority(platformSubscriptionID),
		}, nil
	}
	if err != nil {
		s.metrics.StatusUpdates.WithLabelValues("error").Inc()
		return nil, authorityFailure(err, op, "billing authority failed to return subscription charge")
	}

	// Step 5: Terminal records
	if record.Status.IsTerminal() {
		s.metrics.StatusUpdates.WithLabelValues("ended").Inc()
		s.logger.Info("callback for ended subscription ignored",
			"company_id", companyID,
			"subscription_id", record.ID,
			"status", record.Status,
			"authority_status", charge.Status)
		return &SubscriptionUpdate{
			Subscription: record,
			Message:      MsgSubscriptionEnded,
		}, nil
	}

	// Step 6: Active records
	if record.Status == domain.SubscriptionStatusActive {
		if charge.Status == billing.ChargeStatusActive {
			s.metrics.StatusUpdates.WithLabelValues("already_active").Inc()
			return &SubscriptionUpdate{
				Success:      true,
				Subscription: record,
				Message:      MsgSubscriptionActivated,
			}, nil
		}

		updated, err := s.endSubscription(ctx, record, charge.Status)
		if err != nil {
			return nil, err
		}
		s.metrics.StatusUpdates.WithLabelValues("ended").Inc()
		return &SubscriptionUpdate{
			Subscription: updated,
			Message:      MsgSubscriptionEnded,
		}, nil
	}

	record.Status = domain.SubscriptionStatus(charge.Status)

	// Step 7: Activation
	if record.Status == domain.SubscriptionStatusActive {
		activated, err := s.store.ActivateSubscription(ctx, record.ID, platformSubscriptionID)
		if err != nil {
			return nil, err
		}
		s.publish(ctx, events.TypeActivated, activated)

		if existing != nil && existing.ID != record.ID {
			cancelled, err := s.store.CancelSubscription(ctx, existing.ID, domain.SubscriptionStatusCancelled)
			if err != nil {
				return nil, err
			}
			s.metrics.Superseded.Inc()
			s.publish(ctx, events.TypeCancelled, cancelled)
			s.logger.Info("superseded subscription cancelled",
				"company_id", companyID,
				"subscription_id", cancelled.ID)
		}

		s.metrics.StatusUpdates.WithLabelValues("activated").Inc()
		s.logger.Info("subscription activated",
			"company_id", companyID,
			"subscription_id", activated.ID,
			"platform_subscription_id", platformSubscriptionID)

		return &SubscriptionUpdate{
			Success:      true,
			Subscription: activated,
			Message:      MsgSubscriptionActivated,
		}, nil
	}

	// Step 8: Decline
	if _, err := s.store.RemoveSubscription(ctx, record.ID); err != nil {
		return nil, err
	}
	s.publish(ctx, events.TypeDeclined, record)
	s.metrics.StatusUpdates.WithLabelValues("declined").Inc()
	s.logger.Info("subscription declined",
		"company_id", companyID,
		"subscription_id", record.ID,
		"platform_subscription_id", platformSubscriptionID,
		"authority_status", charge.Status)

	return &SubscriptionUpdate{
		Subscription: record,
		Message:      MsgSubscriptionDeclined,
	}, nil
}

// GetActiveSubscription returns the active record, corrected to the authority's view.
func (s *subscriptionService) GetActiveSubscription(ctx context.Context, companyID int64, authority billing.Authority) (*domain.Subscription, error) {
	const op = "subscription.get_active"

	if authority == nil {
		return s.store.GetActiveSubscription(ctx, companyID)
	}

	release, err := s.acquire(ctx, op, companyID)
	if err != nil {
		return nil, err
	}
	defer release()

	sub, err := s.store.GetActiveSubscription(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if sub == nil || sub.IsFree() {
		return sub, nil
	}

	charge, err := s.getCharge(ctx, authority, companyID, sub.PlatformSubscriptionID)
	if errors.Is(err, billing.ErrChargeNotFound) {
		s.metrics.IntegrityViolations.Inc()
		s.logger.Error("active subscription unknown to billing authority",
			"company_id", companyID,
			"subscription_id", sub.ID,
			"platform_subscription_id", sub.PlatformSubscriptionID)
		telemetry.Capture(ctx,
			fmt.Errorf("%w: %s", ErrIntegrityViolation, sub.PlatformSubscriptionID),
			companyID,
			map[string]interface{}{
				"subscription_id":          sub.ID,
				"platform_subscription_id": sub.PlatformSubscriptionID,
			})
		return nil, nil
	}
	if err != nil {
		return nil, authorityFailure(err, op, "billing authority failed to return subscription charge")
	}

	if charge.Status == string(sub.Status) {
		return sub, nil
	}

	return s.endSubscription(ctx, sub, charge.Status)
}

// GetActivePlans lists the active plans visible to the company.
func (s *subscriptionService) GetActivePlans(ctx context.Context, companyID int64) (*PlanList, error) {
	plans, err := s.catalog.GetActivePlans(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return &PlanList{Plans: plans}, nil
}

// ListSubscriptions returns the company's subscription history.
func (s *subscriptionService) ListSubscriptions(ctx context.Context, companyID int64) ([]domain.Subscription, error) {
	return s.store.ListSubscriptions(ctx, companyID)
}

// =============================================================================
// Helper Functions
// =============================================================================

// authorityFailure maps an authority error to unavailable when a retry may
// succeed, and to internal when the request itself was rejected.
func authorityFailure(err error, op, message string) error {
	if billing.IsTemporary(err) {
		return domain.Unavailable(err, op, message)
	}
	return domain.Internal(err, op, message)
}

// isPlaceholderID reports whether a callback carried no real platform id.
func isPlaceholderID(id string) bool {
	switch id {
	case "", "undefined", "null":
		return true
	}
	return false
}

// endSubscription moves an active record to the terminal status matching the
// authority's view: expired when the authority says so, cancelled otherwise.
func (s *subscriptionService) endSubscription(ctx context.Context, sub *domain.Subscription, authorityStatus string) (*domain.Subscription, error) {
	status := domain.SubscriptionStatusCancelled
	eventType := events.TypeCancelled
	if authorityStatus == billing.ChargeStatusExpired {
		status = domain.SubscriptionStatusExpired
		eventType = events.TypeExpired
	}

	updated, err := s.store.CancelSubscription(ctx, sub.ID, status)
	if err != nil {
		return nil, err
	}

	s.metrics.DriftCorrections.WithLabelValues(string(status)).Inc()
	s.publish(ctx, eventType, updated)
	s.logger.Warn("subscription corrected to billing authority status",
		"company_id", sub.CompanyID,
		"subscription_id", sub.ID,
		"authority_status", authorityStatus,
		"new_status", status)

	return updated, nil
}

func (s *subscriptionService) acquire(ctx context.Context, op string, companyID int64) (func(), error) {
	start := time.Now()
	release, err := s.locker.Acquire(ctx, lock.CompanyKey(companyID))
	s.metrics.LockWait.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, domain.WrapError(err, domain.ECONFLICT, op, "another request for this company is in progress")
	}
	return release, nil
}

func (s *subscriptionService) createCharge(ctx context.Context, authority billing.Authority, params SubscribeParams, plan *domain.Plan) (*billing.Charge, error) {
	ctx, finish := telemetry.StartSpan(ctx, "billing.create_charge", plan.ID)
	defer finish()
	telemetry.AddBreadcrumb(ctx, "billing", "create subscription charge", map[string]interface{}{
		"company_id": params.CompanyID,
		"plan_id":    plan.ID,
	})

	start := time.Now()
	charge, err := authority.CreateSubscriptionCharge(ctx, billing.CreateChargeParams{
		ExtensionID: s.config.ExtensionID,
		CompanyID:   params.CompanyID,
		Body: billing.ChargeRequest{
			Name: plan.Name,
			LineItems: []billing.LineItem{{
				Name: plan.Name,
				Term: plan.Tagline,
				Price: billing.LineItemPrice{
					Amount:       plan.Price.Amount,
					CurrencyCode: plan.Price.Currency,
				},
				PricingType: string(plan.EffectivePricingType()),
				Interval:    string(plan.Interval),
			}},
			ReturnURL: params.CallbackURL,
		},
		IdempotencyKey: params.IdempotencyKey,
	})
	s.metrics.AuthorityLatency.WithLabelValues("create_charge", authorityResult(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if charge == nil || charge.ID == "" {
		return nil, fmt.Errorf("billing authority returned no charge id")
	}
	return charge, nil
}

func (s *subscriptionService) getCharge(ctx context.Context, authority billing.Authority, companyID int64, platformSubscriptionID string) (*billing.Charge, error) {
	ctx, finish := telemetry.StartSpan(ctx, "billing.get_charge", platformSubscriptionID)
	defer finish()

	start := time.Now()
	charge, err := authority.GetSubscriptionCharge(ctx, billing.GetChargeParams{
		ExtensionID:    s.config.ExtensionID,
		CompanyID:      companyID,
		SubscriptionID: platformSubscriptionID,
	})
	s.metrics.AuthorityLatency.WithLabelValues("get_charge", authorityResult(err)).Observe(time.Since(start).Seconds())
	if err == nil && charge == nil {
		return nil, billing.ErrChargeNotFound
	}
	return charge, err
}

func authorityResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, billing.ErrChargeNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func (s *subscriptionService) publish(ctx context.Context, eventType string, sub *domain.Subscription) {
	event := events.Event{
		ID:                     uuid.NewString(),
		Type:                   eventType,
		CompanyID:              sub.CompanyID,
		SubscriptionID:         sub.ID,
		PlanID:                 sub.PlanID,
		PlatformSubscriptionID: sub.PlatformSubscriptionID,
		Status:                 string(sub.Status),
		OccurredAt:             time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish subscription event",
			"event_type", eventType,
			"subscription_id", sub.ID,
			"error", err)
	}
}
