package postgres

import (
	"context"
	"errors"

	"github.com/dukerupert/plansync/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// PlanCatalog implements domain.PlanCatalog using PostgreSQL.
type PlanCatalog struct {
	db DBTX
}

// Compile-time check that PlanCatalog implements domain.PlanCatalog.
var _ domain.PlanCatalog = (*PlanCatalog)(nil)

// NewPlanCatalog creates a new PostgreSQL-backed plan catalog.
func NewPlanCatalog(db DBTX) *PlanCatalog {
	return &PlanCatalog{db: db}
}

const planColumns = `id, name, tagline, price_amount, price_currency, pricing_type, interval,
	company_ids, features, is_active, meta, created_at, updated_at`

// GetPlanByID returns a plan by id regardless of its active flag.
func (c *PlanCatalog) GetPlanByID(ctx context.Context, id string) (*domain.Plan, error) {
	const op = "plan.get"

	plan, err := scanPlan(c.db.QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, domain.Internal(err, op, "failed to get plan")
	}
	return plan, nil
}

// GetActivePlans returns active plans that are unscoped or scoped to companyID,
// cheapest first.
func (c *PlanCatalog) GetActivePlans(ctx context.Context, companyID int64) ([]domain.Plan, error) {
	const op = "plan.list_active"

	rows, err := c.db.Query(ctx, `
		SELECT `+planColumns+`
		FROM plans
		WHERE is_active
		  AND (cardinality(company_ids) = 0 OR $1 = ANY(company_ids))
		ORDER BY price_amount, name`, companyID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list plans")
	}
	defer rows.Close()

	plans := []domain.Plan{}
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, domain.Internal(err, op, "failed to scan plan")
		}
		plans = append(plans, *plan)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, op, "failed to list plans")
	}

	return plans, nil
}

func scanPlan(row pgx.Row) (*domain.Plan, error) {
	var (
		plan        domain.Plan
		amount      decimal.Decimal
		pricingType string
		interval    string
		meta        []byte
	)

	err := row.Scan(
		&plan.ID, &plan.Name, &plan.Tagline, &amount, &plan.Price.Currency, &pricingType, &interval,
		&plan.CompanyIDs, &plan.Features, &plan.IsActive, &meta, &plan.CreatedAt, &plan.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	plan.Price.Amount = amount
	plan.PricingType = domain.PricingType(pricingType)
	plan.Interval = domain.PlanInterval(interval)
	if plan.Meta, err = decodeMeta(meta); err != nil {
		return nil, err
	}

	return &plan, nil
}
