package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CreatePlan inserts a new subscription plan
func (r *Repository) CreatePlan(ctx context.Context, plan *SubscriptionPlan) error {
	err := r.db.Pool.QueryRow(ctx, `
	INSERT INTO subscription_plans (name, description, price, duration_days, max_accounts, is_active)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING id, created_at
	`, plan.Name, plan.Description, plan.Price, plan.DurationDays,
		plan.MaxAccounts, plan.IsActive).Scan(&plan.ID, &plan.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create plan: %w", err)
	}
	return nil
}

// GetPlan fetches a plan by ID, nil when not found
func (r *Repository) GetPlan(ctx context.Context, id string) (*SubscriptionPlan, error) {
	var plan SubscriptionPlan
	err := r.db.Pool.QueryRow(ctx, `
	SELECT id, name, COALESCE(description, ''), price, duration_days, max_accounts, is_active, created_at
	FROM subscription_plans
	WHERE id = $1
	`, id).Scan(&plan.ID, &plan.Name, &plan.Description, &plan.Price,
		&plan.DurationDays, &plan.MaxAccounts, &plan.IsActive, &plan.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return &plan, nil
}

// ListPlans returns plans, optionally only the purchasable ones
func (r *Repository) ListPlans(ctx context.Context, activeOnly bool) ([]SubscriptionPlan, error) {
	query := `
	SELECT id, name, COALESCE(description, ''), price, duration_days, max_accounts, is_active, created_at
	FROM subscription_plans`
	if activeOnly {
		query += ` WHERE is_active = true`
	}
	query += ` ORDER BY price ASC`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var plans []SubscriptionPlan
	for rows.Next() {
		var p SubscriptionPlan
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Price,
			&p.DurationDays, &p.MaxAccounts, &p.IsActive, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, nil
}

// UpdatePlan updates a plan's mutable fields
func (r *Repository) UpdatePlan(ctx context.Context, plan *SubscriptionPlan) error {
	_, err := r.db.Pool.Exec(ctx, `
	UPDATE subscription_plans
	SET name = $2, description = $3, price = $4, duration_days = $5, max_accounts = $6, is_active = $7
	WHERE id = $1
	`, plan.ID, plan.Name, plan.Description, plan.Price,
		plan.DurationDays, plan.MaxAccounts, plan.IsActive)
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	return nil
}

// DeactivatePlan hides a plan from the catalog without touching the
// licenses already issued against it
func (r *Repository) DeactivatePlan(ctx context.Context, id string) error {
	_, err := r.db.Pool.Exec(ctx, `
	UPDATE subscription_plans SET is_active = false WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate plan: %w", err)
	}
	return nil
}
