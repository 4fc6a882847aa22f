package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowstate/pkg/models"
	"github.com/dukex/flowstate/pkg/persistence"
)

// DelegationRepository handles delegation database operations.
type DelegationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *DelegationRepository) Save(ctx context.Context, delegation *models.Delegation) error {
	query := `
		INSERT INTO delegations
			(id, delegator_id, delegatee_id, starts_at, ends_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			delegatee_id = EXCLUDED.delegatee_id
		  , starts_at = EXCLUDED.starts_at
		  , ends_at = EXCLUDED.ends_at
	`

	_, err := r.db.ExecContext(ctx, query,
		delegation.ID,
		delegation.DelegatorID,
		delegation.DelegateeID,
		delegation.StartsAt,
		delegation.EndsAt,
		delegation.CreatedAt,
	)
	if err != nil {
		return persistence.NewStorageError("Save", "delegation", delegation.ID, err)
	}

	return nil
}

func (r *DelegationRepository) GetByID(ctx context.Context, id string) (*models.Delegation, error) {
	query := `
		SELECT id, delegator_id, delegatee_id, starts_at, ends_at, created_at
		FROM delegations
		WHERE id = $1
	`

	delegation := &models.Delegation{}

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&delegation.ID,
		&delegation.DelegatorID,
		&delegation.DelegateeID,
		&delegation.StartsAt,
		&delegation.EndsAt,
		&delegation.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStorageError("GetByID", "delegation", id, persistence.ErrDelegationNotFound)
		}

		return nil, persistence.NewStorageError("GetByID", "delegation", id, err)
	}

	return delegation, nil
}

func (r *DelegationRepository) ActiveForDelegator(ctx context.Context, userID string, asOf time.Time) ([]*models.Delegation, error) {
	query := `
		SELECT id, delegator_id, delegatee_id, starts_at, ends_at, created_at
		FROM delegations
		WHERE delegator_id = $1 AND starts_at <= $2 AND ends_at >= $2
		ORDER BY created_at DESC
	`

	return r.list(ctx, "ActiveForDelegator", query, userID, asOf)
}

func (r *DelegationRepository) ListForUser(ctx context.Context, userID string) ([]*models.Delegation, error) {
	query := `
		SELECT id, delegator_id, delegatee_id, starts_at, ends_at, created_at
		FROM delegations
		WHERE delegator_id = $1 OR delegatee_id = $1
		ORDER BY created_at DESC
	`

	return r.list(ctx, "ListForUser", query, userID)
}

func (r *DelegationRepository) list(ctx context.Context, op, query string, args ...any) ([]*models.Delegation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence.NewStorageError(op, "delegation", "", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	delegations := make([]*models.Delegation, 0)

	for rows.Next() {
		delegation := &models.Delegation{}

		err := rows.Scan(
			&delegation.ID,
			&delegation.DelegatorID,
			&delegation.DelegateeID,
			&delegation.StartsAt,
			&delegation.EndsAt,
			&delegation.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delegation: %w", err)
		}

		delegations = append(delegations, delegation)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating delegations: %w", err)
	}

	return delegations, nil
}
