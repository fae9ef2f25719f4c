package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"splitledger/internal/budget/models"
	id "splitledger/pkg/domain"
	dErrors "splitledger/pkg/domain-errors"
	"splitledger/pkg/platform/sentinel"
	"splitledger/pkg/platform/tx"
)

// PostgresStore persists budgets and period state in PostgreSQL.
//
// Schema (managed by the deployment's migration tooling, out of scope here):
//
//	budgets(id uuid pk, owner_id uuid, group_id uuid null, category text,
//	        limit_cents bigint, currency text, period_start timestamptz,
//	        period_end timestamptz, cadence text, thresholds int[],
//	        created_at timestamptz)
//	budget_period_states(budget_id uuid, period_id uuid, period_start
//	        timestamptz, period_end timestamptz, spend_cents bigint,
//	        fired int[], archived bool, primary key (budget_id, period_id))
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q returns the ambient transaction when the caller opened one, otherwise the
// pool.
func (s *PostgresStore) q(ctx context.Context) querier {
	if t, ok := tx.From(ctx); ok {
		return t
	}
	return s.db
}

// Create runs the overlap check and the insert inside one transaction so a
// failed insert never publishes a half-created budget.
func (s *PostgresStore) Create(ctx context.Context, budget *models.Budget) error {
	return tx.Run(ctx, s.db, func(ctx context.Context) error {
		var overlapping bool
		err := s.q(ctx).QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM budgets
				WHERE owner_id = $1 AND category = $2
				  AND period_start < $4 AND $3 < period_end
			)
		`, uuid.UUID(budget.OwnerID), budget.Category, budget.Start, budget.End).Scan(&overlapping)
		if err != nil {
			return fmt.Errorf("check budget overlap: %w", err)
		}
		if overlapping {
			return dErrors.Wrap(sentinel.ErrConflict, dErrors.CodeConflict,
				"an active budget already covers this date range; update it instead")
		}

		_, err = s.q(ctx).ExecContext(ctx, `
			INSERT INTO budgets (id, owner_id, group_id, category, limit_cents,
				currency, period_start, period_end, cadence, thresholds, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`,
			uuid.UUID(budget.ID), uuid.UUID(budget.OwnerID), nullUUID(uuid.UUID(budget.GroupID)),
			budget.Category, budget.LimitCents, budget.Currency,
			budget.Start, budget.End, string(budget.Cadence),
			pq.Array(budget.Thresholds), budget.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert budget: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) Get(ctx context.Context, budgetID id.BudgetID) (*models.Budget, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT id, owner_id, group_id, category, limit_cents, currency,
			period_start, period_end, cadence, thresholds, created_at
		FROM budgets WHERE id = $1
	`, uuid.UUID(budgetID))
	b, err := scanBudget(row)
	if err == sql.ErrNoRows {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get budget: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) ListForOwner(ctx context.Context, ownerID id.UserID, category string, at time.Time) ([]*models.Budget, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, owner_id, group_id, category, limit_cents, currency,
			period_start, period_end, cadence, thresholds, created_at
		FROM budgets
		WHERE owner_id = $1 AND (category = '' OR category = $2)
	`, uuid.UUID(ownerID), category)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	defer rows.Close()

	var out []*models.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		// Recurring-window containment is cheaper to decide in Go than SQL.
		if b.AppliesTo(category, at) {
			out = append(out, b)
		}
	}
	return out, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, budgetID id.BudgetID) error {
	res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM budgets WHERE id = $1`, uuid.UUID(budgetID))
	if err != nil {
		return fmt.Errorf("delete budget: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CurrentState(ctx context.Context, budgetID id.BudgetID) (*models.PeriodState, error) {
	st := &models.PeriodState{}
	var bid, pid uuid.UUID
	var fired pq.Int64Array
	err := s.q(ctx).QueryRowContext(ctx, `
		SELECT budget_id, period_id, period_start, period_end, spend_cents, fired
		FROM budget_period_states
		WHERE budget_id = $1 AND archived = false
	`, uuid.UUID(budgetID)).Scan(&bid, &pid, &st.Start, &st.End, &st.SpendCents, &fired)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get period state: %w", err)
	}
	st.BudgetID = id.BudgetID(bid)
	st.PeriodID = id.PeriodID(pid)
	st.Fired = make([]int, len(fired))
	for i, f := range fired {
		st.Fired[i] = int(f)
	}
	return st, nil
}

func (s *PostgresStore) SaveState(ctx context.Context, state *models.PeriodState) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO budget_period_states
			(budget_id, period_id, period_start, period_end, spend_cents, fired, archived)
		VALUES ($1, $2, $3, $4, $5, $6, false)
		ON CONFLICT (budget_id, period_id) DO UPDATE SET
			spend_cents = EXCLUDED.spend_cents,
			fired = EXCLUDED.fired
	`,
		uuid.UUID(state.BudgetID), uuid.UUID(state.PeriodID),
		state.Start, state.End, state.SpendCents, pq.Array(state.Fired),
	)
	if err != nil {
		return fmt.Errorf("save period state: %w", err)
	}
	return nil
}

func (s *PostgresStore) ArchiveState(ctx context.Context, budgetID id.BudgetID, periodID id.PeriodID) error {
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE budget_period_states SET archived = true
		WHERE budget_id = $1 AND period_id = $2 AND archived = false
	`, uuid.UUID(budgetID), uuid.UUID(periodID))
	if err != nil {
		return fmt.Errorf("archive period state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func scanBudget(row interface{ Scan(...any) error }) (*models.Budget, error) {
	b := &models.Budget{}
	var bid uuid.UUID
	var gid uuid.NullUUID
	var oid uuid.UUID
	var cadence string
	var thresholds pq.Int64Array
	err := row.Scan(&bid, &oid, &gid, &b.Category, &b.LimitCents, &b.Currency,
		&b.Start, &b.End, &cadence, &thresholds, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	b.ID = id.BudgetID(bid)
	b.OwnerID = id.UserID(oid)
	if gid.Valid {
		b.GroupID = id.GroupID(gid.UUID)
	}
	b.Cadence = models.Cadence(cadence)
	b.Thresholds = make([]int, len(thresholds))
	for i, t := range thresholds {
		b.Thresholds[i] = int(t)
	}
	return b, nil
}

func nullUUID(u uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: u, Valid: u != uuid.Nil}
}
