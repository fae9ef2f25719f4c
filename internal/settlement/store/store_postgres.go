package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/google/uuid"

	"splitledger/internal/settlement/models"
	id "splitledger/pkg/domain"
	"splitledger/pkg/platform/sentinel"
)

// PostgresStore persists the ledger in PostgreSQL via pgx.
//
// Schema (migrations are a deployment concern):
//
//	group_expenses(id uuid pk, group_id uuid, payer_id uuid, category text,
//	        description text, amount_cents bigint, currency text,
//	        created_at timestamptz, reversed bool)
//	expense_splits(expense_id uuid, user_id uuid, amount_cents bigint,
//	        primary key (expense_id, user_id))
//	group_balances(group_id uuid, user_id uuid, net_cents bigint,
//	        primary key (group_id, user_id))
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) SaveExpense(ctx context.Context, expense *models.Expense, shares []models.Share) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO group_expenses
			(id, group_id, payer_id, category, description, amount_cents, currency, created_at, reversed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false)
	`,
		uuid.UUID(expense.ID), uuid.UUID(expense.GroupID), uuid.UUID(expense.PayerID),
		expense.Category, expense.Description, expense.AmountCents, expense.Currency,
		expense.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert expense: %w", err)
	}

	for _, sh := range shares {
		_, err = tx.Exec(ctx, `
			INSERT INTO expense_splits (expense_id, user_id, amount_cents)
			VALUES ($1, $2, $3)
		`, uuid.UUID(expense.ID), uuid.UUID(sh.UserID), sh.AmountCents)
		if err != nil {
			return fmt.Errorf("insert split: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetExpense(ctx context.Context, expenseID id.ExpenseID) (*models.Expense, []models.Share, error) {
	e := &models.Expense{}
	var eid, gid, pid uuid.UUID
	err := s.pool.QueryRow(ctx, `
		SELECT id, group_id, payer_id, category, description, amount_cents,
			currency, created_at, reversed
		FROM group_expenses WHERE id = $1
	`, uuid.UUID(expenseID)).Scan(&eid, &gid, &pid, &e.Category, &e.Description,
		&e.AmountCents, &e.Currency, &e.CreatedAt, &e.Reversed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get expense: %w", err)
	}
	e.ID = id.ExpenseID(eid)
	e.GroupID = id.GroupID(gid)
	e.PayerID = id.UserID(pid)

	rows, err := s.pool.Query(ctx, `
		SELECT user_id, amount_cents FROM expense_splits WHERE expense_id = $1
	`, uuid.UUID(expenseID))
	if err != nil {
		return nil, nil, fmt.Errorf("get splits: %w", err)
	}
	defer rows.Close()

	var shares []models.Share
	for rows.Next() {
		var uid uuid.UUID
		var amount int64
		if err := rows.Scan(&uid, &amount); err != nil {
			return nil, nil, fmt.Errorf("scan split: %w", err)
		}
		shares = append(shares, models.Share{UserID: id.UserID(uid), AmountCents: amount})
	}
	return e, shares, rows.Err()
}

func (s *PostgresStore) MarkReversed(ctx context.Context, expenseID id.ExpenseID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE group_expenses SET reversed = true
		WHERE id = $1 AND reversed = false
	`, uuid.UUID(expenseID))
	if err != nil {
		return fmt.Errorf("mark reversed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *PostgresStore) ApplyDeltas(ctx context.Context, groupID id.GroupID, deltas map[id.UserID]int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for user, delta := range deltas {
		_, err = tx.Exec(ctx, `
			INSERT INTO group_balances (group_id, user_id, net_cents)
			VALUES ($1, $2, $3)
			ON CONFLICT (group_id, user_id) DO UPDATE SET
				net_cents = group_balances.net_cents + EXCLUDED.net_cents
		`, uuid.UUID(groupID), uuid.UUID(user), delta)
		if err != nil {
			return fmt.Errorf("apply delta: %w", err)
		}
	}
	// Settled members drop out of the vector.
	_, err = tx.Exec(ctx, `
		DELETE FROM group_balances WHERE group_id = $1 AND net_cents = 0
	`, uuid.UUID(groupID))
	if err != nil {
		return fmt.Errorf("prune settled balances: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) NetBalances(ctx context.Context, groupID id.GroupID) (map[id.UserID]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, net_cents FROM group_balances WHERE group_id = $1
	`, uuid.UUID(groupID))
	if err != nil {
		return nil, fmt.Errorf("net balances: %w", err)
	}
	defer rows.Close()

	out := make(map[id.UserID]int64)
	for rows.Next() {
		var uid uuid.UUID
		var net int64
		if err := rows.Scan(&uid, &net); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		out[id.UserID(uid)] = net
	}
	return out, rows.Err()
}

// GroupExpenses lists non-reversed expenses for a group, newest first.
func (s *PostgresStore) GroupExpenses(ctx context.Context, groupID id.GroupID) ([]*models.Expense, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, group_id, payer_id, category, description, amount_cents,
			currency, created_at, reversed
		FROM group_expenses
		WHERE group_id = $1 AND reversed = false
		ORDER BY created_at DESC
	`, uuid.UUID(groupID))
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return scanExpenses(rows)
}

// PersonalExpenses lists non-reversed ungrouped expenses for a payer, newest
// first. Ungrouped rows carry the zero uuid in group_id.
func (s *PostgresStore) PersonalExpenses(ctx context.Context, payerID id.UserID) ([]*models.Expense, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, group_id, payer_id, category, description, amount_cents,
			currency, created_at, reversed
		FROM group_expenses
		WHERE payer_id = $1 AND group_id = $2 AND reversed = false
		ORDER BY created_at DESC
	`, uuid.UUID(payerID), uuid.Nil)
	if err != nil {
		return nil, fmt.Errorf("list personal expenses: %w", err)
	}
	return scanExpenses(rows)
}

func scanExpenses(rows pgx.Rows) ([]*models.Expense, error) {
	defer rows.Close()

	var out []*models.Expense
	for rows.Next() {
		e := &models.Expense{}
		var eid, gid, pid uuid.UUID
		if err := rows.Scan(&eid, &gid, &pid, &e.Category, &e.Description,
			&e.AmountCents, &e.Currency, &e.CreatedAt, &e.Reversed); err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		e.ID = id.ExpenseID(eid)
		e.GroupID = id.GroupID(gid)
		e.PayerID = id.UserID(pid)
		out = append(out, e)
	}
	return out, rows.Err()
}
