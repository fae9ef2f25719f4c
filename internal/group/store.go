// Package group holds the membership boundary the core consumes. Full group
// management (invitations, roles) lives in the surrounding system; the core
// only needs to resolve active members.
package group

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/google/uuid"

	id "splitledger/pkg/domain"
	"splitledger/pkg/platform/tx"
)

// Store resolves and maintains group membership.
type Store interface {
	Members(ctx context.Context, groupID id.GroupID) ([]id.UserID, error)
	AddMember(ctx context.Context, groupID id.GroupID, userID id.UserID) error
	RemoveMember(ctx context.Context, groupID id.GroupID, userID id.UserID) error
}

// MemoryStore keeps membership in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	members map[id.GroupID]map[id.UserID]bool
}

func NewMemory() *MemoryStore {
	return &MemoryStore{members: make(map[id.GroupID]map[id.UserID]bool)}
}

func (s *MemoryStore) Members(ctx context.Context, groupID id.GroupID) ([]id.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]id.UserID, 0, len(s.members[groupID]))
	for user := range s.members[groupID] {
		out = append(out, user)
	}
	return out, nil
}

func (s *MemoryStore) AddMember(ctx context.Context, groupID id.GroupID, userID id.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	group := s.members[groupID]
	if group == nil {
		group = make(map[id.UserID]bool)
		s.members[groupID] = group
	}
	group[userID] = true
	return nil
}

func (s *MemoryStore) RemoveMember(ctx context.Context, groupID id.GroupID, userID id.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members[groupID], userID)
	return nil
}

// PostgresStore resolves membership from the group_members table
// (group_id uuid, user_id uuid, status text).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) q(ctx context.Context) querier {
	if t, ok := tx.From(ctx); ok {
		return t
	}
	return s.db
}

func (s *PostgresStore) Members(ctx context.Context, groupID id.GroupID) ([]id.UserID, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT user_id FROM group_members
		WHERE group_id = $1 AND status = 'active'
	`, uuid.UUID(groupID))
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	defer rows.Close()

	var out []id.UserID
	for rows.Next() {
		var uid uuid.UUID
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, id.UserID(uid))
	}
	return out, rows.Err()
}

func (s *PostgresStore) AddMember(ctx context.Context, groupID id.GroupID, userID id.UserID) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id, status)
		VALUES ($1, $2, 'active')
		ON CONFLICT (group_id, user_id) DO UPDATE SET status = 'active'
	`, uuid.UUID(groupID), uuid.UUID(userID))
	if err != nil {
		return fmt.Errorf("add group member: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveMember(ctx context.Context, groupID id.GroupID, userID id.UserID) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		UPDATE group_members SET status = 'removed'
		WHERE group_id = $1 AND user_id = $2
	`, uuid.UUID(groupID), uuid.UUID(userID))
	if err != nil {
		return fmt.Errorf("remove group member: %w", err)
	}
	return nil
}
