package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/session-gate/internal/core/domain"
	"github.com/arklim/session-gate/internal/core/port"
	"github.com/arklim/session-gate/internal/repository"
)

// AccountRepository reads account limits. Accounts are owned by another service; this one never writes them.
type AccountRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewAccountRepository constructs an AccountRepository.
func NewAccountRepository(exec pgExecutor) *AccountRepository {
	return &AccountRepository{
		exec:    exec,
		builder: newBuilder(),
	}
}

// Get fetches an account by identifier.
func (r *AccountRepository) Get(ctx context.Context, accountID string) (*domain.Account, error) {
	sqlStmt, args, err := r.builder.
		Select("id", "name", "max_concurrent_users").
		From(table("accounts")).
		Where(squirrel.Eq{"id": accountID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account sql: %w", err)
	}

	var (
		account  domain.Account
		name     sql.NullString
		maxUsers sql.NullInt64
	)
	if err := r.exec.QueryRow(ctx, sqlStmt, args...).Scan(&account.ID, &name, &maxUsers); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("select account: %w", err)
	}

	if name.Valid {
		account.Name = name.String
	}
	account.MaxConcurrentUsers = nullableIntPtr(maxUsers)
	return &account, nil
}

var _ port.AccountRepository = (*AccountRepository)(nil)
