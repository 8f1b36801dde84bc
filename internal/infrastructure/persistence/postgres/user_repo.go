package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/course-bot/internal/domain/course"
	"github.com/alem-hub/course-bot/internal/domain/shared"
	"github.com/alem-hub/course-bot/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// UserRepository implements user.Repository for PostgreSQL.
type UserRepository struct {
	conn *Connection
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(conn *Connection) *UserRepository {
	return &UserRepository{conn: conn}
}

const userColumns = `user_id, username, first_name, last_name, tariff, enrolled_at`

// Get returns the account or (nil, nil) when the user is not enrolled.
func (r *UserRepository) Get(ctx context.Context, id shared.UserID) (*user.Account, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + userColumns + ` FROM users WHERE user_id = $1`

	acc, err := scanAccount(r.conn.QueryRow(ctx, query, id.Int64()))
	if IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, shared.StorageError("user", "Get", err)
	}
	return acc, nil
}

// Create inserts a new account.
func (r *UserRepository) Create(ctx context.Context, acc *user.Account) error {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO users (user_id, username, first_name, last_name, tariff, enrolled_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.conn.Exec(ctx, query,
		acc.UserID.Int64(),
		acc.Username,
		acc.FirstName,
		acc.LastName,
		acc.Tariff.String(),
		acc.EnrolledAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrUserAlreadyExists
		}
		return shared.StorageError("user", "Create", err)
	}

	return nil
}

// SetTariff updates the tariff; applied is false when the user does not exist.
func (r *UserRepository) SetTariff(ctx context.Context, id shared.UserID, tariff course.Tariff) (bool, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	result, err := r.conn.Exec(ctx, `UPDATE users SET tariff = $1 WHERE user_id = $2`, tariff.String(), id.Int64())
	if err != nil {
		return false, shared.StorageError("user", "SetTariff", err)
	}
	return result.RowsAffected() > 0, nil
}

// List returns accounts, newest enrollment first.
func (r *UserRepository) List(ctx context.Context, page shared.Pagination) ([]*user.Account, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + userColumns + `
		FROM users
		ORDER BY enrolled_at DESC, user_id
		LIMIT $1 OFFSET $2
	`

	rows, err := r.conn.Query(ctx, query, page.Limit(), page.Offset())
	if err != nil {
		return nil, shared.StorageError("user", "List", err)
	}
	defer rows.Close()

	accounts := make([]*user.Account, 0, page.Limit())
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, shared.StorageError("user", "List", err)
		}
		accounts = append(accounts, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.StorageError("user", "List", err)
	}

	return accounts, nil
}

// Count returns the number of enrolled users.
func (r *UserRepository) Count(ctx context.Context) (int, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	var n int
	if err := r.conn.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, shared.StorageError("user", "Count", err)
	}
	return n, nil
}

func scanAccount(row pgx.Row) (*user.Account, error) {
	var (
		id         int64
		tariff     string
		enrolledAt time.Time
		acc        user.Account
	)

	if err := row.Scan(&id, &acc.Username, &acc.FirstName, &acc.LastName, &tariff, &enrolledAt); err != nil {
		return nil, err
	}

	parsed, err := course.ParseTariff(tariff)
	if err != nil {
		return nil, fmt.Errorf("user %d: %w", id, err)
	}

	acc.UserID = shared.UserID(id)
	acc.Tariff = parsed
	acc.EnrolledAt = enrolledAt.UTC()
	return &acc, nil
}
