package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/alem-hub/course-bot/internal/domain/course"
	"github.com/alem-hub/course-bot/internal/domain/shared"
)

// AccessCodeRepository implements course.AccessCodeRepository for PostgreSQL.
type AccessCodeRepository struct {
	conn *Connection
}

// NewAccessCodeRepository creates a new AccessCodeRepository.
func NewAccessCodeRepository(conn *Connection) *AccessCodeRepository {
	return &AccessCodeRepository{conn: conn}
}

// Lookup returns the tariffs owning the code (exact match).
func (r *AccessCodeRepository) Lookup(ctx context.Context, code string) ([]course.Tariff, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rows, err := r.conn.Query(ctx, `SELECT tariff FROM access_codes WHERE code = $1`, code)
	if err != nil {
		return nil, shared.StorageError("course", "Lookup", err)
	}
	defer rows.Close()

	var tariffs []course.Tariff
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, shared.StorageError("course", "Lookup", err)
		}
		tariffs = append(tariffs, course.Tariff(t))
	}
	if err := rows.Err(); err != nil {
		return nil, shared.StorageError("course", "Lookup", err)
	}

	return tariffs, nil
}

// List returns all codes ordered by tariff rank, then by code.
func (r *AccessCodeRepository) List(ctx context.Context) ([]course.AccessCode, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT code, tariff, created_at
		FROM access_codes
		ORDER BY array_position(ARRAY['basic', 'standard', 'premium', 'transition']::varchar[], tariff), code
	`

	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return nil, shared.StorageError("course", "ListCodes", err)
	}
	defer rows.Close()

	codes := make([]course.AccessCode, 0)
	for rows.Next() {
		var (
			c      course.AccessCode
			tariff string
		)
		if err := rows.Scan(&c.Code, &tariff, &c.CreatedAt); err != nil {
			return nil, shared.StorageError("course", "ListCodes", err)
		}
		c.Tariff = course.Tariff(tariff)
		codes = append(codes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.StorageError("course", "ListCodes", err)
	}

	return codes, nil
}

// Add inserts a code. Codes are unique across tariffs.
func (r *AccessCodeRepository) Add(ctx context.Context, code course.AccessCode) error {
	code.Code = strings.TrimSpace(code.Code)
	if code.Code == "" {
		return shared.ErrEmptyAccessCode
	}
	if !code.Tariff.IsValid() {
		return shared.ErrUnknownTariff
	}
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now().UTC()
	}

	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	_, err := r.conn.Exec(ctx,
		`INSERT INTO access_codes (code, tariff, created_at) VALUES ($1, $2, $3)`,
		code.Code, code.Tariff.String(), code.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrDuplicateAccessCode
		}
		return shared.StorageError("course", "AddCode", err)
	}
	return nil
}

// Delete removes a code.
func (r *AccessCodeRepository) Delete(ctx context.Context, code string) error {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	result, err := r.conn.Exec(ctx, `DELETE FROM access_codes WHERE code = $1`, code)
	if err != nil {
		return shared.StorageError("course", "DeleteCode", err)
	}
	if result.RowsAffected() == 0 {
		return shared.ErrAccessCodeNotFound
	}
	return nil
}
