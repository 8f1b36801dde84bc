package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/course-bot/internal/domain/shared"
	"github.com/alem-hub/course-bot/internal/domain/submission"
)

// SubmissionRepository implements submission.Repository for PostgreSQL.
type SubmissionRepository struct {
	conn *Connection
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(conn *Connection) *SubmissionRepository {
	return &SubmissionRepository{conn: conn}
}

const submissionColumns = `id, user_id, module_id, body, submitted_at, review, reviewed_at`

// ─────────────────────────────────────────────────────────────────────────────
// Append
// ─────────────────────────────────────────────────────────────────────────────

// AppendSubmission appends a homework submission and returns its id.
func (r *SubmissionRepository) AppendSubmission(ctx context.Context, id shared.UserID, module shared.ModuleID, body string) (int64, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO homework_submissions (user_id, module_id, body, submitted_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	var submissionID int64
	err := r.conn.QueryRow(ctx, query, id.Int64(), module.Int(), body, time.Now().UTC()).Scan(&submissionID)
	if err != nil {
		return 0, shared.StorageError("submission", "Append", err)
	}
	return submissionID, nil
}

// AppendFeedback appends a feedback message and returns its id.
func (r *SubmissionRepository) AppendFeedback(ctx context.Context, id shared.UserID, body string) (int64, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO feedback (user_id, body, sent_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`

	var feedbackID int64
	if err := r.conn.QueryRow(ctx, query, id.Int64(), body, time.Now().UTC()).Scan(&feedbackID); err != nil {
		return 0, shared.StorageError("submission", "AppendFeedback", err)
	}
	return feedbackID, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Queries
// ─────────────────────────────────────────────────────────────────────────────

// ListFor returns all of the user's submissions, most recent first.
func (r *SubmissionRepository) ListFor(ctx context.Context, id shared.UserID, module *shared.ModuleID) ([]*submission.Submission, error) {
	query, args := submissionQuery(submission.Filter{UserID: &id, ModuleID: module}, false)
	return r.querySubmissions(ctx, "ListFor", query, args)
}

// CountByModule counts the user's submissions per module.
func (r *SubmissionRepository) CountByModule(ctx context.Context, id shared.UserID) (map[shared.ModuleID]int, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT module_id, COUNT(*)
		FROM homework_submissions
		WHERE user_id = $1
		GROUP BY module_id
	`

	rows, err := r.conn.Query(ctx, query, id.Int64())
	if err != nil {
		return nil, shared.StorageError("submission", "CountByModule", err)
	}
	defer rows.Close()

	counts := make(map[shared.ModuleID]int)
	for rows.Next() {
		var module, n int
		if err := rows.Scan(&module, &n); err != nil {
			return nil, shared.StorageError("submission", "CountByModule", err)
		}
		counts[shared.ModuleID(module)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, shared.StorageError("submission", "CountByModule", err)
	}

	return counts, nil
}

// Get returns a submission by id.
func (r *SubmissionRepository) Get(ctx context.Context, submissionID int64) (*submission.Submission, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + submissionColumns + ` FROM homework_submissions WHERE id = $1`

	s, err := scanSubmission(r.conn.QueryRow(ctx, query, submissionID))
	if IsNoRows(err) {
		return nil, shared.ErrSubmissionNotFound
	}
	if err != nil {
		return nil, shared.StorageError("submission", "Get", err)
	}
	return s, nil
}

// SetReview stores the curator's answer.
func (r *SubmissionRepository) SetReview(ctx context.Context, submissionID int64, review string) error {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	result, err := r.conn.Exec(ctx,
		`UPDATE homework_submissions SET review = $1, reviewed_at = $2 WHERE id = $3`,
		review, time.Now().UTC(), submissionID,
	)
	if err != nil {
		return shared.StorageError("submission", "SetReview", err)
	}
	if result.RowsAffected() == 0 {
		return shared.ErrSubmissionNotFound
	}
	return nil
}

// Search returns submissions matching the filter, most recent first.
func (r *SubmissionRepository) Search(ctx context.Context, f submission.Filter) ([]*submission.Submission, error) {
	query, args := submissionQuery(f, true)
	return r.querySubmissions(ctx, "Search", query, args)
}

// submissionQuery строит выборку по фильтру; paged=false - без LIMIT.
func submissionQuery(f submission.Filter, paged bool) (string, []interface{}) {
	var (
		conditions []string
		args       []interface{}
	)
	if f.UserID != nil {
		args = append(args, f.UserID.Int64())
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.ModuleID != nil {
		args = append(args, f.ModuleID.Int())
		conditions = append(conditions, fmt.Sprintf("module_id = $%d", len(args)))
	}
	if f.OnlyOpen {
		conditions = append(conditions, "review IS NULL")
	}

	var query strings.Builder
	query.WriteString(`SELECT ` + submissionColumns + ` FROM homework_submissions`)
	if len(conditions) > 0 {
		query.WriteString(" WHERE " + strings.Join(conditions, " AND "))
	}
	query.WriteString(" ORDER BY id DESC")
	if paged {
		args = append(args, f.Pagination.Limit(), f.Pagination.Offset())
		fmt.Fprintf(&query, " LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	return query.String(), args
}

func (r *SubmissionRepository) querySubmissions(ctx context.Context, op, query string, args []interface{}) ([]*submission.Submission, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, shared.StorageError("submission", op, err)
	}
	defer rows.Close()

	result := make([]*submission.Submission, 0)
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, shared.StorageError("submission", op, err)
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.StorageError("submission", op, err)
	}

	return result, nil
}

// ListFeedback returns feedback, most recent first.
func (r *SubmissionRepository) ListFeedback(ctx context.Context, id *shared.UserID, page shared.Pagination) ([]*submission.FeedbackMessage, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, user_id, body, sent_at
		FROM feedback
		WHERE ($1::bigint IS NULL OR user_id = $1)
		ORDER BY id DESC
		LIMIT $2 OFFSET $3
	`

	var userID *int64
	if id != nil {
		v := id.Int64()
		userID = &v
	}

	rows, err := r.conn.Query(ctx, query, userID, page.Limit(), page.Offset())
	if err != nil {
		return nil, shared.StorageError("submission", "ListFeedback", err)
	}
	defer rows.Close()

	result := make([]*submission.FeedbackMessage, 0)
	for rows.Next() {
		var (
			fb  submission.FeedbackMessage
			uid int64
		)
		if err := rows.Scan(&fb.ID, &uid, &fb.Body, &fb.SentAt); err != nil {
			return nil, shared.StorageError("submission", "ListFeedback", err)
		}
		fb.UserID = shared.UserID(uid)
		result = append(result, &fb)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.StorageError("submission", "ListFeedback", err)
	}

	return result, nil
}

func scanSubmission(row pgx.Row) (*submission.Submission, error) {
	var (
		s      submission.Submission
		userID int64
		module int
	)
	if err := row.Scan(&s.ID, &userID, &module, &s.Body, &s.SubmittedAt, &s.Review, &s.ReviewedAt); err != nil {
		return nil, err
	}
	s.UserID = shared.UserID(userID)
	s.ModuleID = shared.ModuleID(module)
	return &s, nil
}
