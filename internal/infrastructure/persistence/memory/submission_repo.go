package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alem-hub/course-bot/internal/domain/shared"
	"github.com/alem-hub/course-bot/internal/domain/submission"
)

// SubmissionRepository implements submission.Repository.
// Ids are monotonic and shared by nothing else.
type SubmissionRepository struct {
	mu          sync.RWMutex
	submissions []submission.Submission
	feedback    []submission.FeedbackMessage
	nextSubID   int64
	nextFbID    int64
	now         func() time.Time
}

// NewSubmissionRepository creates an empty repository.
func NewSubmissionRepository() *SubmissionRepository {
	return &SubmissionRepository{now: time.Now}
}

// AppendSubmission appends a homework submission.
func (r *SubmissionRepository) AppendSubmission(_ context.Context, id shared.UserID, module shared.ModuleID, body string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSubID++
	r.submissions = append(r.submissions, submission.Submission{
		ID:          r.nextSubID,
		UserID:      id,
		ModuleID:    module,
		Body:        body,
		SubmittedAt: r.now().UTC(),
	})
	return r.nextSubID, nil
}

// AppendFeedback appends a feedback message.
func (r *SubmissionRepository) AppendFeedback(_ context.Context, id shared.UserID, body string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextFbID++
	r.feedback = append(r.feedback, submission.FeedbackMessage{
		ID:     r.nextFbID,
		UserID: id,
		Body:   body,
		SentAt: r.now().UTC(),
	})
	return r.nextFbID, nil
}

// ListFor returns all of the user's submissions, most recent first.
func (r *SubmissionRepository) ListFor(_ context.Context, id shared.UserID, module *shared.ModuleID) ([]*submission.Submission, error) {
	return r.matching(submission.Filter{UserID: &id, ModuleID: module}), nil
}

// CountByModule counts user's submissions per module.
func (r *SubmissionRepository) CountByModule(_ context.Context, id shared.UserID) (map[shared.ModuleID]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[shared.ModuleID]int)
	for _, s := range r.submissions {
		if s.UserID == id {
			counts[s.ModuleID]++
		}
	}
	return counts, nil
}

// Get returns a submission by id.
func (r *SubmissionRepository) Get(_ context.Context, submissionID int64) (*submission.Submission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.submissions {
		if s.ID == submissionID {
			s := s
			return &s, nil
		}
	}
	return nil, shared.ErrSubmissionNotFound
}

// SetReview stores the curator's answer.
func (r *SubmissionRepository) SetReview(_ context.Context, submissionID int64, review string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.submissions {
		if r.submissions[i].ID == submissionID {
			at := r.now().UTC()
			r.submissions[i].Review = &review
			r.submissions[i].ReviewedAt = &at
			return nil
		}
	}
	return shared.ErrSubmissionNotFound
}

// Search filters submissions, most recent first.
func (r *SubmissionRepository) Search(_ context.Context, f submission.Filter) ([]*submission.Submission, error) {
	out := r.matching(f)
	from, to := f.Pagination.Window(len(out))
	return out[from:to], nil
}

// matching - все решения под фильтр, новые первыми; пагинация не применяется.
func (r *SubmissionRepository) matching(f submission.Filter) []*submission.Submission {
	r.mu.RLock()
	out := make([]*submission.Submission, 0)
	for _, s := range r.submissions {
		if f.UserID != nil && s.UserID != *f.UserID {
			continue
		}
		if f.ModuleID != nil && s.ModuleID != *f.ModuleID {
			continue
		}
		if f.OnlyOpen && s.Review != nil {
			continue
		}
		s := s
		out = append(out, &s)
	}
	r.mu.RUnlock()

	// Ids are monotonic, so a higher id is always more recent.
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// ListFeedback returns feedback, most recent first.
func (r *SubmissionRepository) ListFeedback(_ context.Context, id *shared.UserID, page shared.Pagination) ([]*submission.FeedbackMessage, error) {
	r.mu.RLock()
	out := make([]*submission.FeedbackMessage, 0)
	for _, fb := range r.feedback {
		if id != nil && fb.UserID != *id {
			continue
		}
		fb := fb
		out = append(out, &fb)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })

	from, to := page.Window(len(out))
	return out[from:to], nil
}
