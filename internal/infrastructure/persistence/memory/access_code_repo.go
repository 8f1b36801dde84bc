package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alem-hub/course-bot/internal/domain/course"
	"github.com/alem-hub/course-bot/internal/domain/shared"
)

// AccessCodeRepository implements course.AccessCodeRepository.
type AccessCodeRepository struct {
	mu    sync.RWMutex
	codes map[string]course.AccessCode
}

// NewAccessCodeRepository creates an empty repository.
func NewAccessCodeRepository() *AccessCodeRepository {
	return &AccessCodeRepository{codes: make(map[string]course.AccessCode)}
}

// Lookup returns the tariff owning the code, if any.
func (r *AccessCodeRepository) Lookup(_ context.Context, code string) ([]course.Tariff, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.codes[code]
	if !ok {
		return nil, nil
	}
	return []course.Tariff{c.Tariff}, nil
}

// List returns codes ordered by tariff, then by code.
func (r *AccessCodeRepository) List(_ context.Context) ([]course.AccessCode, error) {
	r.mu.RLock()
	out := make([]course.AccessCode, 0, len(r.codes))
	for _, c := range r.codes {
		out = append(out, c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Tariff != out[j].Tariff {
			return out[i].Tariff.Rank() < out[j].Tariff.Rank()
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

// Add stores a code; codes are unique across tariffs.
func (r *AccessCodeRepository) Add(_ context.Context, code course.AccessCode) error {
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

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.codes[code.Code]; ok {
		return shared.ErrDuplicateAccessCode
	}
	r.codes[code.Code] = code
	return nil
}

// Delete removes a code.
func (r *AccessCodeRepository) Delete(_ context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.codes[code]; !ok {
		return shared.ErrAccessCodeNotFound
	}
	delete(r.codes, code)
	return nil
}
