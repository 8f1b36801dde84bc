package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/alem-hub/course-bot/internal/domain/course"
	"github.com/alem-hub/course-bot/internal/domain/shared"
	"github.com/alem-hub/course-bot/internal/domain/user"
)

// UserRepository implements user.Repository.
type UserRepository struct {
	mu       sync.RWMutex
	accounts map[shared.UserID]user.Account
}

// NewUserRepository creates an empty repository.
func NewUserRepository() *UserRepository {
	return &UserRepository{accounts: make(map[shared.UserID]user.Account)}
}

// Get returns a copy of the account or (nil, nil).
func (r *UserRepository) Get(_ context.Context, id shared.UserID) (*user.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acc, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	return &acc, nil
}

// Create stores a new account.
func (r *UserRepository) Create(_ context.Context, account *user.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[account.UserID]; ok {
		return shared.ErrUserAlreadyExists
	}
	r.accounts[account.UserID] = *account
	return nil
}

// SetTariff updates the tariff of an existing account.
func (r *UserRepository) SetTariff(_ context.Context, id shared.UserID, tariff course.Tariff) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.accounts[id]
	if !ok {
		return false, nil
	}
	acc.Tariff = tariff
	r.accounts[id] = acc
	return true, nil
}

// List returns accounts, newest enrollment first.
func (r *UserRepository) List(_ context.Context, page shared.Pagination) ([]*user.Account, error) {
	r.mu.RLock()
	all := make([]*user.Account, 0, len(r.accounts))
	for _, acc := range r.accounts {
		acc := acc
		all = append(all, &acc)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].EnrolledAt.Equal(all[j].EnrolledAt) {
			return all[i].UserID < all[j].UserID
		}
		return all[i].EnrolledAt.After(all[j].EnrolledAt)
	})

	from, to := page.Window(len(all))
	return all[from:to], nil
}

// Count returns the number of accounts.
func (r *UserRepository) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts), nil
}
