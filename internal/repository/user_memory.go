package repository

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spec-kit/verification-service/internal/domain"
)

// InMemoryUserRepository backs tests and DSN-less local runs.
type InMemoryUserRepository struct {
	mu     sync.Mutex
	nextID int64
	users  map[string]*domain.User
}

// NewInMemoryUserRepository creates an empty store.
func NewInMemoryUserRepository() *InMemoryUserRepository {
	return &InMemoryUserRepository{nextID: 1, users: make(map[string]*domain.User)}
}

func (r *InMemoryUserRepository) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return domain.ErrConflict
		}
	}

	now := time.Now()
	user.ID = strconv.FormatInt(r.nextID, 10)
	r.nextID++
	user.CreatedAt = now
	user.UpdatedAt = now

	stored := *user
	r.users[user.ID] = &stored
	return nil
}

func (r *InMemoryUserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *stored
	return &clone, nil
}

func (r *InMemoryUserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, stored := range r.users {
		if strings.EqualFold(stored.Email, email) {
			clone := *stored
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}
