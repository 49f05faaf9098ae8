package repository

import (
	"context"
	"time"

	"torrentdrive/internal/domain"
)

// UserRepository defines persistence operations for User entities. Lookups
// return domain.ErrNotFound for unknown users; Create returns
// domain.ErrAlreadyExists on a username conflict.
type UserRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, user *domain.User) (int64, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	TouchLogin(ctx context.Context, id int64, at time.Time) error
}
