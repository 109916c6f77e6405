package user

import (
	"context"
	stderrors "errors"

	errors "github.com/frahmantamala/adride-payments/internal"
)

type Service struct {
	repo Repository
}

type Repository interface {
	GetByID(ctx context.Context, userID int64) (*User, error)
	GetPermissions(ctx context.Context, userID int64) ([]string, error)
	Create(ctx context.Context, u *User) error
	GrantPermission(ctx context.Context, userID int64, permission string) error
}

func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
	}
}

func (s *Service) GetByID(ctx context.Context, userID int64) (*User, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if stderrors.Is(err, ErrNotFound) {
			return nil, errors.NewNotFoundError("User not found", "USER_NOT_FOUND")
		}
		return nil, errors.NewInternalError("failed to get user by id", err)
	}

	perms, err := s.repo.GetPermissions(ctx, userID)
	if err != nil {
		return nil, errors.NewInternalError("failed to get user permissions", err)
	}
	u.Permissions = perms

	return u, nil
}
