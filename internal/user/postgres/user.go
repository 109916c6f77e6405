package postgres

import (
	"context"
	"errors"

	userDatamodel "github.com/frahmantamala/adride-payments/internal/core/datamodel/user"
	"github.com/frahmantamala/adride-payments/internal/user"
	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetByID(ctx context.Context, userID int64) (*user.User, error) {
	var row userDatamodel.User
	if err := r.db.WithContext(ctx).Where("id = ? AND is_active = ?", userID, true).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, user.ErrNotFound
		}
		return nil, err
	}
	return user.FromDataModel(&row), nil
}

func (r *Repository) GetPermissions(ctx context.Context, userID int64) ([]string, error) {
	var names []string
	err := r.db.WithContext(ctx).
		Table("permissions").
		Select("permissions.name").
		Joins("JOIN user_permissions ON user_permissions.permission_id = permissions.id").
		Where("user_permissions.user_id = ?", userID).
		Order("permissions.name").
		Pluck("permissions.name", &names).Error
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

func (r *Repository) Create(ctx context.Context, u *user.User) error {
	row := user.ToDataModel(u)
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return err
	}
	u.ID = row.ID
	u.CreatedAt = row.CreatedAt
	u.UpdatedAt = row.UpdatedAt
	return nil
}

// GrantPermission attaches a named permission, creating the permission row on first use.
func (r *Repository) GrantPermission(ctx context.Context, userID int64, permission string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		perm := userDatamodel.Permission{Name: permission}
		if err := tx.Where("name = ?", permission).FirstOrCreate(&perm).Error; err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&userDatamodel.UserPermission{}).
			Where("user_id = ? AND permission_id = ?", userID, perm.ID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		return tx.Create(&userDatamodel.UserPermission{UserID: userID, PermissionID: perm.ID}).Error
	})
}
