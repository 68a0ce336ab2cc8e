package repository

import (
	"context"
	"strings"

	"potluck-chat/internal/domain/user"

	"gorm.io/gorm"
)

type PostgresUserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &PostgresUserRepository{db: db}
}

// Create is only used by seeding and tests; profiles are owned elsewhere.
func (r *PostgresUserRepository) Create(ctx context.Context, u *user.User) error {
	return mapError(r.db.WithContext(ctx).Create(u).Error)
}

func (r *PostgresUserRepository) GetUserByID(ctx context.Context, id int64) (user.User, error) {
	var u user.User
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&u).Error
	if err != nil {
		return user.User{}, mapError(err)
	}
	return u, nil
}

func (r *PostgresUserRepository) GetUsersByIDs(ctx context.Context, ids []int64) ([]user.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []user.User
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&users).Error
	if err != nil {
		return nil, mapError(err)
	}
	return users, nil
}

func (r *PostgresUserRepository) SearchUsers(ctx context.Context, query string, limit int) ([]user.User, error) {
	_, limit = normalizePage(1, limit)
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(query))) + "%"

	var users []user.User
	err := r.db.WithContext(ctx).
		Where("LOWER(username) LIKE ? ESCAPE '\\' OR LOWER(first_name) LIKE ? ESCAPE '\\' OR LOWER(last_name) LIKE ? ESCAPE '\\'",
			pattern, pattern, pattern).
		Order("username ASC").
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, mapError(err)
	}
	return users, nil
}
