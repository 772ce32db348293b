package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"roomchat/internal/apperr"
	"roomchat/internal/db"
	"roomchat/internal/models"
)

type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	UpdateProfile(ctx context.Context, user *models.User) error
}

type SQLUserRepo struct {
	db *db.DB
}

func NewUserRepo(d *db.DB) *SQLUserRepo {
	return &SQLUserRepo{
		db: d,
	}
}

func (r *SQLUserRepo) CreateUser(ctx context.Context, user *models.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))

	query := r.db.Rebind(`
		INSERT INTO users (email, first_name, last_name, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`)

	err := r.db.QueryRowContext(ctx, query,
		user.Email,
		user.FirstName,
		user.LastName,
		user.PasswordHash,
		user.CreatedAt,
	).Scan(&user.ID)

	return mapErr("failed to insert user", err)
}

func (r *SQLUserRepo) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := r.db.Rebind(`
		SELECT id, email, first_name, last_name, password_hash, created_at
		FROM users
		WHERE email = ?`)

	user := &models.User{}
	err := r.db.QueryRowContext(ctx, query, strings.ToLower(strings.TrimSpace(email))).Scan(
		&user.ID,
		&user.Email,
		&user.FirstName,
		&user.LastName,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, mapErr("failed to find user by email", err)
	}

	return user, nil
}

func (r *SQLUserRepo) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	query := r.db.Rebind(`
		SELECT id, email, first_name, last_name, password_hash, created_at
		FROM users
		WHERE id = ?`)

	user := &models.User{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.FirstName,
		&user.LastName,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, mapErr("failed to find user by ID", err)
	}

	return user, nil
}

// UpdateProfile writes the user's name fields. Email and password are not
// editable through it.
func (r *SQLUserRepo) UpdateProfile(ctx context.Context, user *models.User) error {
	query := r.db.Rebind(`UPDATE users SET first_name = ?, last_name = ? WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query, user.FirstName, user.LastName, user.ID)
	if err != nil {
		return mapErr("failed to update user", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("user %d: %w", user.ID, apperr.ErrNotFound)
	}
	return nil
}
