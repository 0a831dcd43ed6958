package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
	"github.com/linemk/shop-orders/internal/domain/models"
)

var ErrUserExists = errors.New("user already exists")

// UserStorage - источник идентичности: проверенный id пользователя и имя для отображения
type UserStorage interface {
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

type userRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) UserStorage {
	return &userRepository{db: db}
}

// получение уже существующего пользователя
func (r *userRepository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	row := r.db.QueryRowContext(ctx, "SELECT id, username, full_name, pass_hash FROM users WHERE username = $1", username)
	if err := row.Scan(&user.ID, &user.Username, &user.FullName, &user.PassHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &models.NotFoundError{Entity: "user"}
		}
		return nil, wrapErr("get user", err)
	}
	return user, nil
}

func (r *userRepository) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	user := &models.User{}
	row := r.db.QueryRowContext(ctx, "SELECT id, username, full_name, pass_hash FROM users WHERE id = $1", id)
	if err := row.Scan(&user.ID, &user.Username, &user.FullName, &user.PassHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("user", id)
		}
		return nil, wrapErr("get user", err)
	}
	return user, nil
}

func (r *userRepository) CreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		"INSERT INTO users (username, full_name, pass_hash) VALUES ($1, $2, $3) RETURNING id",
		user.Username, user.FullName, user.PassHash,
	).Scan(&id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
			return nil, ErrUserExists
		}
		return nil, wrapErr("create user", err)
	}
	user.ID = id
	return user, nil
}
