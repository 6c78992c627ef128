package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"paybook.org/internal/auth"
	"paybook.org/internal/ids"
)

var _ auth.UserStore = (*UserStore)(nil)

// UserStore implements auth.UserStore using PostgreSQL. Roles are stored as
// a JSON array to keep the schema portable.
type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) Create(ctx context.Context, u *auth.User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	roles, err := json.Marshal(u.Roles)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into users(id, email, password_hash, status, roles) values($1,$2,$3,$4,$5)`,
		u.ID, u.Email, u.PasswordHash, u.Status, roles,
	)
	return err
}

func (s *UserStore) Find(ctx context.Context, id string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, email, password_hash, status, roles, created_at, updated_at from users where id=$1`, id)
	return scanUser(row)
}

func (s *UserStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, email, password_hash, status, roles, created_at, updated_at from users where email=$1`, email)
	return scanUser(row)
}

func scanUser(row rowScanner) (*auth.User, error) {
	var u auth.User
	var roles []byte
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Status, &roles, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	_ = json.Unmarshal(roles, &u.Roles)
	return &u, nil
}
