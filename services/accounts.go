package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"worklog/db"
	"worklog/models"
)

type AccountService struct {
	store       *db.Store
	log         *slog.Logger
	minPassword int
}

type NewUser struct {
	Login    string
	Name     string
	Password string
	Role     models.Role
	Active   bool
}

// UserUpdate carries the editable fields of an account. An empty Password
// leaves the current one in place.
type UserUpdate struct {
	Login    string
	Name     string
	Role     models.Role
	Active   bool
	Password string
}

const userColumns = "id, login, name, password_hash, role, active, created_at"

func normalizeLogin(login string) string {
	return strings.ToLower(strings.TrimSpace(login))
}

func scanUser(row interface{ Scan(...any) error }) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Login, &u.Name, &u.PasswordHash, &u.Role, &u.Active, &u.CreatedAt)
	return u, err
}

func principalOf(u models.User) models.Principal {
	return models.Principal{UserID: u.ID, Login: u.Login, Name: u.Name, Role: u.Role}
}

func (s *AccountService) validatePassword(password string) error {
	if len([]rune(password)) < s.minPassword {
		return fmt.Errorf("%w: password must have at least %d characters", ErrInvalidInput, s.minPassword)
	}
	return nil
}

func (s *AccountService) CreateUser(ctx context.Context, caller models.Principal, in NewUser) (models.User, error) {
	if err := requireAdmin(caller); err != nil {
		return models.User{}, err
	}

	login := normalizeLogin(in.Login)
	name := strings.TrimSpace(in.Name)
	if login == "" {
		return models.User{}, fmt.Errorf("%w: login is required", ErrInvalidInput)
	}
	if in.Role == "" {
		in.Role = models.RoleEmployee
	}
	if !in.Role.Valid() {
		return models.User{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, in.Role)
	}
	if err := s.validatePassword(in.Password); err != nil {
		return models.User{}, err
	}
	if name == "" {
		name = login
	}

	hash, err := db.HashPassword(in.Password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	var user models.User
	err = s.store.Tx(ctx, func(tx db.DBTX) error {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO users (login, name, password_hash, role, active) VALUES (?, ?, ?, ?, ?)",
			login, name, hash, in.Role, in.Active)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateLogin
			}
			return fmt.Errorf("insert user: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		user, err = scanUser(tx.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
		return err
	})
	if err != nil {
		return models.User{}, err
	}

	s.log.InfoContext(ctx, "user created", "caller", caller.Login, "user_id", user.ID, "login", user.Login, "role", user.Role)
	return user, nil
}

// Authenticate checks a login and password. Unknown logins still pay for a
// bcrypt comparison.
func (s *AccountService) Authenticate(ctx context.Context, login, password string) (models.Principal, error) {
	var user models.User
	err := s.store.View(ctx, func(conn *sql.DB) error {
		var err error
		user, err = scanUser(conn.QueryRowContext(ctx,
			"SELECT "+userColumns+" FROM users WHERE login = ?", normalizeLogin(login)))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		db.CheckPasswordHash(password, db.DummyHash())
		return models.Principal{}, ErrInvalidCredentials
	}
	if err != nil {
		return models.Principal{}, fmt.Errorf("load user: %w", err)
	}

	if !db.CheckPasswordHash(password, user.PasswordHash) {
		return models.Principal{}, ErrInvalidCredentials
	}
	if !user.Active {
		return models.Principal{}, ErrAccountInactive
	}
	return principalOf(user), nil
}

// Principal reloads the identity of a signed-in user.
func (s *AccountService) Principal(ctx context.Context, userID int64) (models.Principal, error) {
	user, err := s.load(ctx, userID)
	if err != nil {
		return models.Principal{}, err
	}
	if !user.Active {
		return models.Principal{}, ErrAccountInactive
	}
	return principalOf(user), nil
}

func (s *AccountService) load(ctx context.Context, id int64) (models.User, error) {
	var user models.User
	err := s.store.View(ctx, func(conn *sql.DB) error {
		var err error
		user, err = scanUser(conn.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

func (s *AccountService) ListUsers(ctx context.Context, caller models.Principal) ([]models.User, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}

	var users []models.User
	err := s.store.View(ctx, func(conn *sql.DB) error {
		rows, err := conn.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY login")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			u, err := scanUser(rows)
			if err != nil {
				return err
			}
			users = append(users, u)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (s *AccountService) GetUser(ctx context.Context, caller models.Principal, id int64) (models.User, error) {
	if err := requireSelfOrAdmin(caller, id); err != nil {
		return models.User{}, err
	}
	return s.load(ctx, id)
}

func (s *AccountService) UpdateUser(ctx context.Context, caller models.Principal, id int64, in UserUpdate) (models.User, error) {
	if err := requireAdmin(caller); err != nil {
		return models.User{}, err
	}

	login := normalizeLogin(in.Login)
	name := strings.TrimSpace(in.Name)
	if login == "" {
		return models.User{}, fmt.Errorf("%w: login is required", ErrInvalidInput)
	}
	if !in.Role.Valid() {
		return models.User{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, in.Role)
	}
	var hash string
	if in.Password != "" {
		if err := s.validatePassword(in.Password); err != nil {
			return models.User{}, err
		}
		var err error
		if hash, err = db.HashPassword(in.Password); err != nil {
			return models.User{}, fmt.Errorf("hash password: %w", err)
		}
	}
	if name == "" {
		name = login
	}

	var user models.User
	err := s.store.Tx(ctx, func(tx db.DBTX) error {
		current, err := scanUser(tx.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		if current.IsAdmin() && current.Active && (in.Role != models.RoleAdmin || !in.Active) {
			var others int
			err := tx.QueryRowContext(ctx,
				"SELECT COUNT(*) FROM users WHERE role = 'admin' AND active = 1 AND id <> ?", id).Scan(&others)
			if err != nil {
				return err
			}
			if others == 0 {
				return ErrLastAdmin
			}
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE users SET login = ?, name = ?, role = ?, active = ? WHERE id = ?",
			login, name, in.Role, in.Active, id)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateLogin
			}
			return err
		}
		if hash != "" {
			if _, err := tx.ExecContext(ctx, "UPDATE users SET password_hash = ? WHERE id = ?", hash, id); err != nil {
				return err
			}
		}

		user, err = scanUser(tx.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
		return err
	})
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrLastAdmin), errors.Is(err, ErrDuplicateLogin):
		return models.User{}, err
	case err != nil:
		return models.User{}, fmt.Errorf("update user: %w", err)
	}

	s.log.InfoContext(ctx, "user updated", "caller", caller.Login, "user_id", id, "role", user.Role, "active", user.Active, "password_reset", hash != "")
	return user, nil
}

// ChangePassword lets a signed-in user replace their own password.
func (s *AccountService) ChangePassword(ctx context.Context, caller models.Principal, oldPassword, newPassword string) error {
	if caller.UserID == 0 {
		return ErrPermissionDenied
	}
	user, err := s.load(ctx, caller.UserID)
	if err != nil {
		return err
	}
	if !db.CheckPasswordHash(oldPassword, user.PasswordHash) {
		return ErrInvalidCredentials
	}
	if err := s.validatePassword(newPassword); err != nil {
		return err
	}

	hash, err := db.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	err = s.store.Tx(ctx, func(tx db.DBTX) error {
		_, err := tx.ExecContext(ctx, "UPDATE users SET password_hash = ? WHERE id = ?", hash, caller.UserID)
		return err
	})
	if err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	s.log.InfoContext(ctx, "password changed", "user_id", caller.UserID)
	return nil
}
