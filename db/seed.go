package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

const (
	DefaultAdminLogin    = "admin@local"
	DefaultAdminPassword = "admin123"
	DefaultAdminName     = "Administrator"
	DefaultProjectName   = "Default project"
)

type SeedOptions struct {
	AdminLogin     string
	AdminPassword  string
	AdminName      string
	DefaultProject string
	Logger         *slog.Logger
}

func (o SeedOptions) withDefaults() SeedOptions {
	if o.AdminLogin == "" {
		o.AdminLogin = DefaultAdminLogin
	}
	if o.AdminPassword == "" {
		o.AdminPassword = DefaultAdminPassword
	}
	if o.AdminName == "" {
		o.AdminName = DefaultAdminName
	}
	if o.DefaultProject == "" {
		o.DefaultProject = DefaultProjectName
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	o.AdminLogin = strings.ToLower(strings.TrimSpace(o.AdminLogin))
	return o
}

// Seed makes sure an administrator and at least one project exist. It is
// safe to run on every start and after every restore.
func Seed(ctx context.Context, conn *sql.DB, opts SeedOptions) error {
	opts = opts.withDefaults()

	return WithTx(ctx, conn, nil, func(ctx context.Context, tx DBTX) error {
		var admins int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE role = 'admin' AND active = 1").Scan(&admins); err != nil {
			return fmt.Errorf("count admins: %w", err)
		}

		if admins == 0 {
			hash, err := HashPassword(opts.AdminPassword)
			if err != nil {
				return fmt.Errorf("hash admin password: %w", err)
			}
			res, err := tx.ExecContext(ctx,
				"UPDATE users SET role = 'admin', active = 1, password_hash = ? WHERE login = ?",
				hash, opts.AdminLogin)
			if err != nil {
				return fmt.Errorf("promote default admin: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				_, err = tx.ExecContext(ctx,
					"INSERT INTO users (login, name, password_hash, role, active) VALUES (?, ?, ?, 'admin', 1)",
					opts.AdminLogin, opts.AdminName, hash)
				if err != nil {
					return fmt.Errorf("create default admin: %w", err)
				}
			}
			opts.Logger.WarnContext(ctx, "default admin created, change its password", "login", opts.AdminLogin)
		}

		var projects int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM projects").Scan(&projects); err != nil {
			return fmt.Errorf("count projects: %w", err)
		}
		if projects == 0 {
			if _, err := tx.ExecContext(ctx, "INSERT INTO projects (name, active) VALUES (?, 1)", opts.DefaultProject); err != nil {
				return fmt.Errorf("create default project: %w", err)
			}
			opts.Logger.InfoContext(ctx, "default project created", "name", opts.DefaultProject)
		}
		return nil
	})
}
