// Package services holds the operations of the application. Every operation
// takes the calling Principal; privileged ones check it first via
// requireAdmin before touching the store.
package services

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"worklog/backup"
	"worklog/db"
	"worklog/models"
)

const DefaultMinPasswordLength = 6

// System is the principal used by the command line, which acts with
// administrator rights on the local store.
var System = models.Principal{Login: "system", Name: "System", Role: models.RoleAdmin}

type Options struct {
	Logger            *slog.Logger
	Seed              db.SeedOptions
	Codec             backup.Codec
	Vault             backup.Vault
	MinPasswordLength int
	Now               func() time.Time
}

type Services struct {
	Accounts *AccountService
	Projects *ProjectService
	Entries  *EntryService
	Reports  *ReportService
	Backups  *BackupService

	store *db.Store
	seed  db.SeedOptions
}

func New(store *db.Store, opts Options) *Services {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MinPasswordLength <= 0 {
		opts.MinPasswordLength = DefaultMinPasswordLength
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Seed.Logger == nil {
		opts.Seed.Logger = opts.Logger
	}

	return &Services{
		Accounts: &AccountService{store: store, log: opts.Logger, minPassword: opts.MinPasswordLength},
		Projects: &ProjectService{store: store, log: opts.Logger},
		Entries:  &EntryService{store: store, log: opts.Logger},
		Reports:  &ReportService{store: store},
		Backups: &BackupService{
			store: store,
			log:   opts.Logger,
			codec: opts.Codec,
			vault: opts.Vault,
			seed:  opts.Seed,
			now:   opts.Now,
		},
		store: store,
		seed:  opts.Seed,
	}
}

// Bootstrap seeds the default administrator and project when missing.
func (s *Services) Bootstrap(ctx context.Context) error {
	return s.store.View(ctx, func(conn *sql.DB) error {
		return db.Seed(ctx, conn, s.seed)
	})
}

func requireAdmin(caller models.Principal) error {
	if !caller.IsAdmin() {
		return ErrPermissionDenied
	}
	return nil
}

func requireSelfOrAdmin(caller models.Principal, userID int64) error {
	if caller.IsAdmin() {
		return nil
	}
	if caller.UserID == 0 || caller.UserID != userID {
		return ErrPermissionDenied
	}
	return nil
}

func requireAuthenticated(caller models.Principal) error {
	if !caller.Authenticated() {
		return ErrPermissionDenied
	}
	return nil
}
