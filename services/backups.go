package services

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"worklog/backup"
	"worklog/db"
	"worklog/models"
)

type BackupService struct {
	store *db.Store
	log   *slog.Logger
	codec backup.Codec
	vault backup.Vault
	seed  db.SeedOptions
	now   func() time.Time
}

// Archive is a downloadable copy of the whole store.
type Archive struct {
	Name string
	Data []byte
}

func (s *BackupService) HasVault() bool {
	return s.vault != nil
}

func (s *BackupService) Backup(ctx context.Context, caller models.Principal) (Archive, error) {
	if err := requireAdmin(caller); err != nil {
		return Archive{}, err
	}

	var snapshot bytes.Buffer
	if err := s.store.Snapshot(ctx, &snapshot); err != nil {
		return Archive{}, fmt.Errorf("snapshot: %w", err)
	}

	now := s.now()
	var out bytes.Buffer
	if err := s.codec.Encode(&out, &snapshot, now); err != nil {
		return Archive{}, fmt.Errorf("encode backup: %w", err)
	}

	s.log.InfoContext(ctx, "backup created", "caller", caller.Login, "bytes", out.Len())
	return Archive{Name: backup.FileName(now), Data: out.Bytes()}, nil
}

// Restore replaces the whole store with the database held in r. The input is
// unpacked and validated before the store is touched; on any failure the
// current data stays as it was.
func (s *BackupService) Restore(ctx context.Context, caller models.Principal, r io.Reader) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}

	data, err := io.ReadAll(io.LimitReader(r, backup.MaxArchiveSize+1))
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}
	if len(data) > backup.MaxArchiveSize {
		return fmt.Errorf("%w: file too large", ErrInvalidFormat)
	}

	tmp, err := s.store.CreateTemp()
	if err != nil {
		return fmt.Errorf("create restore file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := s.codec.Decode(data, tmp); err != nil {
		tmp.Close()
		if errors.Is(err, backup.ErrInvalidArchive) || errors.Is(err, backup.ErrPassphrase) {
			return fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
		return fmt.Errorf("unpack backup: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close restore file: %w", err)
	}

	if err := db.ValidateFile(ctx, tmp.Name()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	err = s.store.Replace(ctx, tmp.Name(), func(ctx context.Context, conn *sql.DB) error {
		return db.Seed(ctx, conn, s.seed)
	})
	if err != nil {
		s.log.ErrorContext(ctx, "restore failed, previous data kept", "caller", caller.Login, "error", err)
		if errors.Is(err, db.ErrRejected) {
			return fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
		return fmt.Errorf("replace database: %w", err)
	}

	s.log.WarnContext(ctx, "database restored", "caller", caller.Login, "bytes", len(data))
	return nil
}

// SaveBackup stores a fresh archive in the vault and returns its name.
func (s *BackupService) SaveBackup(ctx context.Context, caller models.Principal) (string, error) {
	if err := requireAdmin(caller); err != nil {
		return "", err
	}
	if s.vault == nil {
		return "", ErrNoVault
	}
	archive, err := s.Backup(ctx, caller)
	if err != nil {
		return "", err
	}
	if err := s.vault.Put(ctx, archive.Name, bytes.NewReader(archive.Data)); err != nil {
		return "", fmt.Errorf("save backup: %w", err)
	}
	s.log.InfoContext(ctx, "backup saved", "caller", caller.Login, "name", archive.Name)
	return archive.Name, nil
}

func (s *BackupService) ListBackups(ctx context.Context, caller models.Principal) ([]backup.Info, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	if s.vault == nil {
		return nil, nil
	}
	return s.vault.List(ctx)
}

func (s *BackupService) OpenBackup(ctx context.Context, caller models.Principal, name string) (io.ReadCloser, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	if s.vault == nil {
		return nil, ErrNoVault
	}
	return s.vault.Open(ctx, name)
}

func (s *BackupService) RestoreSaved(ctx context.Context, caller models.Principal, name string) error {
	rc, err := s.OpenBackup(ctx, caller, name)
	if err != nil {
		return err
	}
	defer rc.Close()
	return s.Restore(ctx, caller, rc)
}
