package services

import (
	"errors"

	"worklog/backup"
	"worklog/worktime"

	"github.com/mattn/go-sqlite3"
)

var (
	ErrPermissionDenied   = errors.New("permission denied")
	ErrInvalidCredentials = errors.New("invalid login or password")
	ErrAccountInactive    = errors.New("account is inactive")

	// validation
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidDuration  = worktime.ErrInvalidDuration
	ErrInvalidDate      = worktime.ErrInvalidDate
	ErrInvalidDateRange = worktime.ErrInvalidDateRange

	ErrNotFound         = errors.New("not found")
	ErrDuplicateLogin   = errors.New("login already exists")
	ErrDuplicateProject = errors.New("project already exists")
	ErrUnknownProject   = errors.New("unknown or inactive project")
	ErrLastAdmin        = errors.New("the last active administrator cannot be removed")

	// backups
	ErrInvalidFormat  = errors.New("invalid backup format")
	ErrBackupNotFound = backup.ErrNotFound
	ErrNoVault        = errors.New("backup storage is not configured")
)

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
