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
	"worklog/worktime"
)

type EntryService struct {
	store *db.Store
	log   *slog.Logger
}

// EntryInput is a time entry as submitted by a form or the API. Date and
// Duration are still text; the service parses them.
type EntryInput struct {
	UserID    int64
	Date      string
	ProjectID int64
	Duration  string
	Note      string
	Extra     bool
	Overtime  bool
}

type EntryList struct {
	Range   models.DateRange `json:"range"`
	Entries []models.Entry   `json:"entries"`
	Totals  models.Totals    `json:"totals"`
}

const MaxNoteLength = 2000

const entrySelect = `SELECT e.id, e.user_id, u.login, u.name, e.project_id, p.name,
	e.work_date, e.minutes, e.note, e.extra, e.overtime, e.created_at, e.updated_at
FROM entries e
JOIN users u ON u.id = e.user_id
JOIN projects p ON p.id = e.project_id`

func scanEntry(row interface{ Scan(...any) error }) (models.Entry, error) {
	var (
		e    models.Entry
		date string
	)
	err := row.Scan(&e.ID, &e.UserID, &e.UserLogin, &e.UserName, &e.ProjectID, &e.ProjectName,
		&date, &e.Minutes, &e.Note, &e.Extra, &e.Overtime, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return e, err
	}
	e.Date, err = worktime.ParseDate(date)
	return e, err
}

type parsedEntry struct {
	date    string
	minutes int
	note    string
}

func parseEntry(in EntryInput) (parsedEntry, error) {
	d, err := worktime.ParseDate(in.Date)
	if err != nil {
		return parsedEntry{}, err
	}
	minutes, err := worktime.ParseHHMM(in.Duration)
	if err != nil {
		return parsedEntry{}, err
	}
	note := strings.TrimSpace(in.Note)
	if len([]rune(note)) > MaxNoteLength {
		return parsedEntry{}, fmt.Errorf("%w: note longer than %d characters", ErrInvalidInput, MaxNoteLength)
	}
	return parsedEntry{date: worktime.FormatDate(d), minutes: minutes, note: note}, nil
}

func getEntry(ctx context.Context, q db.DBTX, id int64) (models.Entry, error) {
	e, err := scanEntry(q.QueryRowContext(ctx, entrySelect+" WHERE e.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Entry{}, ErrNotFound
	}
	return e, err
}

// RecordEntry stores a new entry for in.UserID. Employees may only record
// for themselves and only on active projects.
func (s *EntryService) RecordEntry(ctx context.Context, caller models.Principal, in EntryInput) (models.Entry, error) {
	if err := requireSelfOrAdmin(caller, in.UserID); err != nil {
		return models.Entry{}, err
	}
	p, err := parseEntry(in)
	if err != nil {
		return models.Entry{}, err
	}

	var entry models.Entry
	err = s.store.Tx(ctx, func(tx db.DBTX) error {
		var userExists int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE id = ?", in.UserID).Scan(&userExists); err != nil {
			return err
		}
		if userExists == 0 {
			return ErrNotFound
		}

		var active bool
		err := tx.QueryRowContext(ctx, "SELECT active FROM projects WHERE id = ?", in.ProjectID).Scan(&active)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && !active) {
			return ErrUnknownProject
		}
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO entries (user_id, project_id, work_date, minutes, extra, overtime, note)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			in.UserID, in.ProjectID, p.date, p.minutes, in.Extra, in.Overtime, p.note)
		if err != nil {
			return fmt.Errorf("insert entry: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		entry, err = getEntry(ctx, tx, id)
		return err
	})
	if err != nil {
		return models.Entry{}, err
	}

	s.log.DebugContext(ctx, "entry recorded", "caller", caller.Login, "entry_id", entry.ID, "user_id", entry.UserID, "minutes", entry.Minutes)
	return entry, nil
}

// ListEntries returns the entries of userID inside r, newest first.
func (s *EntryService) ListEntries(ctx context.Context, caller models.Principal, userID int64, r models.DateRange) (EntryList, error) {
	if err := requireSelfOrAdmin(caller, userID); err != nil {
		return EntryList{}, err
	}
	if r.To.Before(r.From) {
		return EntryList{}, ErrInvalidDateRange
	}

	list := EntryList{Range: r, Entries: []models.Entry{}}
	err := s.store.View(ctx, func(conn *sql.DB) error {
		rows, err := conn.QueryContext(ctx,
			entrySelect+" WHERE e.user_id = ? AND e.work_date BETWEEN ? AND ? ORDER BY e.work_date DESC, e.id DESC",
			userID, worktime.FormatDate(r.From), worktime.FormatDate(r.To))
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			e, err := scanEntry(rows)
			if err != nil {
				return err
			}
			list.Entries = append(list.Entries, e)
			list.Totals.Add(e)
		}
		return rows.Err()
	})
	if err != nil {
		return EntryList{}, fmt.Errorf("list entries: %w", err)
	}
	return list, nil
}

func (s *EntryService) GetEntry(ctx context.Context, caller models.Principal, id int64) (models.Entry, error) {
	if err := requireAuthenticated(caller); err != nil {
		return models.Entry{}, err
	}
	var entry models.Entry
	err := s.store.View(ctx, func(conn *sql.DB) error {
		var err error
		entry, err = getEntry(ctx, conn, id)
		return err
	})
	if err != nil {
		return models.Entry{}, err
	}
	if err := requireSelfOrAdmin(caller, entry.UserID); err != nil {
		return models.Entry{}, err
	}
	return entry, nil
}

// UpdateEntry rewrites an entry. The owner never changes. The project must
// be active unless the entry already belongs to it.
func (s *EntryService) UpdateEntry(ctx context.Context, caller models.Principal, id int64, in EntryInput) (models.Entry, error) {
	if err := requireAuthenticated(caller); err != nil {
		return models.Entry{}, err
	}
	p, err := parseEntry(in)
	if err != nil {
		return models.Entry{}, err
	}

	var entry models.Entry
	err = s.store.Tx(ctx, func(tx db.DBTX) error {
		current, err := getEntry(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := requireSelfOrAdmin(caller, current.UserID); err != nil {
			return err
		}

		if in.ProjectID != current.ProjectID {
			var active bool
			err := tx.QueryRowContext(ctx, "SELECT active FROM projects WHERE id = ?", in.ProjectID).Scan(&active)
			if errors.Is(err, sql.ErrNoRows) || (err == nil && !active) {
				return ErrUnknownProject
			}
			if err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE entries SET project_id = ?, work_date = ?, minutes = ?, extra = ?, overtime = ?, note = ?,
			updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			in.ProjectID, p.date, p.minutes, in.Extra, in.Overtime, p.note, id)
		if err != nil {
			return fmt.Errorf("update entry: %w", err)
		}
		entry, err = getEntry(ctx, tx, id)
		return err
	})
	if err != nil {
		return models.Entry{}, err
	}
	return entry, nil
}

func (s *EntryService) DeleteEntry(ctx context.Context, caller models.Principal, id int64) error {
	if err := requireAuthenticated(caller); err != nil {
		return err
	}
	err := s.store.Tx(ctx, func(tx db.DBTX) error {
		current, err := getEntry(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := requireSelfOrAdmin(caller, current.UserID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, "DELETE FROM entries WHERE id = ?", id)
		return err
	})
	if err != nil {
		return err
	}
	s.log.InfoContext(ctx, "entry deleted", "caller", caller.Login, "entry_id", id)
	return nil
}
