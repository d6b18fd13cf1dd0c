package services

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"worklog/db"
	"worklog/models"
	"worklog/worktime"
)

type ReportService struct {
	store *db.Store
}

// ReportFilter narrows a report. Zero values match everything.
type ReportFilter struct {
	UserID       int64 `json:"user_id,omitempty"`
	ProjectID    int64 `json:"project_id,omitempty"`
	ExtraOnly    bool  `json:"extra_only,omitempty"`
	OvertimeOnly bool  `json:"overtime_only,omitempty"`
}

type EmployeeTotals struct {
	UserID int64  `json:"user_id"`
	Login  string `json:"login"`
	Name   string `json:"name"`
	models.Totals
}

type Report struct {
	Range     models.DateRange `json:"range"`
	Filter    ReportFilter     `json:"filter"`
	Entries   []models.Entry   `json:"entries"`
	Totals    models.Totals    `json:"totals"`
	Employees []EmployeeTotals `json:"employees"`
}

// ReportEntries lists the entries of every employee inside r, oldest first.
func (s *ReportService) ReportEntries(ctx context.Context, caller models.Principal, r models.DateRange, f ReportFilter) (Report, error) {
	if err := requireAdmin(caller); err != nil {
		return Report{}, err
	}
	if r.To.Before(r.From) {
		return Report{}, ErrInvalidDateRange
	}

	where := []string{"e.work_date BETWEEN ? AND ?"}
	args := []any{worktime.FormatDate(r.From), worktime.FormatDate(r.To)}
	if f.UserID != 0 {
		where = append(where, "e.user_id = ?")
		args = append(args, f.UserID)
	}
	if f.ProjectID != 0 {
		where = append(where, "e.project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.ExtraOnly {
		where = append(where, "e.extra = 1")
	}
	if f.OvertimeOnly {
		where = append(where, "e.overtime = 1")
	}
	query := entrySelect + " WHERE " + strings.Join(where, " AND ") + " ORDER BY e.work_date, u.login, e.id"

	report := Report{Range: r, Filter: f, Entries: []models.Entry{}, Employees: []EmployeeTotals{}}
	byUser := map[int64]*EmployeeTotals{}
	err := s.store.View(ctx, func(conn *sql.DB) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			e, err := scanEntry(rows)
			if err != nil {
				return err
			}
			report.Entries = append(report.Entries, e)
			report.Totals.Add(e)

			et, ok := byUser[e.UserID]
			if !ok {
				et = &EmployeeTotals{UserID: e.UserID, Login: e.UserLogin, Name: e.UserName}
				byUser[e.UserID] = et
			}
			et.Add(e)
		}
		return rows.Err()
	})
	if err != nil {
		return Report{}, fmt.Errorf("report entries: %w", err)
	}

	for _, et := range byUser {
		report.Employees = append(report.Employees, *et)
	}
	sort.Slice(report.Employees, func(i, j int) bool {
		return report.Employees[i].Login < report.Employees[j].Login
	})
	return report, nil
}
