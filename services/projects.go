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

type ProjectService struct {
	store *db.Store
	log   *slog.Logger
}

const projectColumns = "id, name, active, created_at"

func scanProject(row interface{ Scan(...any) error }) (models.Project, error) {
	var p models.Project
	err := row.Scan(&p.ID, &p.Name, &p.Active, &p.CreatedAt)
	return p, err
}

func projectName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: project name is required", ErrInvalidInput)
	}
	return name, nil
}

func (s *ProjectService) CreateProject(ctx context.Context, caller models.Principal, name string) (models.Project, error) {
	if err := requireAdmin(caller); err != nil {
		return models.Project{}, err
	}
	name, err := projectName(name)
	if err != nil {
		return models.Project{}, err
	}

	var project models.Project
	err = s.store.Tx(ctx, func(tx db.DBTX) error {
		res, err := tx.ExecContext(ctx, "INSERT INTO projects (name, active) VALUES (?, 1)", name)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateProject
			}
			return fmt.Errorf("insert project: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		project, err = scanProject(tx.QueryRowContext(ctx, "SELECT "+projectColumns+" FROM projects WHERE id = ?", id))
		return err
	})
	if err != nil {
		return models.Project{}, err
	}
	s.log.InfoContext(ctx, "project created", "caller", caller.Login, "project_id", project.ID, "name", project.Name)
	return project, nil
}

func (s *ProjectService) SetActive(ctx context.Context, caller models.Principal, id int64, active bool) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}
	err := s.store.Tx(ctx, func(tx db.DBTX) error {
		res, err := tx.ExecContext(ctx, "UPDATE projects SET active = ? WHERE id = ?", active, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.InfoContext(ctx, "project active flag changed", "caller", caller.Login, "project_id", id, "active", active)
	return nil
}

// Toggle flips the active flag and returns the updated project.
func (s *ProjectService) Toggle(ctx context.Context, caller models.Principal, id int64) (models.Project, error) {
	if err := requireAdmin(caller); err != nil {
		return models.Project{}, err
	}
	var project models.Project
	err := s.store.Tx(ctx, func(tx db.DBTX) error {
		res, err := tx.ExecContext(ctx, "UPDATE projects SET active = 1 - active WHERE id = ?", id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		project, err = scanProject(tx.QueryRowContext(ctx, "SELECT "+projectColumns+" FROM projects WHERE id = ?", id))
		return err
	})
	if err != nil {
		return models.Project{}, err
	}
	s.log.InfoContext(ctx, "project toggled", "caller", caller.Login, "project_id", id, "active", project.Active)
	return project, nil
}

func (s *ProjectService) Rename(ctx context.Context, caller models.Principal, id int64, name string) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}
	name, err := projectName(name)
	if err != nil {
		return err
	}
	return s.store.Tx(ctx, func(tx db.DBTX) error {
		res, err := tx.ExecContext(ctx, "UPDATE projects SET name = ? WHERE id = ?", name, id)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateProject
			}
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *ProjectService) GetProject(ctx context.Context, caller models.Principal, id int64) (models.Project, error) {
	if err := requireAuthenticated(caller); err != nil {
		return models.Project{}, err
	}
	var project models.Project
	err := s.store.View(ctx, func(conn *sql.DB) error {
		var err error
		project, err = scanProject(conn.QueryRowContext(ctx, "SELECT "+projectColumns+" FROM projects WHERE id = ?", id))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return models.Project{}, ErrNotFound
	}
	return project, err
}

// ListProjects returns every project, active ones first.
func (s *ProjectService) ListProjects(ctx context.Context, caller models.Principal) ([]models.Project, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	return s.list(ctx, "SELECT "+projectColumns+" FROM projects ORDER BY active DESC, name")
}

// ListActive returns the projects new entries may be booked on.
func (s *ProjectService) ListActive(ctx context.Context, caller models.Principal) ([]models.Project, error) {
	if err := requireAuthenticated(caller); err != nil {
		return nil, err
	}
	return s.list(ctx, "SELECT "+projectColumns+" FROM projects WHERE active = 1 ORDER BY name")
}

func (s *ProjectService) list(ctx context.Context, query string) ([]models.Project, error) {
	var projects []models.Project
	err := s.store.View(ctx, func(conn *sql.DB) error {
		rows, err := conn.QueryContext(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			p, err := scanProject(rows)
			if err != nil {
				return err
			}
			projects = append(projects, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}
