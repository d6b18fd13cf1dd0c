package handlers

import (
	"fmt"
	"html/template"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"worklog/backup"
	"worklog/export"
	"worklog/models"
	"worklog/services"
	"worklog/worktime"
)

func (s *Server) UsersHandler(w http.ResponseWriter, r *http.Request, p models.Principal) {
	users, err := s.svc.Accounts.ListUsers(r.Context(), p)
	if err != nil {
		s.renderServiceError(w, r, p, err)
		return
	}
	s.renderTemplate(w, r, http.StatusOK, "users.html", p, map[string]any{
		"Users": users,
		"Roles": []models.Role{models.RoleEmployee, models.RoleAdmin},
	})
}

func (s *Server) AddUserHandler(w http.ResponseWriter, r *http.Request, p models.Principal) {
	if r.Method != http.MethodPost {
		s.redirect(w, r, "/admin/users")
		return
	}
	u, err := s.svc.Accounts.CreateUser(r.Context(), p, services.NewUser{
		Login:    r.FormValue("login"),
		Name:     r.FormValue("name"),
		Password: r.FormValue("password"),
		Role:     models.Role(r.FormValue("role")),
		Active:   r.FormValue("active") == "" || formBool(r, "active"),
	})
	if err != nil {
		s.flashError(w, r, err)
	} else {
		s.log.InfoContext(r.Context(), "user added", "caller", p.Login, "login", u.Login)
		s.flash(w, r, "success", "UserAdded")
	}
	s.redirect(w, r, "/admin/users")
}

func (s *Server) EditUserHandler(w http.ResponseWriter, r *http.Request, p models.Principal) {
	id := formInt64(r, "id")

	if r.Method == http.MethodPost {
		_, err := s.svc.Accounts.UpdateUser(r.Context(), p, id, services.UserUpdate{
			Login:    r.FormValue("login"),
			Name:     r.FormValue("name"),
			Role:     models.Role(r.FormValue("role")),
			Active:   formBool(r, "active"),
			Password: r.FormValue("password"),
		})
		if err != nil {
			s.flashError(w, r, err)
			s.redirect(w, r, "/admin/users/edit?id="+strconv.FormatInt(id, 10))
			return
		}
		s.flash(w, r, "success", "UserUpdated")
		s.redirect(w, r, "/admin/users")
		return
	}

	u, err := s.svc.Accounts.GetUser(r.Context(), p, id)
	if err != nil {
		s.renderServiceError(w, r, p, err)
		return
	}
	s.renderTemplate(w, r, http.StatusOK, "user_edit.html", p, map[string]any{
		"Account": u,
		"Roles":   []models.Role{models.RoleEmployee, models.RoleAdmin},
	})
}

func (s *Server) ProjectsHandler(w http.ResponseWriter, r *http.Request, p models.Principal) {
	if r.Method == http.MethodPost {
		if _, err := s.svc.Projects.CreateProject(r.Context(), p, r.FormValue("name")); err != nil {
			s.flashError(w, r, err)
		} else {
			s.flash(w, r, "success", "ProjectAdded")
		}
		s.redirect(w, r, "/admin/projects")
		return
	}

	projects, err := s.svc.Projects.ListProjects(r.Context(), p)
	if err != nil {
		s.renderServiceError(w, r, p, err)
		return
	}
	s.renderTemplate(w, r, http.StatusOK, "projects.html", p, map[string]any{"Projects": projects})
}

func (s *Server) ToggleProjectHandler(w http.ResponseWriter, r *http.Request, p models.Principal) {
	if r.Method != http.MethodPost {
		s.redirect(w, r, "/admin/projects")
		return
	}
	if _, err := s.svc.Projects.Toggle(r.Context(), p, formInt64(r, "id")); err != nil {
		s.flashError(w, r, err)
	} else {
		s.flash(w, r, "success", "ProjectUpdated")
	}
	s.redirect(w, r, "/admin/projects")
}

func (s *Server) RenameProjectHandler(w http.ResponseWriter, r *http.Request, p models.Principal) {
	if r.Method != http.MethodPost {
		s.redirect(w, r, "/admin/projects")
		return
	}
	if err := s.svc.Projects.Rename(r.Context(), p, formInt64(r, "id"), r.FormValue("name")); err != nil {
		s.flashError(w, r, err)
	} else {
		s.flash(w, r, "success", "ProjectUpdated")
	}
	s.redirect(w, r, "/admin/projects")
}

// reportQuery reads the report range and filter. The default range is the
// current month.
func (s *Server) reportQuery(q url.Values) (models.DateRange, services.ReportFilter, error) {
	rng := worktime.MonthRange(s.now())
	if q.Get("from") != "" || q.Get("to") != "" {
		var err error
		if rng, err = worktime.ParseRange(q.Get("from"), q.Get("to")); err != nil {
			return models.DateRange{}, services.ReportFilter{}, err
		}
	}
	userID, _ := strconv.ParseInt(q.Get("user_id"), 10, 64)
	projectID, _ := strconv.ParseInt(q.Get("project_id"), 10, 64)
	return rng, services.ReportFilter{
		UserID:       userID,
		ProjectID:    projectID,
		ExtraOnly:    q.Get("extra") == "1",
		OvertimeOnly: q.Get("overtime") == "1",
	}, nil
}

func (s *Server) ReportsHandler(w http.ResponseWriter, r *http.Request, p models.Principal) {
	ctx := r.Context()
	rng, filter, err := s.reportQuery(r.URL.Query())
	if err != nil {
		s.renderServiceError(w, r, p, err)
		return
	}
	report, err := s.svc.Reports.ReportEntries(ctx, p, rng, filter)
	if err != nil {
		s.renderServiceError(w, r, p, err)
		return
	}
	users, err := s.svc.Accounts.ListUsers(ctx, p)
	if err != nil {
		s.renderServiceError(w, r, p, err)
		return
	}
	projects, err := s.svc.Projects.ListProjects(ctx, p)
	if err != nil {
		s.renderServiceError(w, r, p, err)
		return
	}
	q := r.URL.Query()
	q.Del("format")
	s.renderTemplate(w, r, http.StatusOK, "reports.html", p, map[string]any{
		"Report":   report,
		"From":     worktime.FormatDate(rng.From),
		"To":       worktime.FormatDate(rng.To),
		"Users":    users,
		"Projects": projects,
		"Query":    template.URL(q.Encode()),
	})
}

func (s *Server) ExportReportHandler(w http.ResponseWriter, r *http.Request, p models.Principal) {
	q := r.URL.Query()
	format, err := export.ParseFormat(q.Get("format"))
	if err != nil {
		s.renderError(w, r, p, http.StatusBadRequest, "InvalidExportFormat")
		return
	}
	rng, filter, err := s.reportQuery(q)
	if err != nil {
		s.renderServiceError(w, r, p, err)
		return
	}
	report, err := s.svc.Reports.ReportEntries(r.Context(), p, rng, filter)
	if err != nil {
		s.renderServiceError(w, r, p, err)
		return
	}
	base := fmt.Sprintf("report_%s_%s", worktime.FormatDate(rng.From), worktime.FormatDate(rng.To))
	s.sendExport(w, r, p, format, base, report.Entries)
}

func (s *Server) BackupHandler(w http.ResponseWriter, r *http.Request, p models.Principal) {
	saved, err := s.svc.Backups.ListBackups(r.Context(), p)
	if err != nil {
		s.log.ErrorContext(r.Context(), "list saved backups", "error", err)
		s.flash(w, r, "error", "BackupStorageUnavailable")
	}
	s.renderTemplate(w, r, http.StatusOK, "backup.html", p, map[string]any{
		"Saved":    saved,
		"HasVault": s.svc.Backups.HasVault(),
		"MaxMB":    backup.MaxArchiveSize >> 20,
	})
}

func (s *Server) DownloadBackupHandler(w http.ResponseWriter, r *http.Request, p models.Principal) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	archive, err := s.svc.Backups.Backup(r.Context(), p)
	if err != nil {
		s.renderServiceError(w, r, p, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", archive.Name))
	w.Header().Set("Content-Length", strconv.Itoa(len(archive.Data)))
	_, _ = w.Write(archive.Data)
}

func (s *Server) SaveBackupHandler(w http.ResponseWriter, r *http.Request, p models.Principal) {
	if r.Method != http.MethodPost {
		s.redirect(w, r, "/admin/backup")
		return
	}
	if _, err := s.svc.Backups.SaveBackup(r.Context(), p); err != nil {
		s.flashError(w, r, err)
	} else {
		s.flash(w, r, "success", "BackupSaved")
	}
	s.redirect(w, r, "/admin/backup")
}

func (s *Server) GetSavedBackupHandler(w http.ResponseWriter, r *http.Request, p models.Principal) {
	name := r.URL.Query().Get("name")
	rc, err := s.svc.Backups.OpenBackup(r.Context(), p, name)
	if err != nil {
		s.renderServiceError(w, r, p, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if _, err := io.Copy(w, rc); err != nil {
		s.log.WarnContext(r.Context(), "send saved backup", "name", name, "error", err)
	}
}

func (s *Server) RestoreBackupHandler(w http.ResponseWriter, r *http.Request, p models.Principal) {
	if r.Method != http.MethodPost {
		s.redirect(w, r, "/admin/backup")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		s.flash(w, r, "error", "NoFileUploaded")
		s.redirect(w, r, "/admin/backup")
		return
	}
	defer file.Close()

	if err := s.svc.Backups.Restore(r.Context(), p, file); err != nil {
		s.flashError(w, r, err)
		s.redirect(w, r, "/admin/backup")
		return
	}
	s.restored(w, r, p)
}

func (s *Server) RestoreSavedBackupHandler(w http.ResponseWriter, r *http.Request, p models.Principal) {
	if r.Method != http.MethodPost {
		s.redirect(w, r, "/admin/backup")
		return
	}
	if err := s.svc.Backups.RestoreSaved(r.Context(), p, r.FormValue("name")); err != nil {
		s.flashError(w, r, err)
		s.redirect(w, r, "/admin/backup")
		return
	}
	s.restored(w, r, p)
}

// restored finishes a restore. The restored data may no longer know the
// admin who ran it, in which case the session ends.
func (s *Server) restored(w http.ResponseWriter, r *http.Request, p models.Principal) {
	if _, err := s.svc.Accounts.Principal(r.Context(), p.UserID); err != nil {
		_ = s.sessions.Clear(w, r)
		s.redirect(w, r, "/")
		return
	}
	s.flash(w, r, "success", "RestoreDone")
	s.redirect(w, r, "/admin/backup")
}
