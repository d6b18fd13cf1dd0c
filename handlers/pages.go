package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"worklog/export"
	"worklog/models"
	"worklog/services"
	"worklog/worktime"

	"github.com/dchest/captcha"
)

// LoginHandler serves "/" and every path the mux does not know.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		p, _ := s.currentPrincipal(w, r)
		s.renderError(w, r, p, http.StatusNotFound, "NotFound")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if _, ok := s.currentPrincipal(w, r); ok {
			s.redirect(w, r, "/dashboard")
			return
		}
		s.renderLogin(w, r, http.StatusOK, "", "")
	case http.MethodPost:
		s.login(w, r)
	default:
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

func (s *Server) renderLogin(w http.ResponseWriter, r *http.Request, status int, errKey, login string) {
	data := map[string]any{"Login": login}
	if errKey != "" {
		data["Error"] = errKey
	}
	if s.loginLimiter.Failures(getClientIP(r)) >= captchaAfter {
		data["CaptchaID"] = captcha.New()
	}
	s.renderTemplate(w, r, status, "login.html", models.Principal{}, data)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	ip := getClientIP(r)
	login := r.FormValue("login")

	if !s.loginLimiter.Allow(ip) {
		s.log.WarnContext(r.Context(), "login blocked", "ip", ip)
		s.renderLogin(w, r, http.StatusTooManyRequests, "TooManyAttempts", login)
		return
	}

	if s.loginLimiter.Failures(ip) >= captchaAfter &&
		!s.verifyCaptcha(r.FormValue("captcha_id"), r.FormValue("captcha")) {
		s.loginLimiter.RecordFailure(ip)
		s.renderLogin(w, r, http.StatusUnauthorized, "InvalidCaptcha", login)
		return
	}

	p, err := s.svc.Accounts.Authenticate(r.Context(), login, r.FormValue("password"))
	if err != nil {
		s.loginLimiter.RecordFailure(ip)
		status := errorStatus(err)
		if status == http.StatusInternalServerError {
			s.log.ErrorContext(r.Context(), "authenticate", "error", err)
		} else {
			s.log.InfoContext(r.Context(), "login failed", "login", login, "ip", ip)
		}
		s.renderLogin(w, r, status, errorKey(err), login)
		return
	}

	s.loginLimiter.Reset(ip)
	if err := s.sessions.Login(w, r, p.UserID); err != nil {
		s.log.ErrorContext(r.Context(), "save session", "error", err)
		s.renderLogin(w, r, http.StatusInternalServerError, "InternalServerError", login)
		return
	}
	s.log.InfoContext(r.Context(), "user logged in", "user_id", p.UserID, "ip", ip)
	s.redirect(w, r, "/dashboard")
}

func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	_ = s.sessions.Clear(w, r)
	s.redirect(w, r, "/")
}

// viewRange turns the view/date query into a range. Unknown views fall back
// to the month of date.
func viewRange(view, date string, today time.Time) (string, time.Time, models.DateRange, error) {
	d := worktime.Day(today)
	if date != "" {
		var err error
		if d, err = worktime.ParseDate(date); err != nil {
			return "", time.Time{}, models.DateRange{}, err
		}
	}
	switch view {
	case "day":
		return view, d, worktime.DayRange(d), nil
	case "fortnight":
		return view, d, worktime.FortnightRange(d), nil
	}
	return "month", d, worktime.MonthRange(d), nil
}

// targetUser is the user whose entries a request works on: the caller, or
// for admins the user_id parameter when given.
func targetUser(r *http.Request, p models.Principal) int64 {
	if p.IsAdmin() {
		if id := formInt64(r, "user_id"); id > 0 {
			return id
		}
	}
	return p.UserID
}

func (s *Server) DashboardHandler(w http.ResponseWriter, r *http.Request, p models.Principal) {
	if r.Method == http.MethodPost {
		s.recordEntry(w, r, p)
		return
	}
	s.EntriesHandler(w, r, p)
}

func (s *Server) recordEntry(w http.ResponseWriter, r *http.Request, p models.Principal) {
	in := entryInput(r)
	in.UserID = targetUser(r, p)

	entry, err := s.svc.Entries.RecordEntry(r.Context(), p, in)
	if err != nil {
		s.flashError(w, r, err)
		back := "/dashboard"
		if in.UserID != p.UserID {
			back += "?user_id=" + strconv.FormatInt(in.UserID, 10)
		}
		s.redirect(w, r, back)
		return
	}
	s.flash(w, r, "success", "EntrySaved")
	s.redirect(w, r, entriesURL(p, entry))
}

func entryInput(r *http.Request) services.EntryInput {
	return services.EntryInput{
		Date:      r.FormValue("date"),
		ProjectID: formInt64(r, "project_id"),
		Duration:  r.FormValue("duration"),
		Note:      r.FormValue("note"),
		Extra:     formBool(r, "extra"),
		Overtime:  formBool(r, "overtime"),
	}
}

// EntriesHandler shows the entries of one day, fortnight or month together
// with the form for a new entry.
func (s *Server) EntriesHandler(w http.ResponseWriter, r *http.Request, p models.Principal) {
	ctx := r.Context()
	q := r.URL.Query()

	view, day, rng, err := viewRange(q.Get("view"), q.Get("date"), s.now())
	if err != nil {
		s.renderError(w, r, p, http.StatusBadRequest, errorKey(err))
		return
	}
	userID := targetUser(r, p)

	list, err := s.svc.Entries.ListEntries(ctx, p, userID, rng)
	if err != nil {
		s.renderServiceError(w, r, p, err)
		return
	}
	projects, err := s.svc.Projects.ListActive(ctx, p)
	if err != nil {
		s.renderServiceError(w, r, p, err)
		return
	}

	data := map[string]any{
		"View":     view,
		"Date":     worktime.FormatDate(day),
		"Today":    worktime.FormatDate(s.now()),
		"Range":    list.Range,
		"Entries":  list.Entries,
		"Totals":   list.Totals,
		"Projects": projects,
		"UserID":   userID,
		"Prev":     worktime.FormatDate(shift(view, day, -1)),
		"Next":     worktime.FormatDate(shift(view, day, 1)),
	}
	if p.IsAdmin() {
		users, err := s.svc.Accounts.ListUsers(ctx, p)
		if err != nil {
			s.renderServiceError(w, r, p, err)
			return
		}
		data["Users"] = users
	}
	s.renderTemplate(w, r, http.StatusOK, "dashboard.html", p, data)
}

func shift(view string, d time.Time, n int) time.Time {
	switch view {
	case "day":
		return d.AddDate(0, 0, n)
	case "fortnight":
		return d.AddDate(0, 0, 14*n)
	}
	return worktime.MonthRange(d).From.AddDate(0, n, 0)
}

func (s *Server) renderServiceError(w http.ResponseWriter, r *http.Request, p models.Principal, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		s.log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	s.renderError(w, r, p, status, errorKey(err))
}

func (s *Server) EditEntryHandler(w http.ResponseWriter, r *http.Request, p models.Principal) {
	ctx := r.Context()
	id := formInt64(r, "id")

	if r.Method == http.MethodPost {
		entry, err := s.svc.Entries.UpdateEntry(ctx, p, id, entryInput(r))
		if err != nil {
			s.flashError(w, r, err)
			s.redirect(w, r, "/entries/edit?id="+strconv.FormatInt(id, 10))
			return
		}
		s.flash(w, r, "success", "EntrySaved")
		s.redirect(w, r, entriesURL(p, entry))
		return
	}

	entry, err := s.svc.Entries.GetEntry(ctx, p, id)
	if err != nil {
		s.renderServiceError(w, r, p, err)
		return
	}
	projects, err := s.svc.Projects.ListActive(ctx, p)
	if err != nil {
		s.renderServiceError(w, r, p, err)
		return
	}
	// An entry may stay on a project that was deactivated since.
	if !slices.ContainsFunc(projects, func(pr models.Project) bool { return pr.ID == entry.ProjectID }) {
		current, err := s.svc.Projects.GetProject(ctx, p, entry.ProjectID)
		if err != nil {
			s.renderServiceError(w, r, p, err)
			return
		}
		projects = append(projects, current)
	}
	s.renderTemplate(w, r, http.StatusOK, "entry_edit.html", p, map[string]any{
		"Entry":    entry,
		"Projects": projects,
	})
}

func entriesURL(p models.Principal, e models.Entry) string {
	v := url.Values{"date": {worktime.FormatDate(e.Date)}}
	if e.UserID != p.UserID {
		v.Set("user_id", strconv.FormatInt(e.UserID, 10))
	}
	return "/dashboard?" + v.Encode()
}

func (s *Server) DeleteEntryHandler(w http.ResponseWriter, r *http.Request, p models.Principal) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	id := formInt64(r, "id")

	entry, err := s.svc.Entries.GetEntry(ctx, p, id)
	if err == nil {
		err = s.svc.Entries.DeleteEntry(ctx, p, id)
	}
	if err != nil {
		s.flashError(w, r, err)
		s.redirect(w, r, "/dashboard")
		return
	}
	s.flash(w, r, "success", "EntryDeleted")
	s.redirect(w, r, entriesURL(p, entry))
}

// ExportEntriesHandler downloads the caller's entries between from and to,
// oldest first. Without a range the current month is exported.
func (s *Server) ExportEntriesHandler(w http.ResponseWriter, r *http.Request, p models.Principal) {
	q := r.URL.Query()
	format, err := export.ParseFormat(q.Get("format"))
	if err != nil {
		s.renderError(w, r, p, http.StatusBadRequest, "InvalidExportFormat")
		return
	}

	rng := worktime.MonthRange(s.now())
	if q.Get("from") != "" || q.Get("to") != "" {
		if rng, err = worktime.ParseRange(q.Get("from"), q.Get("to")); err != nil {
			s.renderServiceError(w, r, p, err)
			return
		}
	}

	userID := targetUser(r, p)
	list, err := s.svc.Entries.ListEntries(r.Context(), p, userID, rng)
	if err != nil {
		s.renderServiceError(w, r, p, err)
		return
	}
	entries := slices.Clone(list.Entries)
	slices.Reverse(entries)

	base := fmt.Sprintf("entries_%s_%s", worktime.FormatDate(rng.From), worktime.FormatDate(rng.To))
	s.sendExport(w, r, p, format, base, entries)
}

func (s *Server) sendExport(w http.ResponseWriter, r *http.Request, p models.Principal, format export.Format, base string, entries []models.Entry) {
	var buf bytes.Buffer
	if err := export.Write(&buf, format, entries); err != nil {
		s.renderServiceError(w, r, p, fmt.Errorf("export: %w", err))
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", format.FileName(base)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = buf.WriteTo(w)
}

func (s *Server) ChangePasswordHandler(w http.ResponseWriter, r *http.Request, p models.Principal) {
	if r.Method != http.MethodPost {
		s.renderTemplate(w, r, http.StatusOK, "change_password.html", p, nil)
		return
	}

	newPassword := r.FormValue("new_password")
	if newPassword != r.FormValue("confirm_password") {
		s.flash(w, r, "error", "PasswordsDoNotMatch")
		s.redirect(w, r, "/change-password")
		return
	}
	err := s.svc.Accounts.ChangePassword(r.Context(), p, r.FormValue("old_password"), newPassword)
	switch {
	case errors.Is(err, services.ErrInvalidCredentials):
		s.flash(w, r, "error", "WrongPassword")
		s.redirect(w, r, "/change-password")
		return
	case errors.Is(err, services.ErrInvalidInput):
		s.flash(w, r, "error", "PasswordTooShort")
		s.redirect(w, r, "/change-password")
		return
	case err != nil:
		s.flashError(w, r, err)
		s.redirect(w, r, "/change-password")
		return
	}
	s.flash(w, r, "success", "PasswordChanged")
	s.redirect(w, r, "/dashboard")
}
