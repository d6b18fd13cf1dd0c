package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"worklog/auth"
	"worklog/config"
	"worklog/db"
	"worklog/i18n"
	"worklog/models"
	"worklog/services"
	"worklog/templates"
	"worklog/worktime"

	"github.com/dchest/captcha"
	"github.com/gorilla/csrf"
)

type Deps struct {
	Config   *config.Config
	Store    *db.Store
	Services *services.Services
	Sessions *auth.Sessions
	Tokens   *auth.Tokens
	Logger   *slog.Logger
}

type Server struct {
	cfg      *config.Config
	store    *db.Store
	svc      *services.Services
	sessions *auth.Sessions
	tokens   *auth.Tokens
	log      *slog.Logger

	pages        map[string]*template.Template
	loginLimiter *rateLimiter
	requests     *ipLimiter

	verifyCaptcha func(id, solution string) bool
	now           func() time.Time
}

func New(d Deps) (*Server, error) {
	if err := i18n.Load(); err != nil {
		return nil, fmt.Errorf("load translations: %w", err)
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	s := &Server{
		cfg:           d.Config,
		store:         d.Store,
		svc:           d.Services,
		sessions:      d.Sessions,
		tokens:        d.Tokens,
		log:           d.Logger,
		pages:         make(map[string]*template.Template),
		loginLimiter:  newRateLimiter(),
		requests:      newIPLimiter(d.Config.RateLimitRPS, d.Config.RateLimitBurst),
		verifyCaptcha: captcha.VerifyString,
		now:           time.Now,
	}

	// Parsed once; each render clones the page and binds T to the
	// request language.
	for _, name := range templates.Names {
		t, err := template.New(name).Funcs(baseFuncs("en")).ParseFS(templates.Pages, "layout.html", name)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		s.pages[name] = t
	}
	return s, nil
}

func baseFuncs(lang string) template.FuncMap {
	return template.FuncMap{
		"T": func(key string) string {
			return i18n.T(lang, key)
		},
		"hhmm": worktime.FormatHHMM,
		"date": worktime.FormatDate,
	}
}

func (s *Server) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServerFS(templates.Static())))
	mux.Handle("/captcha/", captcha.Server(captcha.StdWidth, captcha.StdHeight))
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/lang", s.LanguageHandler)

	mux.HandleFunc("/", s.LoginHandler)
	mux.HandleFunc("/logout", s.LogoutHandler)
	mux.HandleFunc("/dashboard", s.page(s.DashboardHandler))
	mux.HandleFunc("/entries", s.page(s.EntriesHandler))
	mux.HandleFunc("/entries/edit", s.page(s.EditEntryHandler))
	mux.HandleFunc("/entries/delete", s.page(s.DeleteEntryHandler))
	mux.HandleFunc("/entries/export", s.page(s.ExportEntriesHandler))
	mux.HandleFunc("/change-password", s.page(s.ChangePasswordHandler))

	mux.HandleFunc("/admin/users", s.admin(s.UsersHandler))
	mux.HandleFunc("/admin/users/add", s.admin(s.AddUserHandler))
	mux.HandleFunc("/admin/users/edit", s.admin(s.EditUserHandler))
	mux.HandleFunc("/admin/projects", s.admin(s.ProjectsHandler))
	mux.HandleFunc("/admin/projects/toggle", s.admin(s.ToggleProjectHandler))
	mux.HandleFunc("/admin/projects/rename", s.admin(s.RenameProjectHandler))
	mux.HandleFunc("/admin/reports", s.admin(s.ReportsHandler))
	mux.HandleFunc("/admin/reports/export", s.admin(s.ExportReportHandler))
	mux.HandleFunc("/admin/backup", s.admin(s.BackupHandler))
	mux.HandleFunc("/admin/backup/download", s.admin(s.DownloadBackupHandler))
	mux.HandleFunc("/admin/backup/save", s.admin(s.SaveBackupHandler))
	mux.HandleFunc("/admin/backup/get", s.admin(s.GetSavedBackupHandler))
	mux.HandleFunc("/admin/backup/restore", s.admin(s.RestoreBackupHandler))
	mux.HandleFunc("/admin/backup/restore-saved", s.admin(s.RestoreSavedBackupHandler))

	// API endpoints (JSON)
	mux.HandleFunc("/api/v1/login", s.APILoginHandler)
	mux.HandleFunc("/api/v1/projects", s.api(s.APIProjectsHandler))
	mux.HandleFunc("/api/v1/entries", s.api(func(w http.ResponseWriter, r *http.Request, p models.Principal) {
		switch r.Method {
		case http.MethodGet:
			s.APIListEntriesHandler(w, r, p)
		case http.MethodPost:
			s.APIRecordEntryHandler(w, r, p)
		default:
			s.sendError(w, r, http.StatusMethodNotAllowed, "MethodNotAllowed")
		}
	}))
}

// Handler returns the mux wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterHandlers(mux)

	var h http.Handler = mux
	h = s.csrfProtect(h)
	h = CORS(s.cfg.AllowedOrigins)(h)
	h = s.requests.Middleware(h)
	h = SecurityHeadersMiddleware(h)
	h = limitBody(h)
	h = s.logRequests(h)
	h = requestID(h)
	return h
}

type pageHandler func(w http.ResponseWriter, r *http.Request, p models.Principal)

// currentPrincipal reloads the signed-in user. A session whose user vanished
// or was deactivated is dropped.
func (s *Server) currentPrincipal(w http.ResponseWriter, r *http.Request) (models.Principal, bool) {
	id := s.sessions.UserID(r)
	if id == 0 {
		return models.Principal{}, false
	}
	p, err := s.svc.Accounts.Principal(r.Context(), id)
	if err != nil {
		if !errors.Is(err, services.ErrNotFound) && !errors.Is(err, services.ErrAccountInactive) {
			s.log.ErrorContext(r.Context(), "load session user", "user_id", id, "error", err)
		}
		_ = s.sessions.Clear(w, r)
		return models.Principal{}, false
	}
	return p, true
}

func (s *Server) page(h pageHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := s.currentPrincipal(w, r)
		if !ok {
			s.redirect(w, r, "/")
			return
		}
		h(w, r, p)
	}
}

func (s *Server) admin(h pageHandler) http.HandlerFunc {
	return s.page(func(w http.ResponseWriter, r *http.Request, p models.Principal) {
		if !p.IsAdmin() {
			s.renderError(w, r, p, http.StatusForbidden, "Forbidden")
			return
		}
		h(w, r, p)
	})
}

// redirect answers htmx requests with HX-Redirect and everything else with
// 303 See Other.
func (s *Server) redirect(w http.ResponseWriter, r *http.Request, url string) {
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", url)
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, url, http.StatusSeeOther)
}

func (s *Server) flash(w http.ResponseWriter, r *http.Request, kind, key string) {
	s.sessions.AddFlash(w, r, kind, i18n.T(i18n.DetectLanguage(r), key))
}

func (s *Server) flashError(w http.ResponseWriter, r *http.Request, err error) {
	if errorStatus(err) == http.StatusInternalServerError {
		s.log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	s.flash(w, r, "error", errorKey(err))
}

func (s *Server) renderTemplate(w http.ResponseWriter, r *http.Request, status int, name string, p models.Principal, data map[string]any) {
	lang := i18n.DetectLanguage(r)

	page, ok := s.pages[name]
	if !ok {
		http.Error(w, "unknown template "+name, http.StatusInternalServerError)
		return
	}
	tmpl, err := page.Clone()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	tmpl.Funcs(baseFuncs(lang))

	if data == nil {
		data = map[string]any{}
	}
	data["AppName"] = s.cfg.AppName
	data["Lang"] = lang
	data["csrfField"] = csrf.TemplateField(r)
	data["User"] = p
	data["IsAdmin"] = p.IsAdmin()
	if p.Authenticated() {
		data["Flashes"] = s.sessions.Flashes(w, r)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		s.log.ErrorContext(r.Context(), "render template", "template", name, "error", err)
		http.Error(w, i18n.T(lang, "InternalServerError"), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, p models.Principal, status int, key string) {
	s.renderTemplate(w, r, status, "error.html", p, map[string]any{
		"Status":  status,
		"Message": key,
	})
}

func errorKey(err error) string {
	switch {
	case errors.Is(err, services.ErrPermissionDenied):
		return "Forbidden"
	case errors.Is(err, services.ErrInvalidCredentials):
		return "InvalidCredentials"
	case errors.Is(err, services.ErrAccountInactive):
		return "AccountInactive"
	case errors.Is(err, services.ErrDuplicateLogin):
		return "LoginAlreadyExists"
	case errors.Is(err, services.ErrDuplicateProject):
		return "ProjectAlreadyExists"
	case errors.Is(err, services.ErrInvalidDuration):
		return "InvalidDuration"
	case errors.Is(err, services.ErrInvalidDate):
		return "InvalidDate"
	case errors.Is(err, services.ErrInvalidDateRange):
		return "InvalidDateRange"
	case errors.Is(err, services.ErrUnknownProject):
		return "UnknownProject"
	case errors.Is(err, services.ErrInvalidFormat):
		return "InvalidBackupFormat"
	case errors.Is(err, services.ErrBackupNotFound):
		return "BackupNotFound"
	case errors.Is(err, services.ErrNoVault):
		return "NoBackupStorage"
	case errors.Is(err, services.ErrLastAdmin):
		return "LastAdmin"
	case errors.Is(err, services.ErrNotFound):
		return "NotFound"
	case errors.Is(err, services.ErrInvalidInput):
		return "InvalidInput"
	}
	return "InternalServerError"
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, services.ErrInvalidCredentials), errors.Is(err, services.ErrAccountInactive):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrDuplicateLogin), errors.Is(err, services.ErrDuplicateProject), errors.Is(err, services.ErrLastAdmin):
		return http.StatusConflict
	case errors.Is(err, services.ErrNotFound), errors.Is(err, services.ErrBackupNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidDuration), errors.Is(err, services.ErrInvalidDate),
		errors.Is(err, services.ErrInvalidDateRange), errors.Is(err, services.ErrUnknownProject),
		errors.Is(err, services.ErrInvalidFormat), errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, services.ErrNoVault):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func formInt64(r *http.Request, key string) int64 {
	v, _ := strconv.ParseInt(r.FormValue(key), 10, 64)
	return v
}

func formBool(r *http.Request, key string) bool {
	switch r.FormValue(key) {
	case "1", "on", "true", "yes":
		return true
	}
	return false
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	err := s.store.View(ctx, func(conn *sql.DB) error {
		return conn.PingContext(ctx)
	})
	if err != nil {
		sendJSONResponse(w, http.StatusServiceUnavailable, APIResponse{Status: "error", Message: "database unavailable"})
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Message: "ok"})
}

// LanguageHandler remembers the chosen UI language in a cookie.
func (s *Server) LanguageHandler(w http.ResponseWriter, r *http.Request) {
	lang := r.URL.Query().Get("l")
	for _, known := range i18n.Languages {
		if lang == known {
			http.SetCookie(w, &http.Cookie{
				Name:     "lang",
				Value:    lang,
				Path:     "/",
				MaxAge:   365 * 86400,
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
			break
		}
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
