package handlers

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"worklog/auth"
	"worklog/backup"
	"worklog/config"
	"worklog/db"
	"worklog/logging"
	"worklog/models"
	"worklog/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type testApp struct {
	srv   *Server
	ts    *httptest.Server
	svc   *services.Services
	admin models.Principal
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	store, err := db.Open(ctx, filepath.Join(dir, "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	vault, err := backup.NewDirVault(filepath.Join(dir, "backups"))
	require.NoError(t, err)

	svc := services.New(store, services.Options{Logger: logging.Discard(), Vault: vault})
	require.NoError(t, svc.Bootstrap(ctx))
	admin, err := svc.Accounts.Authenticate(ctx, db.DefaultAdminLogin, db.DefaultAdminPassword)
	require.NoError(t, err)

	cfg := config.Defaults()
	cfg.SessionKey = "test-session-key-for-handler-tests-0123456789"
	cfg.RateLimitRPS = 0

	srv, err := New(Deps{
		Config:   cfg,
		Store:    store,
		Services: svc,
		Sessions: auth.NewSessions(cfg.SessionKey, false),
		Tokens:   auth.NewTokens(cfg.SessionKey, time.Hour),
		Logger:   logging.Discard(),
	})
	require.NoError(t, err)
	srv.now = func() time.Time { return time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC) }

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testApp{srv: srv, ts: ts, svc: svc, admin: admin}
}

func (a *testApp) employee(t *testing.T, login string) models.User {
	t.Helper()
	u, err := a.svc.Accounts.CreateUser(context.Background(), a.admin, services.NewUser{
		Login: login, Name: "Jan Kowalski", Password: "password1", Role: models.RoleEmployee, Active: true,
	})
	require.NoError(t, err)
	return u
}

func (a *testApp) defaultProject(t *testing.T) models.Project {
	t.Helper()
	projects, err := a.svc.Projects.ListActive(context.Background(), a.admin)
	require.NoError(t, err)
	require.NotEmpty(t, projects)
	return projects[0]
}

// browser keeps cookies and the last CSRF token seen, and does not follow
// redirects so tests can check where they point.
type browser struct {
	t     *testing.T
	base  string
	http  *http.Client
	token string
}

var csrfField = regexp.MustCompile(`name="csrf_token" value="([^"]+)"`)

func (a *testApp) browser(t *testing.T) *browser {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{
		t:    t,
		base: a.ts.URL,
		http: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (b *browser) do(req *http.Request) (*http.Response, string) {
	b.t.Helper()
	resp, err := b.http.Do(req)
	require.NoError(b.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(b.t, err)
	if m := csrfField.FindSubmatch(body); m != nil {
		b.token = string(m[1])
	}
	return resp, string(body)
}

func (b *browser) get(path string) (*http.Response, string) {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodGet, b.base+path, nil)
	require.NoError(b.t, err)
	return b.do(req)
}

func (b *browser) post(path string, form url.Values) (*http.Response, string) {
	b.t.Helper()
	if b.token == "" {
		b.get("/")
	}
	if form == nil {
		form = url.Values{}
	}
	form.Set("csrf_token", b.token)
	req, err := http.NewRequest(http.MethodPost, b.base+path, strings.NewReader(form.Encode()))
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

func (b *browser) upload(path, field, name string, data []byte) (*http.Response, string) {
	b.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, name)
	require.NoError(b.t, err)
	_, _ = fw.Write(data)
	require.NoError(b.t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, b.base+path, &buf)
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-CSRF-Token", b.token)
	return b.do(req)
}

func (b *browser) login(login, password string) *http.Response {
	b.t.Helper()
	b.get("/")
	resp, _ := b.post("/", url.Values{"login": {login}, "password": {password}})
	return resp
}

func requireRedirect(t *testing.T, resp *http.Response, prefix string) {
	t.Helper()
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Location"), prefix),
		"Location %q does not start with %q", resp.Header.Get("Location"), prefix)
}

func TestLoginFlow(t *testing.T) {
	app := newTestApp(t)
	b := app.browser(t)

	resp, body := b.get("/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `name="password"`)
	assert.NotEmpty(t, b.token)

	resp, body = b.post("/", url.Values{"login": {db.DefaultAdminLogin}, "password": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body, "Invalid login or password.")

	resp, _ = b.post("/", url.Values{"login": {strings.ToUpper(db.DefaultAdminLogin)}, "password": {db.DefaultAdminPassword}})
	requireRedirect(t, resp, "/dashboard")

	resp, body = b.get("/dashboard")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, db.DefaultProjectName)
	assert.Contains(t, body, `href="/admin/users"`)

	resp, _ = b.get("/")
	requireRedirect(t, resp, "/dashboard")

	resp, _ = b.get("/logout")
	requireRedirect(t, resp, "/")
	resp, _ = b.get("/dashboard")
	requireRedirect(t, resp, "/")
}

func TestInactiveUserCannotLogIn(t *testing.T) {
	app := newTestApp(t)
	u := app.employee(t, "jan")
	_, err := app.svc.Accounts.UpdateUser(context.Background(), app.admin, u.ID, services.UserUpdate{
		Login: u.Login, Name: u.Name, Role: u.Role, Active: false,
	})
	require.NoError(t, err)

	resp := app.browser(t).login("jan", "password1")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDeactivatedUserLosesSession(t *testing.T) {
	app := newTestApp(t)
	u := app.employee(t, "jan")
	b := app.browser(t)
	requireRedirect(t, b.login("jan", "password1"), "/dashboard")

	_, err := app.svc.Accounts.UpdateUser(context.Background(), app.admin, u.ID, services.UserUpdate{
		Login: u.Login, Name: u.Name, Role: u.Role, Active: false,
	})
	require.NoError(t, err)

	resp, _ := b.get("/dashboard")
	requireRedirect(t, resp, "/")
}

func TestLoginAsksForCaptchaThenBlocks(t *testing.T) {
	app := newTestApp(t)
	app.srv.verifyCaptcha = func(id, solution string) bool { return solution == "42" }
	b := app.browser(t)
	b.get("/")

	for i := 0; i < captchaAfter; i++ {
		resp, _ := b.post("/", url.Values{"login": {db.DefaultAdminLogin}, "password": {"wrong"}})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	_, body := b.get("/")
	assert.Contains(t, body, `name="captcha_id"`)

	// Right password, wrong captcha.
	resp, body := b.post("/", url.Values{"login": {db.DefaultAdminLogin}, "password": {db.DefaultAdminPassword}, "captcha": {"1"}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body, "The captcha was not solved correctly.")

	resp, _ = b.post("/", url.Values{"login": {db.DefaultAdminLogin}, "password": {db.DefaultAdminPassword}, "captcha": {"42"}})
	requireRedirect(t, resp, "/dashboard")
}

func TestLoginBlockedAfterRepeatedFailures(t *testing.T) {
	app := newTestApp(t)
	app.srv.verifyCaptcha = func(string, string) bool { return true }
	b := app.browser(t)
	b.get("/")

	for i := 0; i < maxAttempts; i++ {
		b.post("/", url.Values{"login": {db.DefaultAdminLogin}, "password": {"wrong"}})
	}
	resp, body := b.post("/", url.Values{"login": {db.DefaultAdminLogin}, "password": {db.DefaultAdminPassword}})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Contains(t, body, "Too many failed attempts")
}

func TestFormsRequireCSRFToken(t *testing.T) {
	app := newTestApp(t)
	resp, err := http.PostForm(app.ts.URL+"/", url.Values{"login": {db.DefaultAdminLogin}, "password": {db.DefaultAdminPassword}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAdminRoutesRejectEmployees(t *testing.T) {
	app := newTestApp(t)
	app.employee(t, "jan")
	b := app.browser(t)
	requireRedirect(t, b.login("jan", "password1"), "/dashboard")

	for _, path := range []string{
		"/admin/users",
		"/admin/users/edit?id=1",
		"/admin/projects",
		"/admin/reports",
		"/admin/reports/export",
		"/admin/backup",
		"/admin/backup/get?name=x.zip",
	} {
		resp, _ := b.get(path)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, path)
	}
	for _, path := range []string{
		"/admin/users/add",
		"/admin/projects/toggle",
		"/admin/backup/download",
		"/admin/backup/save",
		"/admin/backup/restore-saved",
	} {
		resp, _ := b.post(path, url.Values{"id": {"1"}, "name": {"x"}})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, path)
	}

	resp, _ := b.upload("/admin/backup/restore", "file", "b.zip", []byte("data"))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRecordAndListEntries(t *testing.T) {
	app := newTestApp(t)
	app.employee(t, "jan")
	project := app.defaultProject(t)
	b := app.browser(t)
	requireRedirect(t, b.login("jan", "password1"), "/dashboard")

	resp, _ := b.post("/dashboard", url.Values{
		"date":       {"2024-05-06"},
		"project_id": {strconv.FormatInt(project.ID, 10)},
		"duration":   {"7:30"},
		"note":       {"wiring"},
		"overtime":   {"1"},
	})
	requireRedirect(t, resp, "/dashboard?date=2024-05-06")

	_, body := b.get("/dashboard?date=2024-05-06")
	assert.Contains(t, body, "Entry saved.")
	assert.Contains(t, body, "07:30")
	assert.Contains(t, body, "wiring")

	_, body = b.get("/entries?view=day&date=2024-05-07")
	assert.NotContains(t, body, "wiring")
	_, body = b.get("/entries?view=fortnight&date=2024-05-10")
	assert.Contains(t, body, "wiring")

	resp, _ = b.post("/dashboard", url.Values{
		"date":       {"2024-05-06"},
		"project_id": {strconv.FormatInt(project.ID, 10)},
		"duration":   {"7:60"},
	})
	requireRedirect(t, resp, "/dashboard")
	_, body = b.get("/dashboard")
	assert.Contains(t, body, "Invalid time")

	resp, _ = b.get("/entries?date=06.05.2024")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEmployeeCannotRecordForOthers(t *testing.T) {
	app := newTestApp(t)
	app.employee(t, "jan")
	project := app.defaultProject(t)
	b := app.browser(t)
	requireRedirect(t, b.login("jan", "password1"), "/dashboard")

	// user_id is ignored for employees; the entry lands on their own account.
	resp, _ := b.post("/dashboard", url.Values{
		"user_id":    {strconv.FormatInt(app.admin.UserID, 10)},
		"date":       {"2024-05-06"},
		"project_id": {strconv.FormatInt(project.ID, 10)},
		"duration":   {"1:00"},
	})
	requireRedirect(t, resp, "/dashboard")

	list, err := app.svc.Entries.ListEntries(context.Background(), app.admin, app.admin.UserID, wideRange(t))
	require.NoError(t, err)
	assert.Empty(t, list.Entries)
}

func wideRange(t *testing.T) models.DateRange {
	return models.DateRange{
		From: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestEditAndDeleteEntry(t *testing.T) {
	app := newTestApp(t)
	u := app.employee(t, "jan")
	other := app.employee(t, "ola")
	project := app.defaultProject(t)
	ctx := context.Background()

	entry, err := app.svc.Entries.RecordEntry(ctx, app.admin, services.EntryInput{
		UserID: u.ID, Date: "2024-05-06", ProjectID: project.ID, Duration: "2:00",
	})
	require.NoError(t, err)
	id := strconv.FormatInt(entry.ID, 10)

	intruder := app.browser(t)
	requireRedirect(t, intruder.login(other.Login, "password1"), "/dashboard")
	resp, _ := intruder.get("/entries/edit?id=" + id)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	b := app.browser(t)
	requireRedirect(t, b.login("jan", "password1"), "/dashboard")
	resp, body := b.get("/entries/edit?id=" + id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `value="02:00"`)

	resp, _ = b.post("/entries/edit", url.Values{
		"id": {id}, "date": {"2024-05-07"}, "project_id": {strconv.FormatInt(project.ID, 10)}, "duration": {"3:15"},
	})
	requireRedirect(t, resp, "/dashboard?date=2024-05-07")

	got, err := app.svc.Entries.GetEntry(ctx, app.admin, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, 195, got.Minutes)

	resp, _ = b.post("/entries/delete", url.Values{"id": {id}})
	requireRedirect(t, resp, "/dashboard")
	_, err = app.svc.Entries.GetEntry(ctx, app.admin, entry.ID)
	assert.ErrorIs(t, err, services.ErrNotFound)

	resp, _ = b.get("/entries/edit?id=" + id)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEditEntryKeepsDeactivatedProject(t *testing.T) {
	app := newTestApp(t)
	u := app.employee(t, "jan")
	ctx := context.Background()

	archived, err := app.svc.Projects.CreateProject(ctx, app.admin, "Archive")
	require.NoError(t, err)
	entry, err := app.svc.Entries.RecordEntry(ctx, app.admin, services.EntryInput{
		UserID: u.ID, Date: "2024-05-06", ProjectID: archived.ID, Duration: "1:00",
	})
	require.NoError(t, err)
	require.NoError(t, app.svc.Projects.SetActive(ctx, app.admin, archived.ID, false))

	b := app.browser(t)
	requireRedirect(t, b.login("jan", "password1"), "/dashboard")
	resp, body := b.get("/entries/edit?id=" + strconv.FormatInt(entry.ID, 10))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `<option value="`+strconv.FormatInt(archived.ID, 10)+`" selected>Archive</option>`)
}

func TestExportEntries(t *testing.T) {
	app := newTestApp(t)
	u := app.employee(t, "jan")
	project := app.defaultProject(t)
	ctx := context.Background()
	for _, d := range []string{"2024-05-02", "2024-05-20", "2024-06-01"} {
		_, err := app.svc.Entries.RecordEntry(ctx, app.admin, services.EntryInput{
			UserID: u.ID, Date: d, ProjectID: project.ID, Duration: "1:00",
		})
		require.NoError(t, err)
	}

	b := app.browser(t)
	requireRedirect(t, b.login("jan", "password1"), "/dashboard")

	resp, body := b.get("/entries/export?format=csv&from=2024-05-01&to=2024-05-31")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "entries_2024-05-01_2024-05-31.csv")
	lines := strings.Split(strings.TrimSpace(body), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "2024-05-02,"), "oldest first: %s", lines[1])

	// Without a range the current month is exported.
	_, body = b.get("/entries/export")
	assert.Len(t, strings.Split(strings.TrimSpace(body), "\n"), 3)

	resp, body = b.get("/entries/export?format=xlsx&from=2024-05-01&to=2024-06-30")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	f, err := excelize.OpenReader(strings.NewReader(body))
	require.NoError(t, err)
	rows, err := f.GetRows("Entries")
	require.NoError(t, err)
	assert.Len(t, rows, 4)

	resp, _ = b.get("/entries/export?format=pdf")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = b.get("/entries/export?from=2024-05-31&to=2024-05-01")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChangePassword(t *testing.T) {
	app := newTestApp(t)
	app.employee(t, "jan")
	b := app.browser(t)
	requireRedirect(t, b.login("jan", "password1"), "/dashboard")

	resp, _ := b.post("/change-password", url.Values{
		"old_password": {"password1"}, "new_password": {"newsecret"}, "confirm_password": {"other"},
	})
	requireRedirect(t, resp, "/change-password")
	_, body := b.get("/change-password")
	assert.Contains(t, body, "The passwords do not match.")

	resp, _ = b.post("/change-password", url.Values{
		"old_password": {"nope"}, "new_password": {"newsecret"}, "confirm_password": {"newsecret"},
	})
	requireRedirect(t, resp, "/change-password")

	resp, _ = b.post("/change-password", url.Values{
		"old_password": {"password1"}, "new_password": {"newsecret"}, "confirm_password": {"newsecret"},
	})
	requireRedirect(t, resp, "/dashboard")

	_, err := app.svc.Accounts.Authenticate(context.Background(), "jan", "newsecret")
	assert.NoError(t, err)
}

func TestAdminManagesUsersAndProjects(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	b := app.browser(t)
	requireRedirect(t, b.login(db.DefaultAdminLogin, db.DefaultAdminPassword), "/dashboard")

	resp, _ := b.post("/admin/users/add", url.Values{
		"login": {"Ola"}, "name": {"Ola Nowak"}, "password": {"password1"}, "role": {"employee"},
	})
	requireRedirect(t, resp, "/admin/users")
	_, body := b.get("/admin/users")
	assert.Contains(t, body, "User added.")
	assert.Contains(t, body, "Ola Nowak")

	resp, _ = b.post("/admin/users/add", url.Values{
		"login": {"ola"}, "password": {"password1"}, "role": {"employee"},
	})
	requireRedirect(t, resp, "/admin/users")
	_, body = b.get("/admin/users")
	assert.Contains(t, body, "This login is already taken.")

	resp, _ = b.post("/admin/users/edit", url.Values{
		"id": {strconv.FormatInt(app.admin.UserID, 10)}, "login": {db.DefaultAdminLogin}, "role": {"employee"}, "active": {"1"},
	})
	requireRedirect(t, resp, "/admin/users/edit")
	_, body = b.get("/admin/users")
	assert.Contains(t, body, "At least one active administrator must remain.")

	resp, _ = b.post("/admin/projects", url.Values{"name": {"Warehouse"}})
	requireRedirect(t, resp, "/admin/projects")
	projects, err := app.svc.Projects.ListProjects(ctx, app.admin)
	require.NoError(t, err)
	var warehouse models.Project
	for _, p := range projects {
		if p.Name == "Warehouse" {
			warehouse = p
		}
	}
	require.NotZero(t, warehouse.ID)

	id := strconv.FormatInt(warehouse.ID, 10)
	resp, _ = b.post("/admin/projects/toggle", url.Values{"id": {id}})
	requireRedirect(t, resp, "/admin/projects")
	resp, _ = b.post("/admin/projects/rename", url.Values{"id": {id}, "name": {"Stores"}})
	requireRedirect(t, resp, "/admin/projects")

	got, err := app.svc.Projects.GetProject(ctx, app.admin, warehouse.ID)
	require.NoError(t, err)
	assert.Equal(t, "Stores", got.Name)
	assert.False(t, got.Active)
}

func TestWeakPasswordRejected(t *testing.T) {
	app := newTestApp(t)
	b := app.browser(t)
	requireRedirect(t, b.login(db.DefaultAdminLogin, db.DefaultAdminPassword), "/dashboard")

	resp, _ := b.post("/admin/users/add", url.Values{"login": {"weak"}, "password": {"1"}, "role": {"employee"}})
	requireRedirect(t, resp, "/admin/users")

	users, err := app.svc.Accounts.ListUsers(context.Background(), app.admin)
	require.NoError(t, err)
	for _, u := range users {
		assert.NotEqual(t, "weak", u.Login)
	}
}

func TestReports(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	jan := app.employee(t, "jan")
	project := app.defaultProject(t)
	_, err := app.svc.Entries.RecordEntry(ctx, app.admin, services.EntryInput{
		UserID: jan.ID, Date: "2024-05-06", ProjectID: project.ID, Duration: "4:45", Note: "stocktaking", Extra: true,
	})
	require.NoError(t, err)
	_, err = app.svc.Entries.RecordEntry(ctx, app.admin, services.EntryInput{
		UserID: app.admin.UserID, Date: "2024-05-07", ProjectID: project.ID, Duration: "1:00", Note: "review",
	})
	require.NoError(t, err)

	b := app.browser(t)
	requireRedirect(t, b.login(db.DefaultAdminLogin, db.DefaultAdminPassword), "/dashboard")

	resp, body := b.get("/admin/reports")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "stocktaking")
	assert.Contains(t, body, "review")
	assert.Contains(t, body, "05:45")

	_, body = b.get("/admin/reports?from=2024-05-01&to=2024-05-31&extra=1")
	assert.Contains(t, body, "stocktaking")
	assert.NotContains(t, body, "review")

	resp, body = b.get("/admin/reports/export?format=csv&from=2024-05-01&to=2024-05-31&user_id=" + strconv.FormatInt(jan.ID, 10))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	lines := strings.Split(strings.TrimSpace(body), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "jan")
	assert.Contains(t, lines[1], "04:45")
}

func TestBackupDownloadAndRestore(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	b := app.browser(t)
	requireRedirect(t, b.login(db.DefaultAdminLogin, db.DefaultAdminPassword), "/dashboard")

	resp, _ := b.get("/admin/backup")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, archive := b.post("/admin/backup/download", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "worklog_backup_")
	require.True(t, strings.HasPrefix(archive, "PK"))

	_, err := app.svc.Projects.CreateProject(ctx, app.admin, "After backup")
	require.NoError(t, err)

	// Garbage is refused and nothing changes.
	resp, _ = b.upload("/admin/backup/restore", "file", "junk.zip", []byte("definitely not a backup"))
	requireRedirect(t, resp, "/admin/backup")
	_, body := b.get("/admin/backup")
	assert.Contains(t, body, "The file is not a valid backup.")
	assert.True(t, hasProject(t, app, "After backup"))

	resp, _ = b.upload("/admin/backup/restore", "file", "backup.zip", []byte(archive))
	requireRedirect(t, resp, "/admin/backup")
	_, body = b.get("/admin/backup")
	assert.Contains(t, body, "The database was restored.")
	assert.False(t, hasProject(t, app, "After backup"))
}

func hasProject(t *testing.T, app *testApp, name string) bool {
	t.Helper()
	projects, err := app.svc.Projects.ListProjects(context.Background(), app.admin)
	require.NoError(t, err)
	for _, p := range projects {
		if p.Name == name {
			return true
		}
	}
	return false
}

func TestSavedBackups(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	b := app.browser(t)
	requireRedirect(t, b.login(db.DefaultAdminLogin, db.DefaultAdminPassword), "/dashboard")

	resp, _ := b.post("/admin/backup/save", nil)
	requireRedirect(t, resp, "/admin/backup")

	saved, err := app.svc.Backups.ListBackups(ctx, app.admin)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	name := saved[0].Name

	_, body := b.get("/admin/backup")
	assert.Contains(t, body, name)

	resp, data := b.get("/admin/backup/get?name=" + url.QueryEscape(name))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(data, "PK"))

	resp, _ = b.get("/admin/backup/get?name=" + url.QueryEscape("../app.db"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, err = app.svc.Projects.CreateProject(ctx, app.admin, "After save")
	require.NoError(t, err)
	resp, _ = b.post("/admin/backup/restore-saved", url.Values{"name": {name}})
	requireRedirect(t, resp, "/admin/backup")
	assert.False(t, hasProject(t, app, "After save"))
}

func TestLanguageSwitch(t *testing.T) {
	app := newTestApp(t)
	b := app.browser(t)

	resp, _ := b.get("/lang?l=pl")
	requireRedirect(t, resp, "/")
	_, body := b.get("/")
	assert.Contains(t, body, "Logowanie")
	assert.Contains(t, body, `lang="pl"`)
}

func TestUnknownPathAndHealth(t *testing.T) {
	app := newTestApp(t)
	b := app.browser(t)

	resp, _ := b.get("/no/such/page")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := b.get("/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"status":"success"`)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, _ = b.get("/static/style.css")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, resp.Header.Get("Cache-Control"), "no-store")
}

func TestRedirectForHTMX(t *testing.T) {
	app := newTestApp(t)
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.Header.Set("HX-Request", "true")
	w := httptest.NewRecorder()

	app.srv.redirect(w, req, "/")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/", w.Header().Get("HX-Redirect"))
}
