package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"worklog/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apiCall(t *testing.T, app *testApp, method, path, token string, body any) (int, APIResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, app.ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func apiLogin(t *testing.T, app *testApp, login, password string) string {
	t.Helper()
	code, resp := apiCall(t, app, "POST", "/api/v1/login", "", map[string]string{"login": login, "password": password})
	require.Equal(t, http.StatusOK, code, resp.Message)
	data := resp.Data.(map[string]any)
	token, _ := data["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestAPILoginAndEntries(t *testing.T) {
	app := newTestApp(t)
	app.employee(t, "jan")
	project := app.defaultProject(t)

	code, resp := apiCall(t, app, "POST", "/api/v1/login", "", map[string]string{"login": "jan", "password": "password1"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", resp.Status)
	data := resp.Data.(map[string]any)
	assert.Equal(t, "jan", data["login"])
	assert.Equal(t, "employee", data["role"])
	assert.Equal(t, float64(3600), data["expires_in"])
	token := data["token"].(string)

	code, resp = apiCall(t, app, "GET", "/api/v1/projects", token, nil)
	require.Equal(t, http.StatusOK, code)
	projects := resp.Data.([]any)
	require.Len(t, projects, 1)
	assert.Equal(t, db.DefaultProjectName, projects[0].(map[string]any)["name"])

	code, resp = apiCall(t, app, "POST", "/api/v1/entries", token, map[string]any{
		"date": "2024-05-06", "project_id": project.ID, "duration": "06:15", "note": "inventory", "extra": true,
	})
	require.Equal(t, http.StatusCreated, code, resp.Message)
	entry := resp.Data.(map[string]any)
	assert.Equal(t, float64(375), entry["minutes"])
	assert.Equal(t, true, entry["extra"])

	code, resp = apiCall(t, app, "GET", "/api/v1/entries?from=2024-05-01&to=2024-05-31", token, nil)
	require.Equal(t, http.StatusOK, code)
	list := resp.Data.(map[string]any)
	assert.Len(t, list["entries"], 1)
	assert.Equal(t, float64(375), list["totals"].(map[string]any)["minutes"])
}

func TestAPIValidation(t *testing.T) {
	app := newTestApp(t)
	app.employee(t, "jan")
	project := app.defaultProject(t)
	token := apiLogin(t, app, "jan", "password1")

	code, resp := apiCall(t, app, "POST", "/api/v1/entries", token, map[string]any{
		"date": "2024-05-06", "project_id": project.ID, "duration": "25:00",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "error", resp.Status)

	code, _ = apiCall(t, app, "POST", "/api/v1/entries", token, map[string]any{
		"date": "2024-05-06", "project_id": 999, "duration": "01:00",
	})
	assert.Equal(t, http.StatusBadRequest, code)

	// Employees cannot write into someone else's timesheet
	code, _ = apiCall(t, app, "POST", "/api/v1/entries", token, map[string]any{
		"user_id": app.admin.UserID, "date": "2024-05-06", "project_id": project.ID, "duration": "01:00",
	})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = apiCall(t, app, "GET", "/api/v1/entries?from=2024-05-31&to=2024-05-01", token, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = apiCall(t, app, "DELETE", "/api/v1/entries", token, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestAPIUnauthorized(t *testing.T) {
	app := newTestApp(t)

	code, resp := apiCall(t, app, "GET", "/api/v1/projects", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "error", resp.Status)

	code, _ = apiCall(t, app, "GET", "/api/v1/entries", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = apiCall(t, app, "POST", "/api/v1/login", "", map[string]string{"login": db.DefaultAdminLogin, "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestAPITokenHeader(t *testing.T) {
	app := newTestApp(t)
	token := apiLogin(t, app, db.DefaultAdminLogin, db.DefaultAdminPassword)

	req := httptest.NewRequest("GET", "/api/v1/projects", nil)
	req.Header.Set("X-API-Token", token)
	w := httptest.NewRecorder()
	app.srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPILoginRateLimiting(t *testing.T) {
	app := newTestApp(t)

	sendLogin := func(password, ip string) *httptest.ResponseRecorder {
		body, _ := json.Marshal(map[string]string{"login": db.DefaultAdminLogin, "password": password})
		req := httptest.NewRequest("POST", "/api/v1/login", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = ip + ":12345"
		w := httptest.NewRecorder()
		app.srv.APILoginHandler(w, req)
		return w
	}

	ip := "192.168.1.100"
	for i := 0; i < maxAttempts; i++ {
		if w := sendLogin("wrong", ip); w.Code != http.StatusUnauthorized {
			t.Fatalf("Expected 401, got %d. Body: %s", w.Code, w.Body.String())
		}
	}

	if w := sendLogin(db.DefaultAdminPassword, ip); w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429 Too Many Requests, got %d", w.Code)
	}
	if w := sendLogin(db.DefaultAdminPassword, "10.0.0.5"); w.Code != http.StatusOK {
		t.Errorf("Expected login from a different IP to work, got %d", w.Code)
	}
}
