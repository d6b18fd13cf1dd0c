package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"worklog/i18n"
	"worklog/models"
	"worklog/services"
	"worklog/worktime"
)

type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func sendJSONResponse(w http.ResponseWriter, status int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

func (s *Server) sendError(w http.ResponseWriter, r *http.Request, status int, key string) {
	sendJSONResponse(w, status, APIResponse{Status: "error", Message: i18n.T(i18n.DetectLanguage(r), key)})
}

func (s *Server) sendServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		s.log.ErrorContext(r.Context(), "api request failed", "path", r.URL.Path, "error", err)
	}
	s.sendError(w, r, status, errorKey(err))
}

// apiToken reads the bearer token, falling back to the X-API-Token header.
func apiToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.Header.Get("X-API-Token")
}

// api authenticates a JSON request by token. The user is reloaded so a
// deactivated account loses access before its token expires.
func (s *Server) api(h pageHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := apiToken(r)
		if token == "" {
			s.sendError(w, r, http.StatusUnauthorized, "Unauthorized")
			return
		}
		userID, err := s.tokens.Parse(token)
		if err != nil {
			s.sendError(w, r, http.StatusUnauthorized, "Unauthorized")
			return
		}
		p, err := s.svc.Accounts.Principal(r.Context(), userID)
		if err != nil {
			s.sendError(w, r, http.StatusUnauthorized, "Unauthorized")
			return
		}
		h(w, r, p)
	}
}

func (s *Server) APILoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, r, http.StatusMethodNotAllowed, "MethodNotAllowed")
		return
	}

	ip := getClientIP(r)
	if !s.loginLimiter.Allow(ip) {
		s.sendError(w, r, http.StatusTooManyRequests, "TooManyAttempts")
		return
	}

	var input struct {
		Login    string `json:"login"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.sendError(w, r, http.StatusBadRequest, "InvalidRequestBody")
		return
	}

	p, err := s.svc.Accounts.Authenticate(r.Context(), input.Login, input.Password)
	if err != nil {
		s.loginLimiter.RecordFailure(ip)
		s.sendServiceError(w, r, err)
		return
	}
	s.loginLimiter.Reset(ip)

	token, err := s.tokens.Issue(p.UserID, string(p.Role))
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}

	sendJSONResponse(w, http.StatusOK, APIResponse{
		Status: "success",
		Data: map[string]any{
			"token":      token,
			"user_id":    p.UserID,
			"login":      p.Login,
			"role":       p.Role,
			"expires_in": int(s.tokens.TTL().Seconds()),
		},
	})
}

func (s *Server) APIProjectsHandler(w http.ResponseWriter, r *http.Request, p models.Principal) {
	if r.Method != http.MethodGet {
		s.sendError(w, r, http.StatusMethodNotAllowed, "MethodNotAllowed")
		return
	}
	projects, err := s.svc.Projects.ListActive(r.Context(), p)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: projects})
}

// APIListEntriesHandler lists entries between from and to (default: the
// current month). Admins may pass user_id.
func (s *Server) APIListEntriesHandler(w http.ResponseWriter, r *http.Request, p models.Principal) {
	q := r.URL.Query()
	rng := worktime.MonthRange(s.now())
	if q.Get("from") != "" || q.Get("to") != "" {
		var err error
		if rng, err = worktime.ParseRange(q.Get("from"), q.Get("to")); err != nil {
			s.sendServiceError(w, r, err)
			return
		}
	}
	list, err := s.svc.Entries.ListEntries(r.Context(), p, targetUser(r, p), rng)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: list})
}

func (s *Server) APIRecordEntryHandler(w http.ResponseWriter, r *http.Request, p models.Principal) {
	var input struct {
		UserID    int64  `json:"user_id"`
		Date      string `json:"date"`
		ProjectID int64  `json:"project_id"`
		Duration  string `json:"duration"`
		Note      string `json:"note"`
		Extra     bool   `json:"extra"`
		Overtime  bool   `json:"overtime"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.sendError(w, r, http.StatusBadRequest, "InvalidRequestBody")
		return
	}
	if input.UserID == 0 {
		input.UserID = p.UserID
	}
	if input.Date == "" {
		input.Date = worktime.FormatDate(s.now())
	}

	entry, err := s.svc.Entries.RecordEntry(r.Context(), p, services.EntryInput{
		UserID:    input.UserID,
		Date:      input.Date,
		ProjectID: input.ProjectID,
		Duration:  input.Duration,
		Note:      input.Note,
		Extra:     input.Extra,
		Overtime:  input.Overtime,
	})
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	sendJSONResponse(w, http.StatusCreated, APIResponse{Status: "success", Data: entry})
}
