package auth

import (
	"crypto/sha256"
	"net/http"
	"strings"

	"github.com/gorilla/sessions"
)

const SessionName = "worklog-session"

// Sessions keeps the signed-in user id in an encrypted cookie. Only the id
// is stored; the role is reloaded from the database on every request.
type Sessions struct {
	store *sessions.CookieStore
}

func NewSessions(key string, secure bool) *Sessions {
	// Derive two 32-byte keys from the session key
	// Auth key for signing (HMAC)
	authKey := sha256.Sum256([]byte(key + "auth"))
	// Encryption key for content encryption (AES)
	encKey := sha256.Sum256([]byte(key + "encryption"))

	store := sessions.NewCookieStore(authKey[:], encKey[:])
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7, // 7 days
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &Sessions{store: store}
}

func (s *Sessions) session(r *http.Request) *sessions.Session {
	// A cookie that fails to decode yields a fresh session.
	session, _ := s.store.Get(r, SessionName)
	return session
}

func (s *Sessions) UserID(r *http.Request) int64 {
	if id, ok := s.session(r).Values["userID"].(int64); ok {
		return id
	}
	return 0
}

func (s *Sessions) Login(w http.ResponseWriter, r *http.Request, userID int64) error {
	session := s.session(r)
	session.Values["userID"] = userID
	return session.Save(r, w)
}

func (s *Sessions) Clear(w http.ResponseWriter, r *http.Request) error {
	session := s.session(r)
	delete(session.Values, "userID")
	session.Options.MaxAge = -1
	return session.Save(r, w)
}

// AddFlash queues a message for the next rendered page.
func (s *Sessions) AddFlash(w http.ResponseWriter, r *http.Request, kind, message string) {
	session := s.session(r)
	session.AddFlash(kind + "|" + message)
	_ = session.Save(r, w)
}

type Flash struct {
	Kind    string
	Message string
}

func (s *Sessions) Flashes(w http.ResponseWriter, r *http.Request) []Flash {
	session := s.session(r)
	raw := session.Flashes()
	if len(raw) == 0 {
		return nil
	}
	_ = session.Save(r, w)

	flashes := make([]Flash, 0, len(raw))
	for _, v := range raw {
		text, ok := v.(string)
		if !ok {
			continue
		}
		kind, message, found := strings.Cut(text, "|")
		if !found {
			kind, message = "info", text
		}
		flashes = append(flashes, Flash{Kind: kind, Message: message})
	}
	return flashes
}
