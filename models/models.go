package models

import "time"

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleEmployee Role = "employee"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleEmployee
}

type User struct {
	ID           int64     `json:"id"`
	Login        string    `json:"login"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Principal is the authenticated identity a request acts as.
type Principal struct {
	UserID int64  `json:"user_id"`
	Login  string `json:"login"`
	Name   string `json:"name"`
	Role   Role   `json:"role"`
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

func (p Principal) Authenticated() bool {
	return p.UserID != 0 || p.Role == RoleAdmin
}

type Project struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type Entry struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	UserLogin   string    `json:"user_login,omitempty"`
	UserName    string    `json:"user_name,omitempty"`
	ProjectID   int64     `json:"project_id"`
	ProjectName string    `json:"project_name,omitempty"`
	Date        time.Time `json:"date"`
	Minutes     int       `json:"minutes"`
	Note        string    `json:"note"`
	Extra       bool      `json:"extra"`
	Overtime    bool      `json:"overtime"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r DateRange) Contains(d time.Time) bool {
	return !d.Before(r.From) && !d.After(r.To)
}

type Totals struct {
	Count           int `json:"count"`
	Minutes         int `json:"minutes"`
	ExtraMinutes    int `json:"extra_minutes"`
	OvertimeMinutes int `json:"overtime_minutes"`
}

func (t *Totals) Add(e Entry) {
	t.Count++
	t.Minutes += e.Minutes
	if e.Extra {
		t.ExtraMinutes += e.Minutes
	}
	if e.Overtime {
		t.OvertimeMinutes += e.Minutes
	}
}
