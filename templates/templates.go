// Package templates embeds the HTML pages and static assets of the web UI.
package templates

import (
	"embed"
	"io/fs"
)

//go:embed *.html
var Pages embed.FS

//go:embed static
var static embed.FS

// Static serves the files under static/ at the root of the returned FS.
func Static() fs.FS {
	sub, err := fs.Sub(static, "static")
	if err != nil {
		panic(err)
	}
	return sub
}

// Names lists the page templates rendered inside layout.html.
var Names = []string{
	"login.html",
	"dashboard.html",
	"entry_edit.html",
	"change_password.html",
	"users.html",
	"user_edit.html",
	"projects.html",
	"reports.html",
	"backup.html",
	"error.html",
}
