package i18n

import (
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
)

func TestMain(m *testing.M) {
	if err := Load(); err != nil {
		panic(err)
	}
	m.Run()
}

func TestTFallsBack(t *testing.T) {
	if got := T("pl", "Login"); got == "Login" || got == "" {
		t.Errorf("Expected a Polish translation for Login, got %q", got)
	}
	if got := T("de", "Login"); got != T("en", "Login") {
		t.Errorf("Unknown language should fall back to English, got %q", got)
	}
	if got := T("en", "NoSuchKey"); got != "NoSuchKey" {
		t.Errorf("Missing key should echo the key, got %q", got)
	}
}

func TestLocalesHaveSameKeys(t *testing.T) {
	en, pl := keys("en"), keys("pl")
	sort.Strings(en)
	sort.Strings(pl)
	for _, k := range en {
		if !has("pl", k) {
			t.Errorf("pl.json is missing %q", k)
		}
	}
	for _, k := range pl {
		if !has("en", k) {
			t.Errorf("en.json is missing %q", k)
		}
	}
}

func TestDetectLanguage(t *testing.T) {
	cases := []struct {
		header string
		cookie string
		want   string
	}{
		{"", "", "en"},
		{"pl-PL,pl;q=0.9,en;q=0.8", "", "pl"},
		{"fr-CH, fr;q=0.9, en;q=0.8", "", "en"},
		{"de-DE", "", "en"},
		{"en-US", "pl", "pl"},
		{"pl", "xx", "pl"},
	}
	for _, c := range cases {
		r := httptest.NewRequest("GET", "/", nil)
		if c.header != "" {
			r.Header.Set("Accept-Language", c.header)
		}
		if c.cookie != "" {
			r.AddCookie(&http.Cookie{Name: "lang", Value: c.cookie})
		}
		if got := DetectLanguage(r); got != c.want {
			t.Errorf("DetectLanguage(%q, cookie %q) = %q, want %q", c.header, c.cookie, got, c.want)
		}
	}
}
