package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

//go:embed locales/*.json
var locales embed.FS

var (
	translations = make(map[string]map[string]string)
	loadOnce     sync.Once
	loadErr      error
)

var DefaultLang = "en"

// Languages lists the shipped translations.
var Languages = []string{"en", "pl"}

// Load parses the embedded translations. It is safe to call more than once.
func Load() error {
	loadOnce.Do(func() {
		for _, lang := range Languages {
			data, err := locales.ReadFile(fmt.Sprintf("locales/%s.json", lang))
			if err != nil {
				loadErr = err
				return
			}
			var t map[string]string
			if err := json.Unmarshal(data, &t); err != nil {
				loadErr = fmt.Errorf("%s.json: %w", lang, err)
				return
			}
			translations[lang] = t
		}
	})
	return loadErr
}

func T(lang, key string) string {
	if t, ok := translations[lang]; ok {
		if val, ok := t[key]; ok {
			return val
		}
	}
	// Fallback to English
	if lang != DefaultLang {
		return T(DefaultLang, key)
	}
	return key
}

// has reports whether key is translated for lang.
func has(lang, key string) bool {
	_, ok := translations[lang][key]
	return ok
}

func keys(lang string) []string {
	keys := make([]string, 0, len(translations[lang]))
	for k := range translations[lang] {
		keys = append(keys, k)
	}
	return keys
}

func DetectLanguage(r *http.Request) string {
	// An explicit choice stored in a cookie wins over the browser
	if c, err := r.Cookie("lang"); err == nil {
		if _, ok := translations[c.Value]; ok {
			return c.Value
		}
	}

	accept := r.Header.Get("Accept-Language")
	if accept != "" {
		// Example: pl-PL, pl;q=0.9, en;q=0.8
		parts := strings.Split(accept, ",")
		for _, part := range parts {
			lang := strings.TrimSpace(strings.Split(part, ";")[0])
			if len(lang) >= 2 {
				lang = strings.ToLower(lang[:2]) // e.g., "en-US" -> "en"
				if _, ok := translations[lang]; ok {
					return lang
				}
			}
		}
	}

	return DefaultLang
}
