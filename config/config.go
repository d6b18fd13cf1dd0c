package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const placeholderKey = "CHANGE_ME_IN_PRODUCTION"

// Duration decodes from a JSON string such as "12h" or "30m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

type S3 struct {
	Endpoint  string `json:"endpoint"`
	Region    string `json:"region"`
	Bucket    string `json:"bucket"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Prefix    string `json:"prefix"`
}

func (s S3) Enabled() bool {
	return s.Bucket != ""
}

type SMTP struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	From     string `json:"from"`
	To       string `json:"to"`
}

func (s SMTP) Enabled() bool {
	return s.Host != "" && s.To != ""
}

type Config struct {
	AppName       string `json:"app_name"`
	ListenIP      string `json:"listen_ip"`
	ListenPort    int    `json:"listen_port"`
	SessionKey    string `json:"session_key"`
	SecureCookies bool   `json:"secure_cookies"`
	Env           string `json:"env"`

	DBPath           string `json:"db_path"`
	BackupDir        string `json:"backup_dir"`
	BackupPassphrase string `json:"backup_passphrase"`

	AdminLogin     string `json:"admin_login"`
	AdminPassword  string `json:"admin_password"`
	AdminName      string `json:"admin_name"`
	DefaultProject string `json:"default_project"`

	TokenTTL       Duration `json:"token_ttl"`
	RateLimitRPS   float64  `json:"rate_limit_rps"`
	RateLimitBurst int      `json:"rate_limit_burst"`
	AllowedOrigins []string `json:"allowed_origins"`

	S3   S3   `json:"s3"`
	SMTP SMTP `json:"smtp"`

	// GeneratedKey is set when no session key was configured; sessions then
	// do not survive a restart.
	GeneratedKey bool `json:"-"`
}

// Defaults is a configuration that runs out of the box on a developer
// machine.
func Defaults() *Config {
	return &Config{
		AppName:        "Worklog",
		ListenIP:       "127.0.0.1",
		ListenPort:     8080,
		Env:            "dev",
		DBPath:         "data/app.db",
		BackupDir:      "data/backups",
		TokenTTL:       Duration{24 * time.Hour},
		RateLimitRPS:   20,
		RateLimitBurst: 40,
		SMTP:           SMTP{Port: 587},
	}
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.ListenIP, c.ListenPort)
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}

// LoadConfig reads the JSON file at path on top of Defaults. A missing file
// is not an error. A .env file in the working directory, when present, is
// loaded before environment overrides are applied.
func LoadConfig(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		file, err := os.Open(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			defer file.Close()
			decoder := json.NewDecoder(file)
			decoder.DisallowUnknownFields()
			if err := decoder.Decode(cfg); err != nil {
				return nil, fmt.Errorf("decode %s: %w", path, err)
			}
		}
	}

	_ = godotenv.Load()
	applyEnv(cfg)

	if cfg.Env != "dev" && cfg.Env != "prod" {
		return nil, fmt.Errorf("env must be dev or prod, got %q", cfg.Env)
	}
	if cfg.DBPath == "" {
		return nil, errors.New("db_path is required")
	}

	// If no key is provided or it's the placeholder, generate a secure random one
	if cfg.SessionKey == "" || cfg.SessionKey == placeholderKey {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err != nil {
			return nil, err
		}
		cfg.SessionKey = hex.EncodeToString(randomKey)
		cfg.GeneratedKey = true
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.SessionKey = getEnv("WORKLOG_SESSION_KEY", cfg.SessionKey)
	cfg.DBPath = getEnv("WORKLOG_DB_PATH", cfg.DBPath)
	cfg.Env = getEnv("WORKLOG_ENV", cfg.Env)
	cfg.BackupPassphrase = getEnv("WORKLOG_BACKUP_PASSPHRASE", cfg.BackupPassphrase)
	cfg.AdminPassword = getEnv("WORKLOG_ADMIN_PASSWORD", cfg.AdminPassword)

	cfg.SMTP.Host = getEnv("SMTP_HOST", cfg.SMTP.Host)
	cfg.SMTP.Port = getIntEnv("SMTP_PORT", cfg.SMTP.Port)
	cfg.SMTP.User = getEnv("SMTP_USER", cfg.SMTP.User)
	cfg.SMTP.Password = getEnv("SMTP_PASSWORD", cfg.SMTP.Password)
	cfg.SMTP.To = getEnv("BACKUP_EMAIL_TO", cfg.SMTP.To)
	cfg.SMTP.From = getEnv("BACKUP_EMAIL_FROM", cfg.SMTP.From)

	cfg.S3.AccessKey = getEnv("S3_ACCESS_KEY", cfg.S3.AccessKey)
	cfg.S3.SecretKey = getEnv("S3_SECRET_KEY", cfg.S3.SecretKey)
}

func getEnv(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}
