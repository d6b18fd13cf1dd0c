package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"worklog/auth"
	"worklog/backup"
	"worklog/config"
	"worklog/db"
	"worklog/handlers"
	"worklog/logging"
	"worklog/mailer"
	"worklog/services"
)

const usage = `usage: worklog [command] [-config file]

commands:
  serve         run the web server (default)
  backup        write a backup archive: backup -o file
  restore       replace the database with an archive: restore -i file
  mail-backup   e-mail a backup archive to the configured recipients
`

type app struct {
	cfg   *config.Config
	log   *slog.Logger
	store *db.Store
	svc   *services.Services
}

func main() {
	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	configPath := fs.String("config", "config.json", "path to the JSON configuration")
	output := fs.String("o", "", "backup: output file")
	input := fs.String("i", "", "restore: input archive")
	_ = fs.Parse(args)

	switch cmd {
	case "serve", "backup", "restore", "mail-backup":
	default:
		fs.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "worklog: %v\n", err)
		os.Exit(1)
	}
	defer a.store.Close()

	switch cmd {
	case "serve":
		err = a.serve(ctx)
	case "backup":
		err = a.backup(ctx, *output)
	case "restore":
		err = a.restore(ctx, *input)
	case "mail-backup":
		err = a.mailBackup(ctx)
	}
	if err != nil {
		a.log.Error("command failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

func setup(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.IsProd(), os.Stdout)
	slog.SetDefault(logger)
	if cfg.GeneratedKey {
		logger.Warn("no session_key configured, using a random one; sessions and tokens end on restart")
	}
	if cfg.IsProd() && !cfg.SecureCookies {
		logger.Warn("secure_cookies is off in prod; session cookies are sent over plain HTTP")
	}

	store, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}

	vault, err := openVault(ctx, cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	svc := services.New(store, services.Options{
		Logger: logger,
		Seed: db.SeedOptions{
			AdminLogin:     cfg.AdminLogin,
			AdminPassword:  cfg.AdminPassword,
			AdminName:      cfg.AdminName,
			DefaultProject: cfg.DefaultProject,
		},
		Codec: backup.Codec{Passphrase: cfg.BackupPassphrase},
		Vault: vault,
	})
	if err := svc.Bootstrap(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("seed database: %w", err)
	}

	return &app{cfg: cfg, log: logger, store: store, svc: svc}, nil
}

// openVault picks the S3 bucket when one is configured, else the local
// backup directory.
func openVault(ctx context.Context, cfg *config.Config) (backup.Vault, error) {
	if cfg.S3.Enabled() {
		return backup.NewS3Vault(ctx, backup.S3Options{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Prefix:    cfg.S3.Prefix,
		})
	}
	if cfg.BackupDir == "" {
		return nil, nil
	}
	return backup.NewDirVault(cfg.BackupDir)
}

func (a *app) serve(ctx context.Context) error {
	srv, err := handlers.New(handlers.Deps{
		Config:   a.cfg,
		Store:    a.store,
		Services: a.svc,
		Sessions: auth.NewSessions(a.cfg.SessionKey, a.cfg.SecureCookies),
		Tokens:   auth.NewTokens(a.cfg.SessionKey, a.cfg.TokenTTL.Duration),
		Logger:   a.log,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	serverErrors := make(chan error, 1)
	go func() {
		a.log.Info("server starting", "addr", server.Addr, "app", a.cfg.AppName, "env", a.cfg.Env)
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		a.log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func (a *app) backup(ctx context.Context, output string) error {
	archive, err := a.svc.Backups.Backup(ctx, services.System)
	if err != nil {
		return err
	}
	if output == "" {
		output = archive.Name
	}
	if err := os.WriteFile(output, archive.Data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}
	a.log.Info("backup written", "file", output, "bytes", len(archive.Data))
	return nil
}

func (a *app) restore(ctx context.Context, input string) error {
	if input == "" {
		return errors.New("restore needs -i file")
	}
	f, err := os.Open(input)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := a.svc.Backups.Restore(ctx, services.System, f); err != nil {
		return err
	}
	a.log.Info("database restored", "file", input)
	return nil
}

func (a *app) mailBackup(ctx context.Context) error {
	if !a.cfg.SMTP.Enabled() {
		return errors.New("smtp host and recipients are not configured")
	}
	archive, err := a.svc.Backups.Backup(ctx, services.System)
	if err != nil {
		return err
	}

	var to []string
	for _, addr := range strings.Split(a.cfg.SMTP.To, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}
	from := a.cfg.SMTP.From
	if from == "" {
		from = a.cfg.SMTP.User
	}

	sender := mailer.NewSMTPSender(mailer.Config{
		Host:     a.cfg.SMTP.Host,
		Port:     a.cfg.SMTP.Port,
		User:     a.cfg.SMTP.User,
		Password: a.cfg.SMTP.Password,
	})
	sendCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	msg := mailer.BackupMessage(a.cfg.AppName, from, to, archive.Name, archive.Data, time.Now())
	if err := sender.Send(sendCtx, msg); err != nil {
		return fmt.Errorf("send backup: %w", err)
	}
	a.log.Info("backup mailed", "recipients", len(to), "bytes", len(archive.Data))
	return nil
}
