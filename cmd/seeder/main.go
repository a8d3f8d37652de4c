// cmd/seeder/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/unclebandit/campaign-mailer/internal/config"
	"github.com/unclebandit/campaign-mailer/internal/db"
	"github.com/unclebandit/campaign-mailer/internal/logger"
)

func main() {
	migrate := flag.Bool("migrate", true, "apply migrations before seeding")
	dir := flag.String("dir", "seed", "directory holding the seed SQL files")
	flag.Parse()

	if err := run(*migrate, *dir); err != nil {
		slog.Error("seeding failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(migrate bool, dir string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, flush := logger.New(cfg.Sentry, cfg.LogLevel)
	defer flush()

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DB, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	if migrate {
		if err := db.Migrate(ctx, conn, log); err != nil {
			return err
		}
	}

	seedFiles := []string{
		"subscribers.sql",
		"users.sql",
		"campaigns.sql",
	}

	for _, name := range seedFiles {
		file := filepath.Join(dir, name)
		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
		if _, err := conn.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("execute %s: %w", file, err)
		}
		log.Info("seeded", slog.String("file", file))
	}

	log.Info("database seeding completed")
	return nil
}
