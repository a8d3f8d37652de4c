// internal/db/db.go
package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/unclebandit/campaign-mailer/internal/config"
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	ErrFailedToOpenDBConnection = errors.New("db: failed to open database connection")
	ErrApplyMigrations          = errors.New("db: failed to apply migrations")
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open connects to Postgres, retrying with a linear backoff until the ping succeeds.
func Open(ctx context.Context, cfg config.DBConfig, log *slog.Logger) (*sql.DB, error) {
	attempts := max(cfg.RetryAttempts, 1)
	var lastErr error
	for i := range attempts {
		conn, err := sql.Open("postgres", cfg.DSN())
		if err == nil {
			conn.SetMaxOpenConns(cfg.MaxOpenConns)
			conn.SetConnMaxLifetime(cfg.MaxConnLifetime)
			if err = conn.PingContext(ctx); err == nil {
				log.Info("connected to database", slog.String("host", cfg.Host), slog.String("name", cfg.Name))
				return conn, nil
			}
			_ = conn.Close()
		}
		lastErr = err
		log.Warn("database not ready", slog.Int("attempt", i+1), slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrFailedToOpenDBConnection, ctx.Err())
		case <-time.After(time.Duration(i+1) * cfg.RetryInterval):
		}
	}
	return nil, errors.Join(ErrFailedToOpenDBConnection, lastErr)
}

// Migrate applies the embedded goose migrations.
func Migrate(ctx context.Context, conn *sql.DB, log *slog.Logger) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(&gooseLogger{log})
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Join(ErrApplyMigrations, err)
	}
	if err := goose.UpContext(ctx, conn, "migrations"); err != nil {
		return errors.Join(ErrApplyMigrations, err)
	}
	return nil
}

// WithTx runs fn in a transaction, rolling back on error or panic.
func WithTx(ctx context.Context, conn *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Healthcheck returns the check behind the readiness endpoint.
func Healthcheck(conn *sql.DB) func(context.Context) error {
	return func(ctx context.Context) error {
		return conn.PingContext(ctx)
	}
}

type gooseLogger struct {
	log *slog.Logger
}

func (g *gooseLogger) Printf(format string, args ...any) {
	g.log.Info(fmt.Sprintf(format, args...))
}

func (g *gooseLogger) Fatalf(format string, args ...any) {
	g.log.Error(fmt.Sprintf(format, args...))
}
