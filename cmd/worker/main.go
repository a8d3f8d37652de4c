// cmd/worker/main.go runs one dispatcher tick or one feedback drain, for
// schedulers that invoke a binary instead of the HTTP job endpoints.
//
//	worker dispatch
//	worker -token $FEEDBACK_TOKEN drain
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/campaign-mailer/internal/app"
	"github.com/unclebandit/campaign-mailer/internal/config"
	"github.com/unclebandit/campaign-mailer/internal/db"
	"github.com/unclebandit/campaign-mailer/internal/dispatch"
	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/feedback"
	"github.com/unclebandit/campaign-mailer/internal/handler"
	"github.com/unclebandit/campaign-mailer/internal/logger"
)

var errUnknownJob = errors.New("worker: job must be dispatch or drain")

type ticker interface {
	Tick(ctx context.Context) (dispatch.Result, error)
}

type drainer interface {
	Drain(ctx context.Context) (feedback.Result, error)
}

// jobs runs one worker job. Secret is FEEDBACK_SECRET and Token is what
// the caller presented.
type jobs struct {
	Dispatcher ticker
	Drainer    drainer
	Timeout    time.Duration
	Secret     string
	Token      string
}

func main() {
	token := flag.String("token", os.Getenv("FEEDBACK_TOKEN"), "shared secret required by drain")
	flag.Parse()

	if err := run(flag.Arg(0), *token); err != nil {
		slog.Error("worker failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(job, token string) error {
	if job != "dispatch" && job != "drain" {
		return errUnknownJob
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, flush := logger.New(cfg.Sentry, cfg.LogLevel, logger.TickID)
	defer flush()

	if err := cfg.Validate(); err != nil {
		return err
	}

	j := jobs{Timeout: cfg.TickTimeout, Secret: cfg.Feedback.Secret, Token: token}
	if err := j.authorize(job); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg.DB, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	a, err := app.Build(ctx, cfg, conn, log)
	if err != nil {
		return err
	}
	defer a.Close()

	j.Dispatcher, j.Drainer = a.Dispatcher, a.Drainer
	return j.runOnce(ctx, job, os.Stdout)
}

// authorize holds the drain to the same shared secret as its HTTP endpoint.
func (j jobs) authorize(job string) error {
	if job == "drain" && !handler.ValidSecret(j.Secret, j.Token) {
		return appErrors.ErrUnauthorized
	}
	return nil
}

// runOnce executes job under its own tick id and timeout and writes the
// result to out as one JSON line.
func (j jobs) runOnce(ctx context.Context, job string, out io.Writer) error {
	if err := j.authorize(job); err != nil {
		return err
	}
	ctx = logger.WithTickID(ctx, uuid.NewString())
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}

	var (
		result any
		err    error
	)
	switch job {
	case "dispatch":
		result, err = j.Dispatcher.Tick(ctx)
	case "drain":
		result, err = j.Drainer.Drain(ctx)
	default:
		return errUnknownJob
	}
	if err != nil {
		return fmt.Errorf("%s: %w", job, err)
	}
	return json.NewEncoder(out).Encode(result)
}
