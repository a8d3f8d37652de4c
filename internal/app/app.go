// Package app wires configuration into the dispatcher, the feedback drainer
// and the authoring service shared by cmd/server and cmd/worker.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/campaign-mailer/internal/config"
	"github.com/unclebandit/campaign-mailer/internal/dedupe"
	"github.com/unclebandit/campaign-mailer/internal/dispatch"
	"github.com/unclebandit/campaign-mailer/internal/feedback"
	"github.com/unclebandit/campaign-mailer/internal/mailer"
	"github.com/unclebandit/campaign-mailer/internal/queue"
	"github.com/unclebandit/campaign-mailer/internal/repository"
	"github.com/unclebandit/campaign-mailer/internal/segment"
	"github.com/unclebandit/campaign-mailer/internal/service"
)

type App struct {
	Campaigns  *service.CampaignService
	Dispatcher *dispatch.Dispatcher
	Drainer    *feedback.Drainer

	closers []func() error
}

// Build connects the external collaborators named in cfg. Close releases them.
func Build(ctx context.Context, cfg config.Config, conn *sql.DB, log *slog.Logger) (*App, error) {
	a := &App{}

	campaignRepo := &repository.CampaignRepository{DB: conn}
	subscriberRepo := &repository.SubscriberRepository{DB: conn}
	recipientRepo := &repository.RecipientRepository{DB: conn}

	sender, err := mailer.New(cfg, log)
	if err != nil {
		return nil, err
	}

	fq, closeQueue, err := queue.New(cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeQueue)

	store, err := dedupeStore(ctx, cfg, log)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	if c, ok := store.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}

	a.Campaigns = &service.CampaignService{CampaignRepo: campaignRepo, Log: log}
	a.Dispatcher = &dispatch.Dispatcher{
		Campaigns:   campaignRepo,
		Resolver:    segment.NewResolver(recipientRepo, cfg.Dispatch.PageSize),
		Sender:      sender,
		Owner:       WorkerID(),
		LeaseTTL:    cfg.Dispatch.LeaseTTL,
		SendTimeout: cfg.Mail.SendTimeout,
		BaseURL:     cfg.Dispatch.PublicBaseURL,
		Log:         log.With(slog.String("component", "dispatcher")),
	}
	a.Drainer = &feedback.Drainer{
		Queue: fq,
		Processor: &feedback.Processor{
			Subscribers:         subscriberRepo,
			Campaigns:           campaignRepo,
			SoftBounceThreshold: cfg.Feedback.SoftBounceThreshold,
			Log:                 log.With(slog.String("component", "feedback")),
		},
		Dedupe:      store,
		MaxMessages: cfg.Feedback.MaxMessages,
		BatchSize:   cfg.Feedback.BatchSize,
		WaitTime:    cfg.Feedback.WaitTime,
		Log:         log.With(slog.String("component", "feedback")),
	}
	return a, nil
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// redisCloser lets Close shut the Redis client down with the store.
type redisCloser struct {
	*dedupe.RedisStore
	close func() error
}

func (r redisCloser) Close() error { return r.close() }

func dedupeStore(ctx context.Context, cfg config.Config, log *slog.Logger) (dedupe.Store, error) {
	if cfg.Redis.URL == "" {
		return dedupe.NewMemoryStore(cfg.Feedback.DedupeTTL), nil
	}
	client, err := dedupe.Open(ctx, cfg.Redis.URL, 3, time.Second)
	if err != nil {
		return nil, fmt.Errorf("open redis: %w", err)
	}
	log.Info("feedback dedupe backed by redis")
	return redisCloser{RedisStore: dedupe.NewRedisStore(client, cfg.Feedback.DedupeTTL), close: client.Close}, nil
}

// WorkerID names this process as a lease owner.
func WorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.NewString()
}
