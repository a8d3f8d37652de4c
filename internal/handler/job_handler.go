// internal/handler/job_handler.go
package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/unclebandit/campaign-mailer/internal/dispatch"
	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/feedback"
	"github.com/unclebandit/campaign-mailer/internal/logger"
)

// CampaignTicker is implemented by dispatch.Dispatcher.
type CampaignTicker interface {
	Tick(ctx context.Context) (dispatch.Result, error)
}

// FeedbackDrainer is implemented by feedback.Drainer.
type FeedbackDrainer interface {
	Drain(ctx context.Context) (feedback.Result, error)
}

// JobHandler exposes the two worker entry points to an external scheduler.
// Both are safe to call repeatedly; an idle call is a no-op.
type JobHandler struct {
	Dispatcher  CampaignTicker
	Drainer     FeedbackDrainer
	TickTimeout time.Duration
	Log         *slog.Logger
}

// Routes mounts the job endpoints. The feedback drain requires feedbackSecret.
func (h *JobHandler) Routes(r chi.Router, feedbackSecret string) {
	r.Route("/jobs", func(r chi.Router) {
		r.Post("/campaigns/resume", h.ResumeCampaign)
		r.With(RequireBearer(feedbackSecret, h.Log)).Post("/feedback/drain", h.DrainFeedback)
	})
}

func (h *JobHandler) tickContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx := logger.WithTickID(r.Context(), uuid.NewString())
	if h.TickTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.TickTimeout)
}

func (h *JobHandler) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.tickContext(r)
	defer cancel()

	res, err := h.Dispatcher.Tick(ctx)
	if err != nil {
		if errors.Is(err, appErrors.ErrInvalidCampaign) {
			WriteJSON(w, http.StatusUnprocessableEntity, Response{Message: "Invalid campaign data", Result: res})
			return
		}
		h.Log.ErrorContext(ctx, "campaign tick failed", slog.String("error", err.Error()))
		Fail(w, err, res)
		return
	}

	switch res.Status {
	case dispatch.StatusIdle:
		OK(w, "no campaign to resume", res)
	case dispatch.StatusCompleted:
		OK(w, "campaign completed", res)
	default:
		OK(w, "campaign batch dispatched", res)
	}
}

func (h *JobHandler) DrainFeedback(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.tickContext(r)
	defer cancel()

	res, err := h.Drainer.Drain(ctx)
	if err != nil {
		h.Log.ErrorContext(ctx, "feedback drain failed", slog.String("error", err.Error()))
		Fail(w, err, res)
		return
	}
	OK(w, "feedback drained", res)
}

// RequireBearer rejects requests whose Authorization header does not carry
// secret. An empty secret rejects everything.
func RequireBearer(secret string, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || !ValidSecret(secret, token) {
				log.WarnContext(r.Context(), "rejected job invocation", slog.String("path", r.URL.Path))
				Fail(w, appErrors.ErrUnauthorized, nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ValidSecret compares token to secret in constant time. An empty secret
// matches nothing.
func ValidSecret(secret, token string) bool {
	return secret != "" && subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}

// Health reports whether check passes, for load balancer health checks.
func Health(check func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := check(ctx); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, Response{Message: "unhealthy"})
			return
		}
		OK(w, "ok", nil)
	}
}
