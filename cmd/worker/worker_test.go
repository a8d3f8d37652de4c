package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-mailer/internal/dispatch"
	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/feedback"
	"github.com/unclebandit/campaign-mailer/internal/logger"
)

type fakeTicker struct {
	calls  int
	result dispatch.Result
	err    error
	tickID string
	limit  bool
}

func (f *fakeTicker) Tick(ctx context.Context) (dispatch.Result, error) {
	f.calls++
	if attr, ok := logger.TickID(ctx); ok {
		f.tickID = attr.Value.String()
	}
	_, f.limit = ctx.Deadline()
	return f.result, f.err
}

type fakeDrainer struct {
	calls  int
	result feedback.Result
	err    error
}

func (f *fakeDrainer) Drain(context.Context) (feedback.Result, error) {
	f.calls++
	return f.result, f.err
}

func TestRunOnce_Dispatch(t *testing.T) {
	tk := &fakeTicker{result: dispatch.Result{CampaignID: 4, Status: dispatch.StatusDispatched, Sent: 20, Cursor: 20}}
	j := jobs{Dispatcher: tk, Drainer: &fakeDrainer{}, Timeout: time.Second}

	var out bytes.Buffer
	require.NoError(t, j.runOnce(context.Background(), "dispatch", &out))

	var got dispatch.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, tk.result, got)
	assert.Equal(t, 1, tk.calls)
	assert.NotEmpty(t, tk.tickID)
	assert.True(t, tk.limit)
}

func TestRunOnce_Drain(t *testing.T) {
	dr := &fakeDrainer{result: feedback.Result{Polls: 1, Received: 3, Processed: 3, Deleted: 3}}
	j := jobs{Dispatcher: &fakeTicker{}, Drainer: dr, Secret: "s3cret", Token: "s3cret"}

	var out bytes.Buffer
	require.NoError(t, j.runOnce(context.Background(), "drain", &out))

	var got feedback.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, dr.result, got)
}

func TestRunOnce_Errors(t *testing.T) {
	boom := errors.New("boom")
	j := jobs{Dispatcher: &fakeTicker{err: boom}, Drainer: &fakeDrainer{}}

	var out bytes.Buffer
	err := j.runOnce(context.Background(), "dispatch", &out)
	require.ErrorIs(t, err, boom)
	assert.Empty(t, out.String())

	require.ErrorIs(t, j.runOnce(context.Background(), "resend", &out), errUnknownJob)
}

func TestRunOnce_DrainRequiresSecret(t *testing.T) {
	for name, j := range map[string]jobs{
		"missing token": {Secret: "s3cret"},
		"wrong token":   {Secret: "s3cret", Token: "guess"},
		"no secret":     {Token: "anything"},
	} {
		t.Run(name, func(t *testing.T) {
			dr := &fakeDrainer{}
			j.Dispatcher, j.Drainer = &fakeTicker{}, dr

			var out bytes.Buffer
			require.ErrorIs(t, j.runOnce(context.Background(), "drain", &out), appErrors.ErrUnauthorized)
			assert.Zero(t, dr.calls)
			assert.Empty(t, out.String())
		})
	}
}

func TestRunOnce_DispatchNeedsNoToken(t *testing.T) {
	tk := &fakeTicker{result: dispatch.Result{Status: dispatch.StatusIdle}}
	j := jobs{Dispatcher: tk, Drainer: &fakeDrainer{}, Secret: "s3cret"}

	var out bytes.Buffer
	require.NoError(t, j.runOnce(context.Background(), "dispatch", &out))
	assert.Equal(t, 1, tk.calls)
}

func TestRun_RejectsUnknownJob(t *testing.T) {
	require.ErrorIs(t, run("", ""), errUnknownJob)
}
