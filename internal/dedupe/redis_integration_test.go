//go:build integration

package dedupe_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-mailer/internal/dedupe"
)

func TestRedisStore_MarkThenSeen(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/0"
	}
	ctx := context.Background()

	client, err := dedupe.Open(ctx, url, 3, 500*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	s := dedupe.NewRedisStore(client, time.Minute)
	id := "it-" + time.Now().Format(time.RFC3339Nano)

	seen, err := s.Seen(ctx, id)
	require.NoError(t, err)
	require.False(t, seen)

	require.NoError(t, s.Mark(ctx, id))

	seen, err = s.Seen(ctx, id)
	require.NoError(t, err)
	require.True(t, seen)
}
