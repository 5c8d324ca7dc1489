package recorder

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qtrader/internal/obs"
	"qtrader/internal/trader"
)

func openTest(t *testing.T) *Recorder {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "messages.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestWriteAndRecent(t *testing.T) {
	ctx := context.Background()
	r := openTest(t)

	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	msgs := []trader.Message{
		{Seq: 1, At: at, Status: trader.StatusSleeping, Text: "trader started"},
		{Seq: 2, At: at.Add(time.Minute), Status: trader.StatusRunning, Text: "market opened"},
		{Seq: 3, At: at.Add(2 * time.Minute), Status: trader.StatusRunning, Text: "orders submitted"},
	}
	require.NoError(t, r.Write(ctx, msgs))
	require.NoError(t, r.Write(ctx, nil))

	n, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	recent, err := r.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"market opened", "orders submitted"}, recent)
}

func TestRunDrainsMessageLog(t *testing.T) {
	r := openTest(t)
	log := trader.NewMessageLog(obs.NewSequence(0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx, log, 10*time.Millisecond)
	}()

	log.Post(time.Now(), trader.StatusRunning, "first")
	require.Eventually(t, func() bool {
		n, err := r.Count(context.Background())
		return err == nil && n == 1
	}, time.Second, 10*time.Millisecond)

	// messages posted after the last tick are flushed on shutdown
	log.Post(time.Now(), trader.StatusStopped, "last")
	cancel()
	<-done

	n, err := r.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, log.Len())
}
