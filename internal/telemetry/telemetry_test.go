package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestJournal_RecordAndLoad(t *testing.T) {
	j, err := OpenJournal(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	ctx := context.Background()
	started := time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)
	require.NoError(t, j.Record(ctx, TurnRecord{
		SessionID: "s1", TurnID: "t1", Backend: "ollama", State: "COMMITTED",
		Fragments: 2, Duration: 1500 * time.Millisecond, StartedAt: started,
	}))
	require.NoError(t, j.Record(ctx, TurnRecord{
		SessionID: "s1", TurnID: "t2", Backend: "ollama", State: "FAILED",
		Fragments: 1, Error: "connection reset", StartedAt: started.Add(time.Minute),
	}))
	require.NoError(t, j.Record(ctx, TurnRecord{SessionID: "s2", TurnID: "t3", State: "COMMITTED", StartedAt: started}))

	turns, err := j.Turns(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Equal(t, "t1", turns[0].TurnID)
	require.Equal(t, 1500*time.Millisecond, turns[0].Duration)
	require.True(t, started.Equal(turns[0].StartedAt))
	require.Equal(t, "FAILED", turns[1].State)
	require.Equal(t, "connection reset", turns[1].Error)
}

func TestJournal_OnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := OpenJournal(path)
	require.NoError(t, err)
	require.NoError(t, j.Record(context.Background(), TurnRecord{SessionID: "s", TurnID: "t", State: "COMMITTED", StartedAt: time.Now()}))
	require.NoError(t, j.Close())

	j, err = OpenJournal(path)
	require.NoError(t, err)
	defer j.Close()
	turns, err := j.Turns(context.Background(), "s")
	require.NoError(t, err)
	require.Len(t, turns, 1)
}

func TestTurnIDContext(t *testing.T) {
	_, ok := TurnIDFromContext(context.Background())
	require.False(t, ok)

	_, ok = TurnIDFromContext(WithTurnID(context.Background(), ""))
	require.False(t, ok)

	id, ok := TurnIDFromContext(WithTurnID(context.Background(), "turn-1"))
	require.True(t, ok)
	require.Equal(t, "turn-1", id)
}

func TestTurnMetrics_Record(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := NewTurnMetrics(mp.Meter("test"))

	ctx := context.Background()
	m.Record(ctx, "ollama", "COMMITTED", 2, time.Second)
	m.Record(ctx, "ollama", "FAILED", 1, time.Second)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	names := map[string]bool{}
	for _, metric := range rm.ScopeMetrics[0].Metrics {
		names[metric.Name] = true
		if metric.Name == "chat.turns" {
			sum, ok := metric.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			require.Len(t, sum.DataPoints, 2)
		}
	}
	require.True(t, names["chat.turns"])
	require.True(t, names["chat.turn.duration"])
	require.True(t, names["chat.turn.fragments"])
}

func TestInitLogger_WritesToFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	logger, closer, err := InitLogger(dir, true)
	require.NoError(t, err)

	logger.Debug("hello", "k", "v")
	require.NoError(t, closer.Close())

	b, err := os.ReadFile(filepath.Join(dir, "temantenang.log"))
	require.NoError(t, err)
	require.Contains(t, string(b), `"msg":"hello"`)
}
