package cache

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/require"

	"TemanTenang/internal/backend"
	"TemanTenang/internal/session"
)

type counting struct {
	fragments []string
	err       error
	calls     int
}

func (c *counting) Name() string { return "counting" }

func (c *counting) Stream(_ context.Context, _ []session.Message, _ float64) iter.Seq2[string, error] {
	c.calls++
	return func(yield func(string, error) bool) {
		for _, f := range c.fragments {
			if !yield(f, nil) {
				return
			}
		}
		if c.err != nil {
			yield("", c.err)
		}
	}
}

func (c *counting) Complete(ctx context.Context, messages []session.Message, temperature float64) (string, error) {
	reply, _, err := backend.Collect(c.Stream(ctx, messages, temperature))
	return reply, err
}

var conv = []session.Message{{Role: session.RoleUser, Content: "Hello"}}

func TestGenerateCacheKey(t *testing.T) {
	a := GenerateCacheKey(conv, 0.5)
	require.Equal(t, a, GenerateCacheKey(conv, 0.5))
	require.NotEqual(t, a, GenerateCacheKey(conv, 0.6))
	require.NotEqual(t, a, GenerateCacheKey([]session.Message{{Role: session.RoleAssistant, Content: "Hello"}}, 0.5))
	require.NotEqual(t,
		GenerateCacheKey([]session.Message{{Role: session.RoleUser, Content: "ab"}, {Role: session.RoleUser, Content: "c"}}, 0.5),
		GenerateCacheKey([]session.Message{{Role: session.RoleUser, Content: "a"}, {Role: session.RoleUser, Content: "bc"}}, 0.5),
	)
}

func TestStream_ReplaysAfterSuccess(t *testing.T) {
	next := &counting{fragments: []string{"Hi", " there!"}}
	c := New(next, 8, nil)

	first, n, err := backend.Collect(c.Stream(context.Background(), conv, 0.5))
	require.NoError(t, err)
	require.Equal(t, "Hi there!", first)
	require.Equal(t, 2, n)

	second, n, err := backend.Collect(c.Stream(context.Background(), conv, 0.5))
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, n)
	require.Equal(t, 1, next.calls)

	whole, err := c.Complete(context.Background(), conv, 0.5)
	require.NoError(t, err)
	require.Equal(t, first, whole)
	require.Equal(t, 1, next.calls)
}

func TestStream_DoesNotStorePartialReply(t *testing.T) {
	next := &counting{fragments: []string{"Hi"}, err: errors.New("reset")}
	c := New(next, 8, nil)

	_, _, err := backend.Collect(c.Stream(context.Background(), conv, 0.5))
	require.Error(t, err)
	require.Zero(t, c.Len())

	for range c.Stream(context.Background(), conv, 0.5) {
		break
	}
	require.Zero(t, c.Len())
}

func TestStore_EvictsOldest(t *testing.T) {
	next := &counting{fragments: []string{"ok"}}
	c := New(next, 2, nil)

	for _, temp := range []float64{0.1, 0.2, 0.3} {
		_, _, err := backend.Collect(c.Stream(context.Background(), conv, temp))
		require.NoError(t, err)
	}
	require.Equal(t, 2, c.Len())

	_, _, _ = backend.Collect(c.Stream(context.Background(), conv, 0.1))
	require.Equal(t, 4, next.calls)
}
