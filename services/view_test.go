package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// keep-alive connections of httptest servers and clients
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

func TestQueryViewSuccess(t *testing.T) {
	view := NewQueryView[string]()
	assert.Equal(t, StateIdle, view.Snapshot().State)

	release := make(chan struct{})
	view.Start(context.Background(), func(ctx context.Context) (string, error) {
		<-release
		return "posts", nil
	})
	assert.Equal(t, StateLoading, view.Snapshot().State)
	assert.False(t, view.Snapshot().Settled())

	close(release)
	snap := view.Wait(context.Background(), time.Second)
	assert.Equal(t, StateSuccess, snap.State)
	assert.Equal(t, "posts", snap.Data)
	assert.True(t, snap.Settled())
	<-view.Done()
}

func TestQueryViewError(t *testing.T) {
	boom := errors.New("boom")
	view := NewQueryView[int]()
	view.Start(context.Background(), func(ctx context.Context) (int, error) {
		return 0, boom
	})

	snap := view.Wait(context.Background(), time.Second)
	assert.Equal(t, StateError, snap.State)
	assert.ErrorIs(t, snap.Err, boom)
	<-view.Done()
}

func TestQueryViewWaitTimeoutLeavesLoading(t *testing.T) {
	view := NewQueryView[int]()
	defer view.Close()
	view.Start(context.Background(), func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})

	snap := view.Wait(context.Background(), 10*time.Millisecond)
	assert.Equal(t, StateLoading, snap.State)

	view.Close()
	<-view.Done()
	assert.Equal(t, StateLoading, view.Snapshot().State)
}

func TestQueryViewCloseDropsLateResult(t *testing.T) {
	view := NewQueryView[string]()
	release := make(chan struct{})
	view.Start(context.Background(), func(ctx context.Context) (string, error) {
		// ignores cancellation, like a fetch shared with other views
		<-release
		return "late", nil
	})

	view.Close()
	close(release)
	<-view.Done()

	snap := view.Snapshot()
	assert.Equal(t, StateLoading, snap.State)
	assert.Empty(t, snap.Data)
}

func TestQueryViewCloseCancelsFetch(t *testing.T) {
	view := NewQueryView[int]()
	cancelled := make(chan error, 1)
	view.Start(context.Background(), func(ctx context.Context) (int, error) {
		<-ctx.Done()
		cancelled <- ctx.Err()
		return 0, ctx.Err()
	})

	view.Close()
	view.Close()
	require.ErrorIs(t, <-cancelled, context.Canceled)
	<-view.Done()
}

func TestQueryViewStartOnce(t *testing.T) {
	view := NewQueryView[int]()
	calls := make(chan int, 2)
	fetch := func(n int) func(context.Context) (int, error) {
		return func(ctx context.Context) (int, error) {
			calls <- n
			return n, nil
		}
	}
	view.Start(context.Background(), fetch(1))
	view.Start(context.Background(), fetch(2))

	snap := view.Wait(context.Background(), time.Second)
	assert.Equal(t, 1, snap.Data)
	<-view.Done()
	assert.Len(t, calls, 1)

	closed := NewQueryView[int]()
	closed.Close()
	closed.Start(context.Background(), fetch(3))
	assert.Equal(t, StateIdle, closed.Snapshot().State)
}

func TestQueryViewWaitRespectsContext(t *testing.T) {
	view := NewQueryView[int]()
	defer view.Close()
	view.Start(context.Background(), func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	snap := view.Wait(ctx, time.Minute)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateLoading, snap.State)
}

func TestViewStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "loading", StateLoading.String())
	assert.Equal(t, "success", StateSuccess.String())
	assert.Equal(t, "error", StateError.String())
	assert.Equal(t, "unknown", ViewState(42).String())
}
