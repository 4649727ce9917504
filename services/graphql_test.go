package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"socialweb/config"
	"socialweb/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const alicePostsResponse = `{"data":{"getPosts":[{
	"__typename":"Post","id":"1","body":"hi","createdAt":"2024-05-01T09:00:00Z","username":"alice",
	"likeCount":3,"likes":[{"username":"bob"},{"username":"carol"},{"username":"dave"}],
	"commentCount":2,"comments":[
		{"id":"1","username":"bob","createdAt":"2024-05-01T09:10:00Z","body":"one"},
		{"id":"2","username":"carol","createdAt":"2024-05-01T09:20:00Z","body":"two"}]}]}}`

// fakeBackend answers every POST with the configured body and records what
// it received.
type fakeBackend struct {
	*httptest.Server

	mu       sync.Mutex
	requests []GraphQLRequest
	paths    []string
	hits     atomic.Int32

	status  int
	body    string
	release chan struct{}
}

func newFakeBackend(t *testing.T, status int, body string) *fakeBackend {
	t.Helper()
	b := &fakeBackend{status: status, body: body}
	b.Server = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.Close)
	return b
}

func (b *fakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	b.hits.Add(1)
	payload, _ := io.ReadAll(r.Body)
	var req GraphQLRequest
	_ = json.Unmarshal(payload, &req)

	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.paths = append(b.paths, r.Method+" "+r.URL.Path)
	release := b.release
	status, body := b.status, b.body
	b.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// setBody changes the answer for requests that have not been answered yet.
func (b *fakeBackend) setBody(body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.body = body
}

// hold makes requests wait until the returned channel is closed.
func (b *fakeBackend) hold() chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.release = make(chan struct{})
	return b.release
}

func (b *fakeBackend) received() ([]string, []GraphQLRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.paths...), append([]GraphQLRequest(nil), b.requests...)
}

func (b *fakeBackend) client() *DataClient {
	return NewDataClient(config.QueryEndpoint(b.URL), b.Server.Client(), nil, nil)
}

func TestDataClientPostsToQueryEndpoint(t *testing.T) {
	backend := newFakeBackend(t, http.StatusOK, alicePostsResponse)
	t.Setenv(config.BaseURLEnv, backend.URL)

	conf, err := config.LoadConfig("")
	require.NoError(t, err)
	client := NewDataClient(conf.QueryEndpoint(), backend.Client(), nil, nil)

	var data models.GetPostsData
	require.NoError(t, client.Query(context.Background(), fetchPostsRequest, CacheFirst, &data))

	paths, requests := backend.received()
	require.Len(t, paths, 1)
	assert.Equal(t, "POST /query", paths[0])
	assert.Equal(t, "GetPosts", requests[0].OperationName)
	assert.Contains(t, requests[0].Query, "getPosts")

	require.Len(t, data.GetPosts, 1)
	post := data.GetPosts[0]
	assert.Equal(t, "alice", post.Username)
	assert.Equal(t, 3, post.LikeCount)
	assert.Equal(t, 2, post.CommentCount)
	assert.Len(t, post.Likes, 3)
	assert.Equal(t, "two", post.Comments[1].Body)
}

func TestDataClientCacheFirst(t *testing.T) {
	backend := newFakeBackend(t, http.StatusOK, alicePostsResponse)
	client := backend.client()
	ctx := context.Background()

	var first, second models.GetPostsData
	require.NoError(t, client.Query(ctx, fetchPostsRequest, CacheFirst, &first))
	require.NoError(t, client.Query(ctx, fetchPostsRequest, CacheFirst, &second))
	assert.Equal(t, int32(1), backend.hits.Load())
	assert.Equal(t, first, second)

	var third models.GetPostsData
	require.NoError(t, client.Query(ctx, fetchPostsRequest, NetworkOnly, &third))
	assert.Equal(t, int32(2), backend.hits.Load())
	assert.Equal(t, first, third)
}

func TestDataClientGraphQLErrors(t *testing.T) {
	backend := newFakeBackend(t, http.StatusOK, `{"data":null,"errors":[{"message":"boom"},{"message":"again"}]}`)

	err := backend.client().Query(context.Background(), fetchPostsRequest, CacheFirst, &models.GetPostsData{})
	var qerr *QueryError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, "GetPosts", qerr.Operation)
	assert.Len(t, qerr.Errors, 2)
	assert.Equal(t, "graphql GetPosts: boom; again", qerr.Error())
}

func TestDataClientHTTPStatusError(t *testing.T) {
	backend := newFakeBackend(t, http.StatusInternalServerError, `not json`)

	client := backend.client()
	err := client.Query(context.Background(), fetchPostsRequest, CacheFirst, &models.GetPostsData{})
	var qerr *QueryError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, http.StatusInternalServerError, qerr.StatusCode)

	// a failure is not cached
	_, ok, cacheErr := client.Cache().Read(context.Background(), OperationKey(fetchPostsRequest))
	require.NoError(t, cacheErr)
	assert.False(t, ok)
}

func TestDataClientUnreachable(t *testing.T) {
	backend := newFakeBackend(t, http.StatusOK, `{}`)
	client := backend.client()
	backend.Close()

	err := client.Query(context.Background(), fetchPostsRequest, CacheFirst, &models.GetPostsData{})
	var qerr *QueryError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, 0, qerr.StatusCode)
	assert.NotNil(t, errors.Unwrap(err))
}

func TestDataClientSharesInflightRequests(t *testing.T) {
	backend := newFakeBackend(t, http.StatusOK, alicePostsResponse)
	release := backend.hold()
	client := backend.client()

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = client.Query(context.Background(), fetchPostsRequest, NetworkOnly, &models.GetPostsData{})
		}(i)
	}
	require.Eventually(t, func() bool { return backend.hits.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), backend.hits.Load())
}

func TestDataClientCallerCancelStillFillsCache(t *testing.T) {
	backend := newFakeBackend(t, http.StatusOK, alicePostsResponse)
	release := backend.hold()
	client := backend.client()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- client.Query(ctx, fetchPostsRequest, CacheFirst, &models.GetPostsData{})
	}()
	require.Eventually(t, func() bool { return backend.hits.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(release)
	require.Eventually(t, func() bool {
		_, ok, _ := client.Cache().Read(context.Background(), OperationKey(fetchPostsRequest))
		return ok
	}, time.Second, 5*time.Millisecond)
}
