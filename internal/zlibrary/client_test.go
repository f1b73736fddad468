package zlibrary_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/walktheearth/bookdlbot/internal/retry"
	"github.com/walktheearth/bookdlbot/internal/zlibrary"
)

// fastPolicy keeps test retries snappy.
var fastPolicy = retry.Policy{MaxAttempts: 3, Delay: 5 * time.Millisecond}

// libraryServer is a scriptable stand-in for the remote lookup service.
type libraryServer struct {
	t            *testing.T
	loginCalls   atomic.Int64
	searchCalls  atomic.Int64
	fetchCalls   atomic.Int64
	loginStatus  int
	searchStatus int
	searchBody   string
	searchDelay  time.Duration
	fetchBody    string
}

func (s *libraryServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", func(w http.ResponseWriter, r *http.Request) {
		s.loginCalls.Add(1)
		if s.loginStatus != 0 && s.loginStatus != http.StatusOK {
			w.WriteHeader(s.loginStatus)
			return
		}
		var creds struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		require.NoError(s.t, json.NewDecoder(r.Body).Decode(&creds))
		assert.Equal(s.t, "reader@example.com", creds.Email)
		_, _ = w.Write([]byte(`{"user_id":"u1","user_key":"k1"}`))
	})
	mux.HandleFunc("/api/search", func(w http.ResponseWriter, r *http.Request) {
		s.searchCalls.Add(1)
		assert.Equal(s.t, "u1", r.Header.Get("X-User-Id"))
		assert.Equal(s.t, "k1", r.Header.Get("X-User-Key"))
		if s.searchDelay > 0 {
			time.Sleep(s.searchDelay)
		}
		if s.searchStatus != 0 && s.searchStatus != http.StatusOK {
			w.WriteHeader(s.searchStatus)
			return
		}
		_, _ = w.Write([]byte(s.searchBody))
	})
	mux.HandleFunc("/api/book/", func(w http.ResponseWriter, r *http.Request) {
		s.fetchCalls.Add(1)
		_, _ = w.Write([]byte(s.fetchBody))
	})
	return mux
}

func newTestClient(t *testing.T, srv *libraryServer, policy retry.Policy, opts ...zlibrary.Option) (*zlibrary.Client, func()) {
	t.Helper()
	ts := httptest.NewServer(srv.handler())
	client := zlibrary.NewClient(zlibrary.Config{
		BaseURL:     ts.URL,
		Email:       "reader@example.com",
		Password:    "hunter2",
		CallTimeout: time.Second,
	}, policy, zap.NewNop(), opts...)
	return client, ts.Close
}

func TestSearch_NormalizesRecords(t *testing.T) {
	srv := &libraryServer{t: t, searchBody: `{"books":[
		{"id":"1","name":"Dune","authors":[{"author":"Frank Herbert"}],"year":"1965","extension":"epub","href":"/api/book/1"},
		{"id":"2","name":"Hyperion","authors":["Dan Simmons"],"year":1989,"href":"/api/book/2"}
	]}`}
	client, closeSrv := newTestClient(t, srv, fastPolicy)
	defer closeSrv()

	records, err := client.Search(context.Background(), "dune", 5)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "Dune", records[0].Title)
	assert.Equal(t, "Frank Herbert", records[0].AuthorsText)
	assert.Equal(t, "Hyperion", records[1].Title)
	assert.Equal(t, "1989", records[1].Year)
	assert.Equal(t, int64(1), srv.loginCalls.Load(), "login must happen lazily, once")
	assert.True(t, client.Connected())
}

func TestSearch_SkipsMalformedRecords(t *testing.T) {
	srv := &libraryServer{t: t, searchBody: `{"books":[
		"garbage",
		{"id":"1","name":"Dune"}
	]}`}
	client, closeSrv := newTestClient(t, srv, fastPolicy)
	defer closeSrv()

	records, err := client.Search(context.Background(), "dune", 5)
	require.NoError(t, err, "one bad hit must not abort the batch")
	require.Len(t, records, 1)
	assert.Equal(t, "Dune", records[0].Title)
}

func TestSearch_EmptyResultIsNotAnError(t *testing.T) {
	srv := &libraryServer{t: t, searchBody: `{"books":[]}`}
	client, closeSrv := newTestClient(t, srv, fastPolicy)
	defer closeSrv()

	records, err := client.Search(context.Background(), "no such book", 5)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestLogin_TransientFailureLeavesHandleUnset(t *testing.T) {
	srv := &libraryServer{t: t, loginStatus: http.StatusInternalServerError, searchBody: `{"books":[]}`}
	client, closeSrv := newTestClient(t, srv, fastPolicy)
	defer closeSrv()

	_, err := client.Search(context.Background(), "dune", 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, zlibrary.ErrConnectionFailed)
	assert.Equal(t, int64(3), srv.loginCalls.Load(), "transient login failures must be retried")
	assert.False(t, client.Connected(), "failed login must not leave a partial handle")

	// The next call retries login from scratch.
	srv.loginStatus = http.StatusOK
	records, err := client.Search(context.Background(), "dune", 5)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.True(t, client.Connected())
}

func TestLogin_BadCredentialsNotRetried(t *testing.T) {
	srv := &libraryServer{t: t, loginStatus: http.StatusUnauthorized}
	client, closeSrv := newTestClient(t, srv, fastPolicy)
	defer closeSrv()

	_, err := client.Search(context.Background(), "dune", 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, zlibrary.ErrConnectionFailed)
	assert.Equal(t, int64(1), srv.loginCalls.Load(), "a rejected login is not transient")
}

func TestSearch_TimeoutIsTransient(t *testing.T) {
	srv := &libraryServer{t: t, searchDelay: 300 * time.Millisecond, searchBody: `{"books":[]}`}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	client := zlibrary.NewClient(zlibrary.Config{
		BaseURL:     ts.URL,
		Email:       "reader@example.com",
		Password:    "hunter2",
		CallTimeout: 50 * time.Millisecond,
	}, retry.Policy{MaxAttempts: 2, Delay: 5 * time.Millisecond}, zap.NewNop())

	_, err := client.Search(context.Background(), "dune", 5)
	require.Error(t, err)
	assert.True(t, retry.IsTransient(err), "per-call timeouts are transient: %v", err)
	assert.Equal(t, int64(2), srv.searchCalls.Load(), "timeouts must be retried per policy")
}

func TestSearch_RejectedSessionInvalidatesHandle(t *testing.T) {
	srv := &libraryServer{t: t, searchStatus: http.StatusUnauthorized}
	client, closeSrv := newTestClient(t, srv, fastPolicy)
	defer closeSrv()

	_, err := client.Search(context.Background(), "dune", 5)
	require.Error(t, err)
	assert.False(t, client.Connected(), "a rejected session must invalidate the handle")

	srv.searchStatus = http.StatusOK
	srv.searchBody = `{"books":[]}`
	_, err = client.Search(context.Background(), "dune", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(2), srv.loginCalls.Load(), "next call must re-login lazily")
}

func TestFetchFull_ResolvesDownloadURL(t *testing.T) {
	srv := &libraryServer{
		t:          t,
		searchBody: `{"books":[{"id":"1","name":"Dune","href":"/api/book/1"}]}`,
		fetchBody:  `{"book":{"download_url":"https://dl.example/dune.epub","description":"classic"}}`,
	}
	client, closeSrv := newTestClient(t, srv, fastPolicy)
	defer closeSrv()

	records, err := client.Search(context.Background(), "dune", 5)
	require.NoError(t, err)
	require.Len(t, records, 1)

	full, err := client.FetchFull(context.Background(), records[0])
	require.NoError(t, err)
	assert.Equal(t, "https://dl.example/dune.epub", full.DownloadURL)
	assert.Equal(t, "Dune", full.Title)
	assert.Equal(t, int64(1), srv.fetchCalls.Load())
}

func TestFetchFull_RecordWithoutReference(t *testing.T) {
	srv := &libraryServer{t: t}
	client, closeSrv := newTestClient(t, srv, fastPolicy)
	defer closeSrv()

	_, err := client.FetchFull(context.Background(), zlibrary.Record{Title: "loose record"})
	require.Error(t, err)
}

func TestPaginator_AccumulatesPages(t *testing.T) {
	srv := &libraryServer{t: t, searchBody: `{"books":[{"id":"1","name":"Dune"}]}`}
	client, closeSrv := newTestClient(t, srv, fastPolicy)
	defer closeSrv()

	p := client.NewSearch("dune", 1)

	page1, err := p.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, page1, 1)

	page2, err := p.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, page2, 1)

	assert.Len(t, p.Result(), 2, "Result must accumulate across pages")
	assert.Equal(t, int64(2), srv.searchCalls.Load())
}
