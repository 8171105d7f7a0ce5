package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedServer answers with the given statuses in order, repeating the
// last one once the script runs out.
func scriptedServer(t *testing.T, statuses ...int) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(&calls, 1))
		idx := n - 1
		if idx >= len(statuses) {
			idx = len(statuses) - 1
		}
		w.WriteHeader(statuses[idx])
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func fastPool() *Pool {
	opts := DefaultOptions()
	opts.Retry.BaseBackoff = time.Millisecond
	opts.Retry.MaxBackoff = 5 * time.Millisecond
	return New(opts)
}

func TestPoolRetriesTransientStatuses(t *testing.T) {
	server, calls := scriptedServer(t, http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusOK)
	pool := fastPool()
	defer pool.Close()

	resp, err := pool.StandardClient().Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ok", string(body))
}

func TestPoolGivesUpAfterThreeAttempts(t *testing.T) {
	server, calls := scriptedServer(t,
		http.StatusServiceUnavailable, http.StatusServiceUnavailable,
		http.StatusServiceUnavailable, http.StatusServiceUnavailable)
	pool := fastPool()
	defer pool.Close()

	resp, err := pool.StandardClient().Get(server.URL)
	if resp != nil {
		resp.Body.Close()
	}
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))

	var transportErr *Error
	require.True(t, errors.As(err, &transportErr))
	assert.Equal(t, 3, transportErr.Attempts)
	assert.Equal(t, http.StatusServiceUnavailable, transportErr.StatusCode)
}

func TestPoolRetryableStatuses(t *testing.T) {
	for _, status := range []int{429, 500, 502, 503, 504} {
		server, calls := scriptedServer(t, status, http.StatusOK)
		pool := fastPool()

		resp, err := pool.StandardClient().Get(server.URL)
		require.NoError(t, err, "status %d", status)
		resp.Body.Close()
		assert.Equal(t, int32(2), atomic.LoadInt32(calls), "status %d should be retried once", status)
		pool.Close()
	}
}

func TestPoolDoesNotRetryClientErrors(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound} {
		server, calls := scriptedServer(t, status, http.StatusOK)
		pool := fastPool()

		resp, err := pool.StandardClient().Get(server.URL)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, status, resp.StatusCode)
		assert.Equal(t, int32(1), atomic.LoadInt32(calls), "status %d must surface immediately", status)
		pool.Close()
	}
}

func TestPoolDoesNotRetryNonIdempotentRequests(t *testing.T) {
	server, calls := scriptedServer(t, http.StatusServiceUnavailable, http.StatusOK)
	pool := fastPool()
	defer pool.Close()

	resp, err := pool.StandardClient().Post(server.URL, "application/x-www-form-urlencoded", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestPoolStopsOnCancelledContext(t *testing.T) {
	server, calls := scriptedServer(t, http.StatusServiceUnavailable)
	opts := DefaultOptions()
	opts.Retry.BaseBackoff = time.Hour
	opts.Retry.MaxBackoff = time.Hour
	pool := New(opts)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = pool.Do(req)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestPoolBoundsEachAttempt(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	opts := DefaultOptions()
	opts.RequestTimeout = 20 * time.Millisecond
	opts.Retry.BaseBackoff = time.Millisecond
	opts.Retry.MaxBackoff = time.Millisecond
	pool := New(opts)
	defer pool.Close()

	_, err := pool.StandardClient().Get(server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
}

func TestPoolBlocksBeyondConnectionBound(t *testing.T) {
	var inFlight, maxInFlight int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
	}))
	defer server.Close()

	opts := DefaultOptions()
	opts.MaxConnsPerHost = 2
	pool := New(opts)
	defer pool.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := pool.StandardClient().Get(server.URL)
			if assert.NoError(t, err) {
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(2))
}

func TestPoolKeepsIdleConnectionsAfterFailure(t *testing.T) {
	var dials int32
	server := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_, _ = w.Write([]byte("ok"))
	}))
	server.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		if state == http.StateNew {
			atomic.AddInt32(&dials, 1)
		}
	}
	server.Start()
	defer server.Close()

	pool := fastPool()
	defer pool.Close()

	get := func(path string) error {
		resp, err := pool.StandardClient().Get(server.URL + path)
		if err != nil {
			return err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.Body.Close()
	}

	require.NoError(t, get("/ok"))
	assert.ErrorIs(t, get("/fail"), ErrRetriesExhausted)
	require.NoError(t, get("/ok"))

	assert.Equal(t, int32(1), atomic.LoadInt32(&dials), "a failed request must not drop pooled connections")
}

func TestNewFillsDefaults(t *testing.T) {
	pool := New(Options{})
	defer pool.Close()

	policy := pool.Policy()
	assert.Equal(t, 3, policy.MaxAttempts)
	assert.Equal(t, time.Second, policy.BaseBackoff)
	assert.True(t, policy.RetryableStatuses[http.StatusTooManyRequests])
	assert.False(t, policy.RetryableStatuses[http.StatusNotFound])
	assert.Equal(t, DefaultMaxConnsPerHost, pool.transport.MaxConnsPerHost)
}
