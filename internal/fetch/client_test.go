package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() Config {
	return Config{
		MaxConcurrent:     4,
		RequestsPerWindow: 1000,
		Window:            time.Second,
		MaxRetries:        3,
		BackoffBase:       2 * time.Millisecond,
		BackoffMax:        10 * time.Millisecond,
		Timeout:           2 * time.Second,
	}
}

func TestDoSuccess(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(testConfig(), zap.NewNop())
	resp, err := c.Do(context.Background(), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, `{"ok":true}`, string(resp.Body))
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(testConfig(), zap.NewNop())
	resp, err := c.Do(context.Background(), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoExhaustsRetries(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(testConfig(), zap.NewNop())
	resp, err := c.Do(context.Background(), http.MethodGet, srv.URL, nil)
	require.Nil(t, resp)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusInternalServerError, fetchErr.StatusCode)
	// 1 initial attempt + MaxRetries retries.
	assert.Equal(t, 4, fetchErr.Attempts)
	assert.Equal(t, int32(4), calls.Load())
}

func TestDoReturnsNotFoundAsResponse(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(testConfig(), zap.NewNop())
	resp, err := c.Do(context.Background(), http.MethodGet, srv.URL, nil)
	require.NoError(t, err, "404 is an answer, not a failure")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load(), "a 404 must not be retried")
}

func TestDoRespectsRetryAfter(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	var firstDone time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			firstDone = time.Now()
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(testConfig(), zap.NewNop())
	resp, err := c.Do(context.Background(), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.GreaterOrEqual(t, time.Since(firstDone), time.Second, "Retry-After must stretch the backoff")
}

func TestDoHonorsRequestBudgetUnderConcurrency(t *testing.T) {
	t.Parallel()
	const window = 100 * time.Millisecond

	var mu sync.Mutex
	var stamps []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.MaxConcurrent = 8
	cfg.RequestsPerWindow = 1
	cfg.Window = window
	c := New(cfg, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Do(context.Background(), http.MethodGet, srv.URL, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, stamps, 5)
	// Count observed requests inside any window-sized interval; the budget
	// (1 per window, burst 1) allows at most 2 at interval edges.
	for i := range stamps {
		inWindow := 0
		for j := range stamps {
			d := stamps[j].Sub(stamps[i])
			if d >= 0 && d < window {
				inWindow++
			}
		}
		assert.LessOrEqual(t, inWindow, 2, "budget exceeded within one window")
	}
}

func TestDoCanceledContext(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := New(testConfig(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.Do(ctx, http.MethodGet, srv.URL, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoffIsCappedAndJittered(t *testing.T) {
	t.Parallel()
	p := retryPolicy{maxRetries: 5, backoffBase: 100 * time.Millisecond, backoffMax: 400 * time.Millisecond}
	for attempt := 0; attempt < 6; attempt++ {
		d := p.backoff(attempt)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 400*time.Millisecond)
	}
}

func TestTransientClassification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status int
		want   bool
	}{
		{200, false},
		{301, false},
		{404, false},
		{410, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, transient(tc.status), "status %d", tc.status)
	}
}
