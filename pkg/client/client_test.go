package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/karin-compliance/pkg/errors"
)

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	opts = append([]Option{WithRetryWait(time.Millisecond, 2*time.Millisecond)}, opts...)
	client, err := NewClient(server.URL, opts...)
	require.NoError(t, err)
	return client
}

func writeEnvelope(w http.ResponseWriter, status int, data string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"success":true,"data":%s,"request_id":"srv-1","timestamp":"2026-01-01T00:00:00Z"}`, data)
}

func writeErrorEnvelope(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"success":false,"error":{"code":%q,"message":%q,"detail":"d"},"request_id":"srv-1","timestamp":"2026-01-01T00:00:00Z"}`, code, msg)
}

type testLogger struct {
	mu      sync.Mutex
	lastMsg string
	count   int32
}

func (l *testLogger) Debugf(format string, args ...interface{}) { l.log(format, args...) }
func (l *testLogger) Infof(format string, args ...interface{})  { l.log(format, args...) }
func (l *testLogger) Errorf(format string, args ...interface{}) { l.log(format, args...) }
func (l *testLogger) log(format string, args ...interface{}) {
	atomic.AddInt32(&l.count, 1)
	l.mu.Lock()
	l.lastMsg = fmt.Sprintf(format, args...)
	l.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Constructor Tests
// ---------------------------------------------------------------------------

func TestNewClient_Success(t *testing.T) {
	c, err := NewClient("http://api.example.com/")
	require.NoError(t, err)
	assert.Equal(t, "http://api.example.com", c.baseURL)
	assert.Equal(t, 3, c.retryMax)
	assert.Contains(t, c.userAgent, "karin-go-sdk/")
	assert.Empty(t, c.apiKey)
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	for _, u := range []string{"", "ftp://invalid", "invalid-url", "://x"} {
		_, err := NewClient(u)
		require.Error(t, err, u)
		assert.True(t, errors.IsCode(err, errors.ErrCodeValidation), u)
	}
}

func TestNewClient_WithOptions(t *testing.T) {
	customClient := &http.Client{Timeout: 10 * time.Second}
	logger := &testLogger{}
	c, err := NewClient("http://api.example.com",
		WithHTTPClient(customClient),
		WithLogger(logger),
		WithRetryMax(5),
		WithAPIKey("k"),
		WithActor("ana"),
	)
	require.NoError(t, err)
	assert.Same(t, customClient, c.httpClient)
	assert.Equal(t, logger, c.logger)
	assert.Equal(t, 5, c.retryMax)
	assert.Equal(t, "k", c.apiKey)
	assert.Equal(t, "ana", c.actorID)
}

func TestClient_As(t *testing.T) {
	c, _ := NewClient("http://api.example.com", WithActor("ana"), WithRetryMax(1))
	c.Cases()
	other := c.As("beto")
	assert.Equal(t, "beto", other.actorID)
	assert.Equal(t, "ana", c.actorID)
	assert.Equal(t, 1, other.retryMax)
	assert.Nil(t, other.cases)
	assert.Same(t, other, other.Cases().client)
}

// ---------------------------------------------------------------------------
// Lazy Init Tests
// ---------------------------------------------------------------------------

func TestClient_SubClients_LazyInit(t *testing.T) {
	c, _ := NewClient("http://api.example.com")
	assert.Nil(t, c.cases)
	assert.Same(t, c.Cases(), c.Cases())
	assert.Same(t, c.Extensions(), c.Extensions())
	assert.Same(t, c.Alerts(), c.Alerts())
	assert.Same(t, c.Risk(), c.Risk())
}

func TestClient_SubClients_ConcurrentAccess(t *testing.T) {
	c, _ := NewClient("http://api.example.com")
	var wg sync.WaitGroup
	got := make([]*RiskClient, 50)
	for i := range got {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			got[idx] = c.Risk()
		}(i)
	}
	wg.Wait()
	for i := 1; i < len(got); i++ {
		assert.Same(t, got[0], got[i])
	}
}

// ---------------------------------------------------------------------------
// HTTP Execution Tests (do)
// ---------------------------------------------------------------------------

func TestClient_Do_UnwrapsEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, `{"value":"ok"}`)
	})
	var out struct {
		Value string `json:"value"`
	}
	require.NoError(t, c.get(context.Background(), "test", &out))
	assert.Equal(t, "ok", out.Value)
}

func TestClient_Do_RequestHeaders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Contains(t, r.Header.Get("User-Agent"), "karin-go-sdk/")
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		assert.Equal(t, "ana", r.Header.Get("X-Actor-ID"))
		w.WriteHeader(http.StatusOK)
	}, WithAPIKey("k"), WithActor("ana"))
	require.NoError(t, c.post(context.Background(), "/test", map[string]int{"a": 1}, nil))
}

func TestClient_Do_NoOptionalHeaders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("X-Actor-ID"))
		assert.Empty(t, r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusNoContent)
	})
	require.NoError(t, c.get(context.Background(), "/test", nil))
}

func TestClient_Do_ErrorEnvelope(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeErrorEnvelope(w, http.StatusConflict, "KARIN_004", "invalid transition")
	})
	err := c.post(context.Background(), "/test", nil, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsConflict())
	assert.Equal(t, "KARIN_004", apiErr.Code)
	assert.Equal(t, "invalid transition", apiErr.Message)
	assert.Equal(t, "d", apiErr.Detail)
	assert.Equal(t, "srv-1", apiErr.RequestID)
	assert.Contains(t, apiErr.Error(), "HTTP 409")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_Do_PlainErrorBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}, WithRetryMax(0))
	err := c.get(context.Background(), "/test", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsServerError())
	assert.Equal(t, "upstream down", apiErr.Message)
	assert.NotEmpty(t, apiErr.RequestID)
}

func TestClient_Do_RetriesGetOn5xx(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeEnvelope(w, http.StatusOK, `{}`)
	})
	require.NoError(t, c.get(context.Background(), "/test", &struct{}{}))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_Do_DoesNotRetryPostOn500(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	require.Error(t, c.post(context.Background(), "/test", nil, nil))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_Do_RetriesPostOnRateLimit(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			writeErrorEnvelope(w, http.StatusTooManyRequests, "COMMON_007", "rate limit exceeded")
			return
		}
		writeEnvelope(w, http.StatusCreated, `{"id":"c-1"}`)
	})
	var out Case
	require.NoError(t, c.post(context.Background(), "/test", map[string]string{}, &out))
	assert.Equal(t, "c-1", out.ID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_Do_RetryExhausted(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, WithRetryMax(2))
	err := c.get(context.Background(), "/test", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_Do_ContextCanceled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, WithRetryWait(time.Second, time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.get(ctx, "/test", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_Do_TransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	logger := &testLogger{}
	c, err := NewClient(url, WithRetryMax(1), WithRetryWait(time.Millisecond, time.Millisecond), WithLogger(logger))
	require.NoError(t, err)
	err = c.get(context.Background(), "/test", nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeServiceUnavailable))
	assert.Positive(t, atomic.LoadInt32(&logger.count))
}

func TestClient_Do_InvalidEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	})
	err := c.get(context.Background(), "/test", &struct{}{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeSerialization))
}

func TestCalculateBackoff(t *testing.T) {
	c := &Client{retryWaitMin: 100 * time.Millisecond, retryWaitMax: 300 * time.Millisecond}
	b1 := c.calculateBackoff(1)
	assert.GreaterOrEqual(t, b1, 100*time.Millisecond)
	assert.Less(t, b1, 125*time.Millisecond)
	b5 := c.calculateBackoff(5)
	assert.GreaterOrEqual(t, b5, 300*time.Millisecond)
	assert.Less(t, b5, 375*time.Millisecond)
}
