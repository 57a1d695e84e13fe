package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/chanrelay/pkg/relay"
)

type botServer struct {
	calls   atomic.Int32
	mu      sync.Mutex
	lastReq url.Values
	respond func(n int32, w http.ResponseWriter)
}

func (b *botServer) start(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := b.calls.Add(1)
		assert.Equal(t, "/botTOKEN/forwardMessage", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		b.mu.Lock()
		b.lastReq = r.PostForm
		b.mu.Unlock()
		b.respond(n, w)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (b *botServer) param(key string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastReq.Get(key)
}

func okResponse(w http.ResponseWriter) {
	_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
}

func newTestTelegram(t *testing.T, url string, mutate func(*TelegramOptions)) *Telegram {
	t.Helper()
	opts := TelegramOptions{
		Token:      "TOKEN",
		APIURL:     url,
		Timeout:    time.Second,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}
	g, err := NewTelegram(opts)
	require.NoError(t, err)
	return g
}

func TestNewTelegramRequiresToken(t *testing.T) {
	_, err := NewTelegram(TelegramOptions{})
	assert.Error(t, err)
}

func TestTelegramForward(t *testing.T) {
	bot := &botServer{respond: func(_ int32, w http.ResponseWriter) { okResponse(w) }}
	srv := bot.start(t)
	g := newTestTelegram(t, srv.URL, nil)

	t.Run("numeric destination", func(t *testing.T) {
		err := g.Forward(context.Background(), &relay.ForwardInstruction{
			SourceNumericID: -100123, Destination: "-100999", MessageRef: "42",
		})
		require.NoError(t, err)
		assert.Equal(t, "-100999", bot.param("chat_id"))
		assert.Equal(t, "-100123", bot.param("from_chat_id"))
		assert.Equal(t, "42", bot.param("message_id"))
	})

	t.Run("handle destination", func(t *testing.T) {
		err := g.Forward(context.Background(), &relay.ForwardInstruction{
			SourceNumericID: -100123, Destination: "@target", MessageRef: "43",
		})
		require.NoError(t, err)
		assert.Equal(t, "@target", bot.param("chat_id"))
	})

	t.Run("handle only source", func(t *testing.T) {
		err := g.Forward(context.Background(), &relay.ForwardInstruction{
			SourceHandle: "@feed", Destination: "@target", MessageRef: "44",
		})
		require.NoError(t, err)
		assert.Equal(t, "@feed", bot.param("from_chat_id"))
	})

	t.Run("no source", func(t *testing.T) {
		before := bot.calls.Load()
		err := g.Forward(context.Background(), &relay.ForwardInstruction{Destination: "@t", MessageRef: "45"})
		assert.ErrorIs(t, err, ErrNoSource)
		assert.Equal(t, before, bot.calls.Load(), "rejected before calling the API")
	})

	t.Run("non numeric message ref", func(t *testing.T) {
		before := bot.calls.Load()
		err := g.Forward(context.Background(), &relay.ForwardInstruction{SourceNumericID: -1, Destination: "@t", MessageRef: "abc"})
		require.Error(t, err)
		assert.Equal(t, before, bot.calls.Load(), "rejected before calling the API")
	})
}

func TestTelegramPermanentErrorIsNotRetried(t *testing.T) {
	bot := &botServer{respond: func(_ int32, w http.ResponseWriter) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}}
	srv := bot.start(t)
	g := newTestTelegram(t, srv.URL, nil)

	err := g.Forward(context.Background(), &relay.ForwardInstruction{SourceNumericID: -1, Destination: "@gone", MessageRef: "1"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 400, apiErr.Code)
	assert.False(t, retryable(err))
	assert.Contains(t, apiErr.Description, "chat not found")
	assert.Equal(t, int32(1), bot.calls.Load())
}

func TestTelegramTransientErrorIsRetried(t *testing.T) {
	bot := &botServer{respond: func(n int32, w http.ResponseWriter) {
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":502,"description":"Bad Gateway"}`))
			return
		}
		okResponse(w)
	}}
	srv := bot.start(t)
	g := newTestTelegram(t, srv.URL, nil)

	err := g.Forward(context.Background(), &relay.ForwardInstruction{SourceNumericID: -1, Destination: "@t", MessageRef: "1"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), bot.calls.Load())
}

func TestTelegramNonJSONResponse(t *testing.T) {
	bot := &botServer{respond: func(_ int32, w http.ResponseWriter) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("upstream exploded"))
	}}
	srv := bot.start(t)
	g := newTestTelegram(t, srv.URL, func(o *TelegramOptions) { o.MaxRetries = 0 })

	err := g.Forward(context.Background(), &relay.ForwardInstruction{SourceNumericID: -1, Destination: "@t", MessageRef: "1"})
	require.Error(t, err)
	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
	assert.Contains(t, err.Error(), "bot api")
	assert.True(t, retryable(err), "an unreadable response is treated as transient")
}

func TestTelegramBreakerOpens(t *testing.T) {
	bot := &botServer{respond: func(_ int32, w http.ResponseWriter) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":503,"description":"down"}`))
	}}
	srv := bot.start(t)
	g := newTestTelegram(t, srv.URL, func(o *TelegramOptions) {
		o.MaxRetries = 0
		o.BreakerMaxFailures = 2
		o.BreakerOpenTimeout = time.Minute
	})

	instr := &relay.ForwardInstruction{SourceNumericID: -1, Destination: "@t", MessageRef: "1"}
	for i := 0; i < 2; i++ {
		assert.Error(t, g.Forward(context.Background(), instr))
	}

	err := g.Forward(context.Background(), instr)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), bot.calls.Load(), "open breaker short-circuits the call")
}

func TestTelegramPermanentErrorsDoNotTripBreaker(t *testing.T) {
	bot := &botServer{respond: func(_ int32, w http.ResponseWriter) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot is not a member"}`))
	}}
	srv := bot.start(t)
	g := newTestTelegram(t, srv.URL, func(o *TelegramOptions) { o.BreakerMaxFailures = 1 })

	instr := &relay.ForwardInstruction{SourceNumericID: -1, Destination: "@t", MessageRef: "1"}
	for i := 0; i < 3; i++ {
		err := g.Forward(context.Background(), instr)
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState)
	}
	assert.Equal(t, int32(3), bot.calls.Load())
}

func TestTelegramHonoursContext(t *testing.T) {
	bot := &botServer{respond: func(_ int32, w http.ResponseWriter) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":5}}`))
	}}
	srv := bot.start(t)
	g := newTestTelegram(t, srv.URL, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := g.Forward(ctx, &relay.ForwardInstruction{SourceNumericID: -1, Destination: "@t", MessageRef: "1"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second, "retry_after wait is cut short by the context")
}

func TestTelegramRetryAfterIsMapped(t *testing.T) {
	bot := &botServer{respond: func(n int32, w http.ResponseWriter) {
		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":1}}`))
			return
		}
		okResponse(w)
	}}
	srv := bot.start(t)
	g := newTestTelegram(t, srv.URL, nil)

	start := time.Now()
	err := g.Forward(context.Background(), &relay.ForwardInstruction{SourceNumericID: -1, Destination: "@t", MessageRef: "1"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), bot.calls.Load())
	assert.GreaterOrEqual(t, time.Since(start), time.Second, "waits retry_after before retrying")
}
