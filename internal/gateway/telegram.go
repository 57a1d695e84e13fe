package gateway

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/dyluth/chanrelay/internal/logging"
	"github.com/dyluth/chanrelay/internal/metrics"
	"github.com/dyluth/chanrelay/pkg/relay"
)

const defaultTelegramAPI = "https://api.telegram.org"

// ErrNoSource is returned for an instruction with neither a source chat id nor a handle.
var ErrNoSource = errors.New("forward has no source chat id or handle")

// APIError is a Bot API response with ok=false.
type APIError struct {
	Code        int
	Description string
	RetryAfter  int // seconds, set on 429
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api error %d: %s", e.Code, e.Description)
}

// permanent reports whether retrying cannot help (bad chat, bad message id, no rights).
func (e *APIError) permanent() bool {
	return e.Code >= 400 && e.Code < 500 && e.Code != http.StatusTooManyRequests
}

// TelegramOptions configures the Bot API gateway.
type TelegramOptions struct {
	Token      string
	APIURL     string
	Timeout    time.Duration // per call
	MaxRetries int
	RetryDelay time.Duration

	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration

	HTTPClient *http.Client // its Timeout bounds each call; defaults to Timeout
	Logger     *zap.Logger
}

// Telegram forwards messages with the Bot API forwardMessage method.
type Telegram struct {
	opts    TelegramOptions
	bot     *tgbotapi.BotAPI
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewTelegram creates a Bot API gateway. The token is required.
func NewTelegram(opts TelegramOptions) (*Telegram, error) {
	if opts.Token == "" {
		return nil, errors.New("telegram bot token is required")
	}
	if opts.APIURL == "" {
		opts.APIURL = defaultTelegramAPI
	}
	opts.APIURL = strings.TrimRight(opts.APIURL, "/")
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 200 * time.Millisecond
	}
	if opts.BreakerMaxFailures == 0 {
		opts.BreakerMaxFailures = 5
	}
	if opts.BreakerOpenTimeout <= 0 {
		opts.BreakerOpenTimeout = 30 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	// Built directly rather than with NewBotAPI, which calls getMe on startup.
	bot := &tgbotapi.BotAPI{Token: opts.Token, Client: opts.HTTPClient, Buffer: 100}
	bot.SetAPIEndpoint(opts.APIURL + "/bot%s/%s")

	g := &Telegram{opts: opts, bot: bot, logger: opts.Logger}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "telegram",
		MaxRequests: 1,
		Timeout:     opts.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerMaxFailures
		},
		// A rejected forward (bad chat, missing rights) says nothing about API health.
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			return err == nil || (errors.As(err, &apiErr) && apiErr.permanent())
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			logging.Warn(g.logger, "gateway", "breaker_state_changed",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	metrics.BreakerState.WithLabelValues("telegram").Set(float64(gobreaker.StateClosed))
	return g, nil
}

func (g *Telegram) Name() string { return "telegram" }

// Forward calls forwardMessage, retrying transient failures with exponential backoff.
func (g *Telegram) Forward(ctx context.Context, instr *relay.ForwardInstruction) error {
	params, err := forwardParams(instr)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= g.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := g.wait(ctx, attempt, lastErr); err != nil {
				return err
			}
		}

		_, lastErr = g.breaker.Execute(func() (interface{}, error) {
			return nil, g.call(ctx, params)
		})
		if lastErr == nil || ctx.Err() != nil || !retryable(lastErr) {
			break
		}
	}
	return lastErr
}

// forwardParams maps an instruction onto forwardMessage parameters. The
// source is the numeric chat id when known, else the channel handle.
func forwardParams(instr *relay.ForwardInstruction) (tgbotapi.Params, error) {
	messageID, err := strconv.Atoi(instr.MessageRef)
	if err != nil {
		return nil, fmt.Errorf("message_ref %q is not a telegram message id: %w", instr.MessageRef, err)
	}

	params := tgbotapi.Params{"chat_id": instr.Destination}
	params.AddNonZero("message_id", messageID)
	switch handle := relay.NormalizeHandle(instr.SourceHandle); {
	case instr.SourceNumericID != 0:
		params.AddNonZero64("from_chat_id", instr.SourceNumericID)
	case handle != "":
		params["from_chat_id"] = handle
	default:
		return nil, ErrNoSource
	}
	return params, nil
}

func (g *Telegram) wait(ctx context.Context, attempt int, lastErr error) error {
	backoff := time.Duration(math.Pow(2, float64(attempt-1))) * g.opts.RetryDelay
	var apiErr *APIError
	if errors.As(lastErr, &apiErr) && apiErr.RetryAfter > 0 {
		backoff = time.Duration(apiErr.RetryAfter) * time.Second
	}
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	select {
	case <-time.After(backoff):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return !apiErr.permanent()
	}
	return true
}

// call runs one forwardMessage request. The bot client has no context
// support, so a cancelled ctx abandons the request and its result.
func (g *Telegram) call(ctx context.Context, params tgbotapi.Params) error {
	done := make(chan error, 1)
	go func() {
		_, err := g.bot.MakeRequest("forwardMessage", params)
		done <- err
	}()

	select {
	case err := <-done:
		return fromBotError(err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fromBotError turns a Bot API rejection into an APIError and strips the
// token-bearing URL from transport errors.
func fromBotError(err error) error {
	if err == nil {
		return nil
	}
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		return &APIError{Code: tgErr.Code, Description: tgErr.Message, RetryAfter: tgErr.RetryAfter}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("do request: %w", urlErr.Err)
	}
	return fmt.Errorf("bot api: %w", err)
}
