package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/GriffinCanCode/gadgetry/internal/infrastructure/config"
	"github.com/GriffinCanCode/gadgetry/internal/infrastructure/logging"
	"github.com/GriffinCanCode/gadgetry/internal/infrastructure/resilience"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// AcceptMarkup is sent for class definitions and inline transfers
	AcceptMarkup = "text/html"
	// AcceptAny is sent for script and stylesheet dependencies
	AcceptAny = "*/*"
)

// Fetcher retrieves gadget sources. The registry and the inline-transfer
// embodiment depend on this interface so tests can substitute a stub.
type Fetcher interface {
	Get(ctx context.Context, rawURL, accept string) (*Response, error)
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Status)
}

// Client fetches over HTTP with retries, rate limiting and per-host circuit
// breakers. data: URLs are decoded locally.
type Client struct {
	resty    *resty.Client
	limiter  *rate.Limiter
	breakers *resilience.Set
	logger   *logging.Logger
}

// Options tune a Client beyond FetchConfig
type Options struct {
	UserAgent    string
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Breaker      resilience.Settings
}

// NewClient creates a fetch client from configuration
func NewClient(cfg config.FetchConfig, opts Options, logger *logging.Logger) *Client {
	logger = logger.Named("fetch")

	if opts.RetryWaitMin == 0 {
		opts.RetryWaitMin = 100 * time.Millisecond
	}
	if opts.RetryWaitMax == 0 {
		opts.RetryWaitMax = 2 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "gadgetry/1.0"
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryCount
	retryClient.RetryWaitMin = opts.RetryWaitMin
	retryClient.RetryWaitMax = opts.RetryWaitMax
	retryClient.Logger = leveledLogger{logger.Sugar()}
	// Hand the final response back instead of a "giving up" error so the
	// status reaches the caller.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	restyClient := resty.NewWithClient(retryClient.StandardClient()).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", opts.UserAgent)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = cfg.RequestsPerSecond
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	settings := opts.Breaker
	if settings.ReadyToTrip == nil {
		settings.ReadyToTrip = func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5 ||
				(counts.Requests >= 20 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.5)
		}
	}
	if settings.IsFailure == nil {
		settings.IsFailure = isUpstreamFailure
	}
	settings.OnStateChange = func(name string, from, to resilience.State) {
		logger.Warn("fetch breaker state changed",
			zap.String("breaker", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to))
	}

	return &Client{
		resty:    restyClient,
		limiter:  limiter,
		breakers: resilience.NewSet("fetch", settings),
		logger:   logger,
	}
}

// Get fetches rawURL. Non-2xx responses fail with *StatusError.
func (c *Client) Get(ctx context.Context, rawURL, accept string) (*Response, error) {
	if strings.HasPrefix(rawURL, "data:") {
		return DecodeDataURL(rawURL)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}

	done, err := c.breakers.Get(u.Host).Allow()
	if err != nil {
		return nil, fmt.Errorf("host %s unavailable: %w", u.Host, err)
	}

	resp, err := c.do(ctx, rawURL, accept)
	done(err)
	return resp, err
}

func (c *Client) do(ctx context.Context, rawURL, accept string) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	start := time.Now()
	resp, err := c.resty.R().
		SetContext(ctx).
		SetHeader("Accept", accept).
		Get(rawURL)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("fetched",
		zap.String("url", rawURL),
		zap.Int("status", resp.StatusCode()),
		zap.Duration("elapsed", time.Since(start)))

	final := rawURL
	if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		final = raw.Request.URL.String()
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, &StatusError{URL: rawURL, Status: resp.StatusCode()}
	}

	return &Response{
		URL:         final,
		Status:      resp.StatusCode(),
		ContentType: resp.Header().Get("Content-Type"),
		Body:        resp.Body(),
	}, nil
}

// BreakerStates reports per-host breaker states
func (c *Client) BreakerStates() map[string]resilience.State {
	return c.breakers.States()
}

func isUpstreamFailure(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status >= http.StatusInternalServerError
	}
	return !errors.Is(err, context.Canceled)
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
