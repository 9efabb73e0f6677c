// Package codeforces implements the Codeforces API client.
// This package handles all communication with codeforces.com, including
// fetching user submissions and profile data. All calls go through a rate
// limiter, a circuit breaker and a retrier.
package codeforces

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
	"github.com/cf-hub/cf-goal-hub/pkg/circuitbreaker"
	"github.com/cf-hub/cf-goal-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrAPIUnavailable is returned when the Codeforces API cannot be reached
	// or keeps failing. Callers treat it as "no new data" and retry later.
	ErrAPIUnavailable = errors.New("codeforces: api unavailable")

	// ErrUnknownHandle is returned when the API does not know the handle.
	ErrUnknownHandle = errors.New("codeforces: unknown handle")
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the Codeforces API client.
type ClientConfig struct {
	// BaseURL is the Codeforces API base URL.
	BaseURL string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// RequestsPerSecond caps the outgoing request rate. Codeforces bans
	// clients that exceed roughly 1 request per 2 seconds.
	RequestsPerSecond float64

	// Burst is the rate limiter burst size.
	Burst int

	// PageSize is the user.status pagination window.
	PageSize int

	// Logger for structured logging.
	Logger *slog.Logger

	// Debug enables debug logging.
	Debug bool
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:           "https://codeforces.com/api",
		Timeout:           30 * time.Second,
		RequestsPerSecond: 0.5,
		Burst:             1,
		PageSize:          1000,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the Codeforces API client.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter
	breaker    *circuitbreaker.CircuitBreaker
	retrier    *retry.Retrier
	mapper     *Mapper
}

// NewClient creates a new Codeforces API client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.PageSize <= 0 {
		config.PageSize = 1000
	}

	logger := config.Logger
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
		breaker: circuitbreaker.CodeforcesBreaker(func(name string, from, to circuitbreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		}),
		retrier: retry.CodeforcesRetrier(func(attempt int, err error, delay time.Duration) {
			logger.Debug("retrying Codeforces request",
				"attempt", attempt, "delay", delay.String(), "error", err)
		}),
		mapper:  NewMapper(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// FetchSolvedEvents fetches accepted submissions of the handle newer than
// `since` and returns them as solve events in ascending submission-time
// order. Pagination of user.status is handled internally.
func (c *Client) FetchSolvedEvents(ctx context.Context, handle shared.Handle, since time.Time) ([]shared.SolveEvent, error) {
	var all []SubmissionDTO
	from := 1

	for {
		params := url.Values{}
		params.Set("handle", handle.String())
		params.Set("from", strconv.Itoa(from))
		params.Set("count", strconv.Itoa(c.config.PageSize))

		var response APIResponse[[]SubmissionDTO]
		if err := c.doRequest(ctx, "/user.status?"+params.Encode(), &response); err != nil {
			return nil, fmt.Errorf("fetch submissions for %s: %w", handle, err)
		}

		all = append(all, response.Result...)

		if len(response.Result) < c.config.PageSize {
			break
		}

		// user.status returns submissions newest first, so once the page
		// tail is older than `since` the remaining pages are too.
		if last := response.Result[len(response.Result)-1]; !last.CreationTime().After(since) {
			break
		}

		from += c.config.PageSize
	}

	events := c.mapper.SolveEventsFromSubmissions(all, since)

	if c.config.Debug {
		c.logger.Debug("fetched solve events",
			"handle", handle, "submissions", len(all), "events", len(events))
	}
	return events, nil
}

// GetUserInfo fetches the profile of a single handle. Used to validate a
// handle before registration.
func (c *Client) GetUserInfo(ctx context.Context, handle shared.Handle) (*UserDTO, error) {
	params := url.Values{}
	params.Set("handles", handle.String())

	var response APIResponse[[]UserDTO]
	if err := c.doRequest(ctx, "/user.info?"+params.Encode(), &response); err != nil {
		return nil, fmt.Errorf("get user info for %s: %w", handle, err)
	}

	if len(response.Result) == 0 {
		return nil, ErrUnknownHandle
	}
	return &response.Result[0], nil
}

// VerifyHandle checks that the handle exists on Codeforces.
func (c *Client) VerifyHandle(ctx context.Context, handle shared.Handle) error {
	_, err := c.GetUserInfo(ctx, handle)
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// doRequest performs a GET with rate limiting, circuit breaking and retries.
func (c *Client) doRequest(ctx context.Context, path string, result interface{}) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
			return c.doSingleRequest(ctx, path, result)
		})
	})
}

// doSingleRequest performs a single HTTP request.
func (c *Client) doSingleRequest(ctx context.Context, path string, result interface{}) error {
	fullURL := c.config.BaseURL + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if c.config.Debug {
		c.logger.Debug("codeforces api request", "path", path)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return retry.Retryable(fmt.Errorf("%w: %v", ErrAPIUnavailable, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return retry.Retryable(fmt.Errorf("%w: read response: %v", ErrAPIUnavailable, err))
	}

	// Codeforces serves 429/503 under load; both are worth retrying.
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return retry.Retryable(fmt.Errorf("%w: status %d", ErrAPIUnavailable, resp.StatusCode))
	}

	// FAILED responses arrive with status 400 and a comment.
	if resp.StatusCode >= 400 {
		var failed APIResponse[json.RawMessage]
		if err := json.Unmarshal(respBody, &failed); err == nil && failed.Comment != "" {
			return retry.Permanent(classifyComment(failed.Comment))
		}
		return retry.Permanent(fmt.Errorf("%w: status %d", ErrAPIUnavailable, resp.StatusCode))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return retry.Permanent(fmt.Errorf("unmarshal response: %w", err))
	}
	return nil
}

// classifyComment maps a Codeforces failure comment to a typed error.
func classifyComment(comment string) error {
	if strings.Contains(strings.ToLower(comment), "not found") {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, comment)
	}
	return fmt.Errorf("%w: %s", ErrAPIUnavailable, comment)
}

// IsHealthy checks if the Codeforces API is reachable.
func (c *Client) IsHealthy(ctx context.Context) bool {
	var response APIResponse[json.RawMessage]
	err := c.doSingleRequest(ctx, "/problemset.recentStatus?count=1", &response)
	return err == nil && response.IsOK()
}
