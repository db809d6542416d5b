// Package recommend fetches recommended titles from an outside catalog feed.
//
// The feed is best effort. Calls go through a circuit breaker so a slow or
// failing upstream is skipped quickly, and callers treat every error as
// "no recommendations".
package recommend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/sakif/community-library/internal/metrics"
)

const breakerName = "recommendations"

// maxBody bounds how much of the feed response is read.
const maxBody = 1 << 20

// Client reads the feed at URL.
type Client struct {
	url    string
	http   *http.Client
	cb     *gobreaker.CircuitBreaker[[]string]
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*settings)

type settings struct {
	timeout     time.Duration
	openTimeout time.Duration
	tripAfter   uint32
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option { return func(s *settings) { s.timeout = d } }

// WithBreaker sets how many consecutive failures open the breaker and how long
// it stays open.
func WithBreaker(tripAfter uint32, open time.Duration) Option {
	return func(s *settings) {
		s.tripAfter = tripAfter
		s.openTimeout = open
	}
}

func New(url string, logger *slog.Logger, opts ...Option) *Client {
	s := settings{timeout: 5 * time.Second, openTimeout: time.Minute, tripAfter: 3}
	for _, o := range opts {
		o(&s)
	}

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]string](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     s.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.tripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})

	return &Client{
		url:    url,
		http:   &http.Client{Timeout: s.timeout},
		cb:     cb,
		logger: logger,
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// State reports the breaker state.
func (c *Client) State() gobreaker.State { return c.cb.State() }

// Titles returns the feed's titles in feed order.
func (c *Client) Titles(ctx context.Context) ([]string, error) {
	titles, err := c.cb.Execute(func() ([]string, error) {
		return c.fetch(ctx)
	})
	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "success").Inc()
		return titles, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "rejected").Inc()
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "failure").Inc()
	}
	return nil, fmt.Errorf("recommend: %w", err)
}

func (c *Client) fetch(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("reading feed: %w", err)
	}
	return parseTitles(body)
}

// parseTitles accepts the shapes feeds commonly use:
//
//	["Title", ...]
//	{"titles": ["Title", ...]}
//	[{"title": "Title"}, ...]
func parseTitles(body []byte) ([]string, error) {
	var plain []string
	if err := json.Unmarshal(body, &plain); err == nil {
		return clean(plain), nil
	}

	var wrapped struct {
		Titles []string `json:"titles"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Titles != nil {
		return clean(wrapped.Titles), nil
	}

	var objects []struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(body, &objects); err == nil {
		out := make([]string, 0, len(objects))
		for _, o := range objects {
			out = append(out, o.Title)
		}
		return clean(out), nil
	}

	return nil, errors.New("unrecognised feed format")
}

func clean(in []string) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
