package hibp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"golang.org/x/time/rate"

	"BreachWatch/internal/domain"
	"BreachWatch/internal/ports"
)

const (
	DefaultBaseURL   = "https://haveibeenpwned.com/api/v3"
	DefaultUserAgent = "BreachWatch/1.0"

	defaultTimeout    = 20 * time.Second
	defaultRetryAfter = 60 * time.Second
)

// KeySource yields the API key at call time so rotated keys apply without a restart.
type KeySource interface {
	HIBPAPIKey(ctx context.Context) (string, error)
}

// RPMSource is optionally implemented by the KeySource. The limiter then follows
// budget changes made at runtime.
type RPMSource interface {
	RPMLimit(ctx context.Context) (int, error)
}

// Options tunes the client. RPM > 0 enables a process-wide limiter shared by paced
// runs and on-demand scans.
type Options struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	RPM       int
	Logger    *slog.Logger
}

// Client looks up breaches of an account in Have I Been Pwned.
type Client struct {
	http    *req.Client
	keys    KeySource
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ ports.BreachLookup = (*Client)(nil)

// NewClient builds a client with sensible defaults for empty options.
func NewClient(keys KeySource, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	client := &Client{
		http: req.C().
			SetBaseURL(strings.TrimSuffix(opts.BaseURL, "/")).
			SetUserAgent(opts.UserAgent).
			SetTimeout(opts.Timeout),
		keys:   keys,
		logger: opts.Logger,
	}
	if opts.RPM > 0 {
		client.limiter = rate.NewLimiter(perMinute(opts.RPM), 1)
	}
	return client
}

// Lookup never retries; the outcome tells the caller what happened.
func (c *Client) Lookup(ctx context.Context, address string) domain.LookupOutcome {
	key, err := c.keys.HIBPAPIKey(ctx)
	if err != nil {
		return domain.ConfigErrorOutcome(fmt.Errorf("load HIBP API key: %w", err))
	}
	if key == "" {
		return domain.ConfigErrorOutcome(domain.ErrMissingAPIKey)
	}

	if err := c.wait(ctx); err != nil {
		return domain.TransientOutcome(0, fmt.Errorf("wait for request slot: %w", err))
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("hibp-api-key", key).
		SetPathParam("account", address).
		SetQueryParam("truncateResponse", "false").
		Get("/breachedaccount/{account}")
	if err != nil {
		return domain.TransientOutcome(0, fmt.Errorf("request breaches: %w", err))
	}

	outcome := classify(resp.StatusCode, resp.Header, resp.Bytes())
	c.debug("lookup finished", "status", resp.StatusCode, "outcome", outcome.Kind.String())
	return outcome
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if src, ok := c.keys.(RPMSource); ok {
		if rpm, err := src.RPMLimit(ctx); err == nil && rpm > 0 {
			if limit := perMinute(rpm); limit != c.limiter.Limit() {
				c.limiter.SetLimit(limit)
			}
		}
	}
	return c.limiter.Wait(ctx)
}

func perMinute(rpm int) rate.Limit {
	return rate.Every(time.Minute / time.Duration(rpm))
}

func classify(status int, header http.Header, body []byte) domain.LookupOutcome {
	switch {
	case status == http.StatusNotFound:
		return domain.EmptyOutcome()
	case status == http.StatusTooManyRequests:
		return domain.RateLimitedOutcome(retryAfter(header.Get("retry-after")))
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.AuthErrorOutcome(status)
	case status < 200 || status >= 300:
		return domain.TransientOutcome(status, nil)
	}

	breaches, err := decodeBreaches(body)
	if err != nil {
		return domain.TransientOutcome(status, err)
	}
	return domain.SuccessOutcome(breaches)
}

// retryAfter reads the header as whole seconds.
func retryAfter(value string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || seconds < 0 {
		return defaultRetryAfter
	}
	return time.Duration(seconds) * time.Second
}

type breachPayload struct {
	Name        string   `json:"Name"`
	Title       string   `json:"Title"`
	Domain      string   `json:"Domain"`
	BreachDate  string   `json:"BreachDate"`
	AddedDate   string   `json:"AddedDate"`
	Description string   `json:"Description"`
	DataClasses []string `json:"DataClasses"`
	PwnCount    int64    `json:"PwnCount"`
	IsVerified  bool     `json:"IsVerified"`
}

func decodeBreaches(body []byte) ([]domain.Breach, error) {
	var payload []breachPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode breaches: %w", err)
	}

	breaches := make([]domain.Breach, 0, len(payload))
	for _, p := range payload {
		classes := p.DataClasses
		if classes == nil {
			classes = []string{}
		}
		breaches = append(breaches, domain.Breach{
			Name:        p.Name,
			Title:       p.Title,
			Domain:      p.Domain,
			BreachDate:  parseDate(p.BreachDate),
			AddedDate:   parseDate(p.AddedDate),
			Description: p.Description,
			DataClasses: classes,
			PwnCount:    p.PwnCount,
			IsVerified:  p.IsVerified,
		})
	}
	return breaches, nil
}

// parseDate accepts the date-only and RFC 3339 forms the API uses.
func parseDate(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if ts, err := time.Parse(layout, value); err == nil {
			return &ts
		}
	}
	return nil
}

func (c *Client) debug(msg string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}
