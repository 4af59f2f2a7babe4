package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lotas/studzo/internal/applog"
	"github.com/lotas/studzo/internal/types"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout       = 90 * time.Second
	defaultRatePerMinute = 60
	maxBodySize          = 8 << 20
	maxErrorSnippet      = 512
)

// Options configures a Client.
type Options struct {
	BaseURL       string
	Timeout       time.Duration
	RatePerMinute int
	UserAgent     string
	HTTPClient    *http.Client
	// Fetch resolves a url field into page text. Defaults to FetchReadable.
	Fetch Fetcher
}

// Client talks to the Analysis Service. Each Call is exactly one HTTP
// request; the rate limiter only delays it.
type Client struct {
	base      string
	http      *http.Client
	limiter   *rate.Limiter
	userAgent string
	fetch     Fetcher
}

// New creates a Client.
func New(opts Options) *Client {
	opts = normalizeOptions(opts)
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	perSecond := rate.Limit(float64(opts.RatePerMinute) / 60)
	return &Client{
		base:      strings.TrimRight(opts.BaseURL, "/"),
		http:      hc,
		limiter:   rate.NewLimiter(perSecond, opts.RatePerMinute),
		userAgent: opts.UserAgent,
		fetch:     opts.Fetch,
	}
}

func normalizeOptions(opts Options) Options {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RatePerMinute <= 0 {
		opts.RatePerMinute = defaultRatePerMinute
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = "studzo-cli"
	}
	if opts.Fetch == nil {
		opts.Fetch = FetchReadable
	}
	return opts
}

// Call sends one request to the given endpoint and returns the raw body.
// body may be nil for GET requests. Failures to complete the exchange,
// including non-2xx statuses, are TransportFailure errors.
func (c *Client) Call(ctx context.Context, method, endpoint string, body any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, types.Wrap(types.KindTransportFailure, "rate limit wait", err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	reqID := uuid.NewString()
	req.Header.Set("X-Request-ID", reqID)

	applog.Info("analysis.request", "endpoint", endpoint, "id", reqID)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, types.Wrap(types.KindTransportFailure, endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, types.Wrap(types.KindTransportFailure, "read "+endpoint, err)
	}
	if len(data) > maxBodySize {
		applog.Info("analysis.oversize", "endpoint", endpoint, "id", reqID)
		return nil, &types.Error{
			Kind: types.KindTransportFailure,
			Msg:  fmt.Sprintf("%s response exceeds %d MiB", endpoint, maxBodySize>>20),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		applog.Info("analysis.status", "endpoint", endpoint, "id", reqID, "code", resp.StatusCode)
		snippet := types.Truncate(string(data), maxErrorSnippet)
		return nil, &types.Error{
			Kind: types.KindTransportFailure,
			Msg:  fmt.Sprintf("%s returned HTTP %d", endpoint, resp.StatusCode),
			Raw:  snippet,
		}
	}
	return data, nil
}

// Invoke runs one mode of the catalog with the given input.
func (c *Client) Invoke(ctx context.Context, m Mode, in Input) ([]byte, error) {
	in, err := c.resolveURL(ctx, m, in)
	if err != nil {
		return nil, err
	}
	var body any
	if m.Method != http.MethodGet {
		body = m.Body(in)
	}
	return c.Call(ctx, m.Method, m.Endpoint, body)
}

// resolveURL replaces an empty text field with the readable text of the
// page given in the url field, for modes that accept one.
func (c *Client) resolveURL(ctx context.Context, m Mode, in Input) (Input, error) {
	if m.TextField == "" {
		return in, nil
	}
	link := strings.TrimSpace(in.Fields["url"])
	if strings.TrimSpace(in.Fields[m.TextField]) != "" || link == "" {
		return in, nil
	}

	_, text, err := c.fetch(ctx, link)
	if err != nil {
		return in, types.Wrap(types.KindTransportFailure, "fetch listing", err)
	}
	fields := make(map[string]string, len(in.Fields)+1)
	for k, v := range in.Fields {
		fields[k] = v
	}
	fields[m.TextField] = text
	in.Fields = fields
	return in, nil
}

type notificationRequest struct {
	UserID  int    `json:"user_id"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

// SendNotification asks the service to push a notification to userID.
func (c *Client) SendNotification(ctx context.Context, userID int, message, category string) error {
	if category == "" {
		category = "info"
	}
	_, err := c.Call(ctx, http.MethodPost, "/ai/send-notification", notificationRequest{
		UserID:  userID,
		Message: message,
		Type:    category,
	})
	return err
}
