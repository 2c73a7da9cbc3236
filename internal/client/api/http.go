package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/client/models"
	"github.com/dmitrijs2005/gophchat/internal/logging"
	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-retry"
)

const (
	DefaultTimeout = 10 * time.Second
	defaultRetries = 2
	maxErrorBody   = 4 << 10
)

type Options struct {
	BaseURL string
	Tokens  TokenSource
	// Timeout bounds a whole call, retries included.
	Timeout time.Duration
	// Retries is the number of extra attempts for GET requests. Zero means
	// the default of 2; a negative value disables retries.
	Retries      int
	RetryBackoff time.Duration
	HTTPClient   *http.Client
	Logger       logging.Logger
}

type HTTPClient struct {
	base     *url.URL
	tokens   TokenSource
	timeout  time.Duration
	retries  uint64
	backoff  time.Duration
	http     *http.Client
	validate *validator.Validate
	logger   logging.Logger
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(opts Options) (*HTTPClient, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid api base url %q", opts.BaseURL)
	}

	c := &HTTPClient{
		base:     base,
		tokens:   opts.Tokens,
		timeout:  opts.Timeout,
		backoff:  opts.RetryBackoff,
		http:     opts.HTTPClient,
		validate: validator.New(),
		logger:   opts.Logger,
	}
	if c.tokens == nil {
		c.tokens = StaticToken("")
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	switch {
	case opts.Retries == 0:
		c.retries = defaultRetries
	case opts.Retries > 0:
		c.retries = uint64(opts.Retries)
	}
	if c.backoff <= 0 {
		c.backoff = 200 * time.Millisecond
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.logger == nil {
		c.logger = logging.Nop()
	}
	return c, nil
}

func (c *HTTPClient) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = u.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do sends one request and decodes a 2xx JSON body into out (if non-nil).
func (c *HTTPClient) do(ctx context.Context, method, rawURL string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return mapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return mapStatus(resp.StatusCode, b)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrMalformedPayload, method, req.URL.Path, err)
	}
	return nil
}

func mapTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return unavailable(err)
}

func mapStatus(code int, body []byte) error {
	cause := fmt.Errorf("status %d: %s", code, strings.TrimSpace(string(body)))
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: %v", ErrUnauthorized, cause)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %v", ErrNotFound, cause)
	case code == http.StatusTooManyRequests || code >= 500:
		return unavailable(cause)
	default:
		return fmt.Errorf("api: %w", cause)
	}
}

// get retries transient failures within the call's timeout.
func (c *HTTPClient) get(ctx context.Context, rawURL string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	backoff := retry.WithMaxRetries(c.retries, retry.NewExponential(c.backoff))
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := c.do(ctx, http.MethodGet, rawURL, nil, out)
		if IsRetryable(err) {
			c.logger.Debug(ctx, "retrying request", "url", rawURL, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !IsRetryable(err) {
		return unavailable(err)
	}
	return err
}

func (c *HTTPClient) send(ctx context.Context, method, rawURL string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.do(ctx, method, rawURL, body, out)
}

func (c *HTTPClient) checkStruct(v any) error {
	if err := c.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

// decodeList accepts either a bare JSON array or a paginated object with a
// results array.
func decodeList[T any](raw json.RawMessage) ([]T, error) {
	trimmed := bytes.TrimSpace(raw)
	var out []T
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return out, nil
	}

	var page struct {
		Results *[]T `json:"results"`
	}
	if err := json.Unmarshal(trimmed, &page); err != nil || page.Results == nil {
		return nil, fmt.Errorf("%w: expected a list", ErrMalformedPayload)
	}
	return *page.Results, nil
}

func (c *HTTPClient) ListChannels(ctx context.Context, query string) ([]models.Channel, error) {
	q := url.Values{}
	if query != "" {
		q.Set("group_name", query)
	}

	var raw json.RawMessage
	if err := c.get(ctx, c.endpoint("/api/v1/chat-group/", q), &raw); err != nil {
		return nil, err
	}

	channels, err := decodeList[models.Channel](raw)
	if err != nil {
		return nil, err
	}
	for i := range channels {
		if err := c.checkStruct(channels[i]); err != nil {
			return nil, err
		}
	}
	return channels, nil
}

func (c *HTTPClient) GetChannel(ctx context.Context, name string) (models.Channel, error) {
	var ch models.Channel
	if err := c.get(ctx, c.endpoint("/api/v1/chat-group/"+url.PathEscape(name)+"/", nil), &ch); err != nil {
		return models.Channel{}, err
	}
	if err := c.checkStruct(ch); err != nil {
		return models.Channel{}, err
	}
	return ch, nil
}

func (c *HTTPClient) CreateChannel(ctx context.Context, in models.NewChannel) (models.Channel, error) {
	var ch models.Channel
	if err := c.send(ctx, http.MethodPost, c.endpoint("/api/v1/chat-group/", nil), in, &ch); err != nil {
		return models.Channel{}, err
	}
	if err := c.checkStruct(ch); err != nil {
		return models.Channel{}, err
	}
	return ch, nil
}

// ListMessages returns one history page, newest first. A page whose
// results are not an array, or whose records fail validation, is reported
// as ErrMalformedPayload.
func (c *HTTPClient) ListMessages(ctx context.Context, channel string, opts ListMessagesOptions) (models.MessagePage, error) {
	q := url.Values{}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.Body != "" {
		q.Set("body", opts.Body)
	}
	if !opts.CreatedAfter.IsZero() {
		q.Set("created_after", opts.CreatedAfter.UTC().Format(time.RFC3339Nano))
	}

	var page models.MessagePage
	if err := c.get(ctx, c.endpoint("/api/v1/chat-group/"+url.PathEscape(channel)+"/messages/", q), &page); err != nil {
		return models.MessagePage{}, err
	}
	if page.Results == nil {
		return models.MessagePage{}, fmt.Errorf("%w: missing results", ErrMalformedPayload)
	}
	if err := c.checkStruct(page); err != nil {
		return models.MessagePage{}, err
	}
	return page, nil
}

func (c *HTTPClient) UpdateNickname(ctx context.Context, channel, memberEmail, nickname string) error {
	body := map[string]string{"member_email": memberEmail, "nickname": nickname}
	return c.send(ctx, http.MethodPut, c.endpoint("/api/v1/membership/"+url.PathEscape(channel)+"/", nil), body, nil)
}

func (c *HTTPClient) TransportAuth(ctx context.Context) (models.TransportAuth, error) {
	var resp struct {
		TokenRequest models.TransportAuth `json:"token_request"`
	}
	if err := c.get(ctx, c.endpoint("/api/v1/ably/auth/", nil), &resp); err != nil {
		return models.TransportAuth{}, err
	}
	if err := c.checkStruct(resp.TokenRequest); err != nil {
		return models.TransportAuth{}, err
	}
	return resp.TokenRequest, nil
}

func (c *HTTPClient) ListNotifications(ctx context.Context) ([]models.Notification, error) {
	q := url.Values{"ordering": []string{"-timestamp"}}

	var raw json.RawMessage
	if err := c.get(ctx, c.endpoint("/api/v1/notifications/", q), &raw); err != nil {
		return nil, err
	}
	return decodeList[models.Notification](raw)
}

func (c *HTTPClient) MarkNotificationRead(ctx context.Context, id int64) error {
	path := "/api/v1/notifications/" + strconv.FormatInt(id, 10) + "/mark-read/"
	return c.send(ctx, http.MethodPatch, c.endpoint(path, nil), nil, nil)
}

func (c *HTTPClient) MarkAllNotificationsSeen(ctx context.Context) error {
	return c.send(ctx, http.MethodPatch, c.endpoint("/api/v1/notifications/mark-all-seen/", nil), nil, nil)
}

func (c *HTTPClient) RespondInvitation(ctx context.Context, id int64, attending bool) error {
	path := "/api/v1/movie-night-invitations/" + strconv.FormatInt(id, 10) + "/"
	body := map[string]bool{"is_attending": attending}
	return c.send(ctx, http.MethodPatch, c.endpoint(path, nil), body, nil)
}
