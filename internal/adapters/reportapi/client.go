// Package reportapi executes archive jobs against the report HTTP API
package reportapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	perr "archiver/internal/platform/errors"
	"archiver/internal/platform/logger"

	"github.com/go-resty/resty/v2"
)

const (
	defaultTimeout   = 10 * time.Minute
	defaultUA        = "archiver"
	defaultMaxRetry  = 2
	defaultRetryBase = time.Second
	defaultRetryMax  = 5 * time.Second
)

// Options configures the Client
type Options struct {
	// BaseURL is the API endpoint, e.g. https://stats.example.com/index.php
	BaseURL   string
	Token     string
	UserAgent string
	Timeout   time.Duration

	// Retry config for transport failures and 5xx responses
	MaxRetries int
	RetryBase  time.Duration
}

// Client fetches report responses; it implements domain.Transport
type Client struct {
	r     *resty.Client
	token string
	log   logger.Logger
}

// NewClient creates a Client with defaults filled in
func NewClient(o Options) *Client {
	if o.UserAgent == "" {
		o.UserAgent = defaultUA
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	} else if o.MaxRetries == 0 {
		o.MaxRetries = defaultMaxRetry
	}
	if o.RetryBase <= 0 {
		o.RetryBase = defaultRetryBase
	}

	r := resty.New().
		SetBaseURL(strings.TrimRight(o.BaseURL, "/")).
		SetTimeout(o.Timeout).
		SetHeader("User-Agent", o.UserAgent).
		SetRetryCount(o.MaxRetries).
		SetRetryWaitTime(o.RetryBase).
		SetRetryMaxWaitTime(max(defaultRetryMax, o.RetryBase)).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() >= http.StatusInternalServerError
		})

	return &Client{r: r, token: o.Token, log: *logger.Named("reportapi")}
}

// Fetch posts the job query with the auth token as form data and returns
// the raw body. Non-2xx statuses are transport errors
func (c *Client) Fetch(ctx context.Context, query string) (string, error) {
	req := c.r.R().SetContext(ctx).SetQueryString(query)
	if c.token != "" {
		req.SetFormData(map[string]string{"token_auth": c.token})
	}
	resp, err := req.Post("")
	if err != nil {
		return "", perr.Wrap(err, perr.ErrorCodeTransport, "report api request")
	}
	if resp.IsError() {
		return "", perr.Transportf("report api status %d", resp.StatusCode())
	}
	c.log.Debug().Str("query", query).Int("bytes", len(resp.Body())).Dur("took", resp.Time()).Msg("report fetched")
	return resp.String(), nil
}
