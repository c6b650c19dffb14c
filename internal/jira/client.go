package jira

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"sprintreport/internal/config"
	"sprintreport/internal/domain"
)

// APIError is a non-2xx response from Jira.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("jira api status=%d body=%s", e.Status, e.Body)
}

func (e *APIError) retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Client provides HTTP access to a Jira instance. It satisfies engine.Tracker.
type Client struct {
	BaseURL    string
	Username   string
	Password   string
	APIVersion string
	HTTPClient *http.Client

	// MaxRetries bounds retries of 429/5xx and network failures.
	MaxRetries      uint64
	InitialInterval time.Duration

	log zerolog.Logger
}

func NewClient(cfg config.JiraConfig, log zerolog.Logger) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.VerifyTLS() {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // strict_ssl: false
	}
	return &Client{
		BaseURL:         cfg.BaseURL(),
		Username:        cfg.Username,
		Password:        cfg.Password,
		APIVersion:      cfg.APIVersion,
		HTTPClient:      &http.Client{Timeout: cfg.Timeout, Transport: transport},
		MaxRetries:      3,
		InitialInterval: 300 * time.Millisecond,
		log:             log.With().Str("component", "jira").Logger(),
	}
}

// Search runs one page of a JQL search.
func (c *Client) Search(ctx context.Context, jql string, startAt, max int) (domain.SearchPage, error) {
	if strings.TrimSpace(jql) == "" {
		return domain.SearchPage{}, errors.New("jira: empty jql")
	}
	q := url.Values{}
	q.Set("jql", jql)
	q.Set("startAt", strconv.Itoa(startAt))
	q.Set("maxResults", strconv.Itoa(max))
	q.Set("fields", "*all")
	var page domain.SearchPage
	if err := c.getJSON(ctx, c.apiPath("search"), q, &page); err != nil {
		return domain.SearchPage{}, fmt.Errorf("search startAt=%d: %w", startAt, err)
	}
	return page, nil
}

// FetchIssue fetches a single issue with all fields.
func (c *Client) FetchIssue(ctx context.Context, key string) (domain.RawIssue, error) {
	if key == "" {
		return domain.RawIssue{}, errors.New("jira: empty issue key")
	}
	q := url.Values{}
	q.Set("fields", "*all")
	var issue domain.RawIssue
	if err := c.getJSON(ctx, c.apiPath("issue/"+url.PathEscape(key)), q, &issue); err != nil {
		return domain.RawIssue{}, fmt.Errorf("get issue %s: %w", key, err)
	}
	return issue, nil
}

// ListFields returns the instance field catalog.
func (c *Client) ListFields(ctx context.Context) ([]domain.Field, error) {
	var fields []domain.Field
	if err := c.getJSON(ctx, c.apiPath("field"), nil, &fields); err != nil {
		return nil, fmt.Errorf("list fields: %w", err)
	}
	return fields, nil
}

// BrowseURL is the human-facing link for an issue.
func (c *Client) BrowseURL(key string) string {
	return c.BaseURL + "/browse/" + key
}

func (c *Client) apiPath(p string) string {
	v := c.APIVersion
	if v == "" {
		v = "2"
	}
	return "/rest/api/" + v + "/" + p
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	if c.BaseURL == "" {
		return errors.New("jira: empty baseURL")
	}
	u := strings.TrimRight(c.BaseURL, "/") + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var body []byte
	op := func() error {
		b, err := c.do(ctx, http.MethodGet, u)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && !apiErr.retryable() {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		body = b
		return nil
	}
	b := backoff.NewExponentialBackOff()
	if c.InitialInterval > 0 {
		b.InitialInterval = c.InitialInterval
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.MaxRetries), ctx)
	notify := func(err error, wait time.Duration) {
		c.log.Warn().Err(err).Str("url", path).Dur("retry_in", wait).Msg("jira request failed, retrying")
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse jira response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setAuth(req)
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return b, nil
}

// setAuth uses basic auth when a username is configured and a bearer token otherwise.
func (c *Client) setAuth(req *http.Request) {
	switch {
	case c.Username != "":
		req.SetBasicAuth(c.Username, c.Password)
	case c.Password != "":
		req.Header.Set("Authorization", "Bearer "+c.Password)
	}
}
