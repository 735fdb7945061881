// Package client is a small HTTP client for the portal API, used by the smoke
// test and by operators scripting against a running instance.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"janseva.org/internal/ledger"
	"janseva.org/internal/registry"
)

// Client talks to one portal instance as one signed-in actor.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// Config holds client configuration.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// New creates a client. A zero Timeout means 30s.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: hc,
	}
}

// APIError is a non-2xx answer from the portal.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
	RequestID  string `json:"request_id"`
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("portal: %d %s (request %s)", e.StatusCode, e.Message, e.RequestID)
	}
	return fmt.Sprintf("portal: %d %s", e.StatusCode, e.Message)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// Session is the result of a login.
type Session struct {
	Success   bool      `json:"success"`
	Role      string    `json:"role"`
	Username  string    `json:"username"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Me describes the signed-in actor.
type Me struct {
	Username     string    `json:"username"`
	Role         string    `json:"role"`
	Panel        string    `json:"panel"`
	Capabilities []string  `json:"capabilities"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// ApplicationForm is the citizen's application.
type ApplicationForm struct {
	SchemeName string `json:"scheme_name"`
	Name       string `json:"name"`
	Age        int    `json:"age"`
	NationalID string `json:"national_id"`
	Address    string `json:"address"`
}

// ListOptions narrows ListApplications.
type ListOptions struct {
	Status string
	After  int64
	Limit  int
}

// ApplicationPage is one page of ListApplications.
type ApplicationPage struct {
	Items     []ledger.Application `json:"items"`
	NextAfter int64                `json:"next_after"`
	AsOf      time.Time            `json:"as_of"`
}

// Token returns the bearer token of the current session.
func (c *Client) Token() string { return c.token }

// WithToken returns a copy of the client acting under token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// Login opens a session and keeps its token for later calls.
func (c *Client) Login(ctx context.Context, username, password, role string) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "/v1/login", nil, map[string]string{
		"username": username,
		"password": password,
		"role":     role,
	}, &out)
	if err == nil {
		c.token = out.Token
	}
	return out, err
}

// AdminLogin opens an administrator session.
func (c *Client) AdminLogin(ctx context.Context, username, password string) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "/v1/admin/login", nil, map[string]string{
		"username": username,
		"password": password,
	}, &out)
	if err == nil {
		c.token = out.Token
	}
	return out, err
}

// Logout revokes the current session.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/v1/logout", nil, nil, nil); err != nil {
		return err
	}
	c.token = ""
	return nil
}

func (c *Client) Me(ctx context.Context) (Me, error) {
	var out Me
	err := c.do(ctx, http.MethodGet, "/v1/me", nil, nil, &out)
	return out, err
}

func (c *Client) AddScheme(ctx context.Context, name, description, eligibility string) (registry.Scheme, error) {
	var out registry.Scheme
	err := c.do(ctx, http.MethodPost, "/v1/schemes", nil, map[string]string{
		"name":        name,
		"description": description,
		"eligibility": eligibility,
	}, &out)
	return out, err
}

func (c *Client) ListSchemes(ctx context.Context) ([]registry.Scheme, error) {
	var out struct {
		Items []registry.Scheme `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/schemes", nil, nil, &out)
	return out.Items, err
}

func (c *Client) Stats(ctx context.Context) (registry.Stats, error) {
	var out registry.Stats
	err := c.do(ctx, http.MethodGet, "/v1/schemes/stats", nil, nil, &out)
	return out, err
}

// Submit files an application. A non-empty idempotencyKey makes retries safe.
func (c *Client) Submit(ctx context.Context, form ApplicationForm, idempotencyKey string) (ledger.Application, error) {
	var headers http.Header
	if idempotencyKey != "" {
		headers = http.Header{"Idempotency-Key": []string{idempotencyKey}}
	}
	var out ledger.Application
	err := c.do(ctx, http.MethodPost, "/v1/applications", headers, form, &out)
	return out, err
}

func (c *Client) ListApplications(ctx context.Context, opts ListOptions) (ApplicationPage, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.After > 0 {
		q.Set("after", strconv.FormatInt(opts.After, 10))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	path := "/v1/applications"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out ApplicationPage
	err := c.do(ctx, http.MethodGet, path, nil, nil, &out)
	return out, err
}

func (c *Client) GetApplication(ctx context.Context, id int64) (ledger.Application, error) {
	var out ledger.Application
	err := c.do(ctx, http.MethodGet, "/v1/applications/"+strconv.FormatInt(id, 10), nil, nil, &out)
	return out, err
}

// Decide approves or rejects a pending application.
func (c *Client) Decide(ctx context.Context, id int64, decision string) (ledger.Application, error) {
	var out ledger.Application
	err := c.do(ctx, http.MethodPatch, "/v1/applications/"+strconv.FormatInt(id, 10), nil,
		map[string]string{"decision": decision}, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, headers http.Header, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(respBody, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return apiErr
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
