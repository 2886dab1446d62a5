// Package identity talks to the remote identity provider. It carries
// no session state of its own; callers own persistence and retry
// policy.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sessguard/sessguard/session"
)

const (
	loginPath   = "/auth/login"
	refreshPath = "/auth/refresh"

	requestTimeout = 15 * time.Second

	headerSystemID   = "X-System-Id"
	headerInstanceID = "X-Instance-Id"
)

// ErrRejected means the provider understood the request and refused
// it: bad credentials or a revoked refresh token. Not retryable.
var ErrRejected = errors.New("identity: provider rejected the request")

// ErrUnavailable means the provider could not be reached or answered
// with a server error. Retryable.
var ErrUnavailable = errors.New("identity: provider unavailable")

// Credentials is a username/password pair submitted for sign-in.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Grant is the provider's answer to a successful login or refresh.
type Grant struct {
	Token        string              `json:"token"`
	RefreshToken string              `json:"refreshToken,omitempty"`
	User         session.UserProfile `json:"user"`
}

// Client performs remote authentication calls.
type Client interface {
	Login(ctx context.Context, creds Credentials) (*Grant, error)
	Refresh(ctx context.Context, refreshToken string) (*Grant, error)
}

// ClientContext identifies the calling installation to the provider.
// InstanceID is generated per process when left empty.
type ClientContext struct {
	SystemID   string
	InstanceID string
}

// HTTPClient is the production Client over the provider's HTTP API.
type HTTPClient struct {
	baseURL string
	cctx    ClientContext
	http    *http.Client
	logger  zerolog.Logger
}

func NewHTTPClient(baseURL string, cctx ClientContext, logger zerolog.Logger) (*HTTPClient, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil, errors.New("identity: base URL required")
	}
	if cctx.InstanceID == "" {
		cctx.InstanceID = uuid.NewString()
	}

	return &HTTPClient{
		baseURL: baseURL,
		cctx:    cctx,
		http:    &http.Client{Timeout: requestTimeout},
		logger:  logger,
	}, nil
}

func (c *HTTPClient) Login(ctx context.Context, creds Credentials) (*Grant, error) {
	if creds.Username == "" || creds.Password == "" {
		return nil, fmt.Errorf("%w: missing credentials", ErrRejected)
	}
	return c.post(ctx, loginPath, creds)
}

func (c *HTTPClient) Refresh(ctx context.Context, refreshToken string) (*Grant, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: missing refresh token", ErrRejected)
	}
	body := struct {
		RefreshToken string `json:"refreshToken"`
	}{RefreshToken: refreshToken}
	return c.post(ctx, refreshPath, body)
}

func (c *HTTPClient) post(ctx context.Context, path string, payload any) (*Grant, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("identity: marshal request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("identity: build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cctx.SystemID != "" {
		req.Header.Set(headerSystemID, c.cctx.SystemID)
	}
	req.Header.Set(headerInstanceID, c.cctx.InstanceID)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("identity provider unreachable")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var grant Grant
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&grant); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrUnavailable, err)
	}
	if grant.Token == "" {
		return nil, fmt.Errorf("%w: response carried no token", ErrUnavailable)
	}
	return &grant, nil
}
