package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/isdmx/botbox/config"
)

const (
	userAgent     = "botbox/" + Version
	sessionCookie = "PLAY_SESSION"
)

// Version is the client version reported in the User-Agent header
const Version = "0.1.0"

// Client talks to the remote robot service
type Client struct {
	logger  *zap.Logger
	base    *url.URL
	session string
	http    *http.Client
}

// New builds a Client from the api configuration
func New(logger *zap.Logger, cfg config.APIConfig) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid api base url %q: %w", cfg.BaseURL, err)
	}
	return &Client{
		logger:  logger,
		base:    base,
		session: cfg.Session,
		http:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// RobotInfo is the published metadata for one robot
type RobotInfo struct {
	ID   int    `json:"id"`
	Lang string `json:"lang"`
}

// RobotInfo looks up a published robot by its owner and name. A missing
// robot is reported as (nil, nil), not as an error.
func (c *Client) RobotInfo(ctx context.Context, user, robot string) (*RobotInfo, error) {
	res, err := c.get(ctx, c.endpoint("api", "getRobotSlug", user, robot))
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("robot lookup failed: %s", res.Status)
	}

	var info RobotInfo
	if err := json.NewDecoder(res.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("cannot decode robot info: %w", err)
	}
	return &info, nil
}

// RobotCode fetches the published source for a robot id. An empty string
// means the robot exists but has no published code.
func (c *Client) RobotCode(ctx context.Context, id int) (string, error) {
	res, err := c.get(ctx, c.endpoint("api", "getRobotCode", strconv.Itoa(id)))
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("robot code fetch failed: %s", res.Status)
	}

	var code string
	if err := json.NewDecoder(res.Body).Decode(&code); err != nil {
		return "", fmt.Errorf("cannot decode robot code: %w", err)
	}
	return code, nil
}

// Authenticate logs in and returns the session token to persist
func (c *Client) Authenticate(ctx context.Context, username, password string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("api", "login"), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	c.decorate(req)

	res, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("cannot send authentication request: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		for _, cookie := range res.Cookies() {
			if cookie.Name == sessionCookie {
				return cookie.Value, nil
			}
		}
		return "", fmt.Errorf("authentication succeeded but no %s cookie was set", sessionCookie)
	case http.StatusForbidden:
		return "", fmt.Errorf("incorrect username or password")
	default:
		return "", fmt.Errorf("authentication failed: %s", res.Status)
	}
}

// get performs a GET with retries on transport failure. HTTP statuses,
// including errors, pass through to the caller.
func (c *Client) get(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	c.decorate(req)

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.RetryWithData(func() (*http.Response, error) {
		res, err := c.http.Do(req)
		if err != nil {
			c.logger.Debug("request failed, retrying", zap.String("url", endpoint), zap.Error(err))
			return nil, err
		}
		return res, nil
	}, policy)
}

func (c *Client) decorate(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	if c.session != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: c.session})
	}
}

func (c *Client) endpoint(segments ...string) string {
	return c.base.JoinPath(segments...).String()
}
