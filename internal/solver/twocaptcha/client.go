// Package twocaptcha implements scraper.Solver against the 2Captcha HTTP API.
package twocaptcha

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/paddockdata/racepipe/internal/scraper"
)

// Config controls the API client.
type Config struct {
	APIKey       string
	BaseURL      string
	PollInterval time.Duration
	SolveTimeout time.Duration
}

// Client submits hCaptcha tasks and polls for tokens.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

const (
	defaultBaseURL      = "https://2captcha.com"
	defaultPollInterval = 5 * time.Second
	defaultSolveTimeout = 3 * time.Minute
)

// New builds a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("twocaptcha: api key required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.SolveTimeout <= 0 {
		cfg.SolveTimeout = defaultSolveTimeout
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}, nil
}

type apiResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

// Solve submits the captcha and polls until a token is ready or the solve
// window closes.
func (c *Client) Solve(ctx context.Context, req scraper.SolveRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SolveTimeout)
	defer cancel()

	taskID, err := c.submit(ctx, req)
	if err != nil {
		return "", err
	}
	c.logger.Debug("captcha task submitted", zap.String("task_id", taskID))

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("captcha solve window closed: %w", ctx.Err())
		case <-ticker.C:
			token, ready, pollErr := c.poll(ctx, taskID)
			if pollErr != nil {
				return "", pollErr
			}
			if ready {
				return token, nil
			}
		}
	}
}

func (c *Client) submit(ctx context.Context, req scraper.SolveRequest) (string, error) {
	form := url.Values{
		"key":     {c.cfg.APIKey},
		"method":  {"hcaptcha"},
		"sitekey": {req.SiteKey},
		"pageurl": {req.PageURL},
		"json":    {"1"},
	}
	if req.RQData != "" {
		form.Set("data", req.RQData)
		// rqdata-bearing widgets are the enterprise variant and require the
		// matching browser identity.
		form.Set("invisible", "1")
	}
	if req.UserAgent != "" {
		form.Set("userAgent", req.UserAgent)
	}

	resp, err := c.postForm(ctx, c.cfg.BaseURL+"/in.php", form)
	if err != nil {
		return "", fmt.Errorf("submit captcha: %w", err)
	}
	if resp.Status != 1 {
		return "", fmt.Errorf("submit captcha rejected: %s", resp.Request)
	}
	return resp.Request, nil
}

// poll returns (token, ready, error). CAPCHA_NOT_READY means keep waiting.
func (c *Client) poll(ctx context.Context, taskID string) (string, bool, error) {
	query := url.Values{
		"key":    {c.cfg.APIKey},
		"action": {"get"},
		"id":     {taskID},
		"json":   {"1"},
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/res.php?"+query.Encode(), nil)
	if err != nil {
		return "", false, fmt.Errorf("build poll request: %w", err)
	}
	resp, err := c.do(httpReq)
	if err != nil {
		return "", false, fmt.Errorf("poll captcha: %w", err)
	}
	if resp.Status == 1 {
		return resp.Request, true, nil
	}
	if resp.Request == "CAPCHA_NOT_READY" {
		return "", false, nil
	}
	return "", false, fmt.Errorf("captcha solve failed: %s", resp.Request)
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) (apiResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return apiResponse{}, fmt.Errorf("build submit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(httpReq)
}

func (c *Client) do(req *http.Request) (apiResponse, error) {
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return apiResponse{}, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return apiResponse{}, fmt.Errorf("read api response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return apiResponse{}, fmt.Errorf("api status %d: %s", httpResp.StatusCode, strings.TrimSpace(string(body)))
	}

	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return apiResponse{}, fmt.Errorf("decode api response: %w", err)
	}
	return resp, nil
}
