package client

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/TheCacophonyProject/batterylog/estimate"
	"github.com/TheCacophonyProject/batterylog/settings"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

const (
	LogPath            = "/battery_log.csv"
	GetSettingsPath    = "/get_settings"
	UpdateSettingsPath = "/update_settings"
	EstimationsPath    = "/estimations"
)

// ServiceUnavailableError wraps any failure to reach the settings and data
// server. Callers are expected to carry on with defaults.
type ServiceUnavailableError struct {
	Endpoint string
	Status   int
	Err      error
}

func (e *ServiceUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("service unavailable at '%s': %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("service unavailable at '%s': status %d", e.Endpoint, e.Status)
}

func (e *ServiceUnavailableError) Unwrap() error {
	return e.Err
}

// Client talks to a batterylog server.
type Client struct {
	http *resty.Client
	log  logrus.FieldLogger
}

func New(baseURL string, timeout time.Duration, retries int, log logrus.FieldLogger) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Accept", "application/json")
	return &Client{http: http, log: log}
}

func (c *Client) get(ctx context.Context, path string, result interface{}) (*resty.Response, error) {
	req := c.http.R().SetContext(ctx)
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Get(path)
	if err != nil {
		return nil, &ServiceUnavailableError{Endpoint: path, Err: err}
	}
	if resp.IsError() {
		return nil, &ServiceUnavailableError{Endpoint: path, Status: resp.StatusCode()}
	}
	c.log.Debugf("GET %s: %d bytes in %s", path, len(resp.Body()), resp.Time())
	return resp, nil
}

// FetchLog downloads the raw battery log CSV.
func (c *Client) FetchLog(ctx context.Context) ([]byte, error) {
	resp, err := c.get(ctx, LogPath, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

func (c *Client) FetchSettings(ctx context.Context) (settings.Settings, error) {
	s := settings.Default()
	if _, err := c.get(ctx, GetSettingsPath, &s); err != nil {
		return settings.Default(), err
	}
	return s, nil
}

func (c *Client) FetchEstimations(ctx context.Context) (*estimate.Report, error) {
	report := &estimate.Report{}
	if _, err := c.get(ctx, EstimationsPath, report); err != nil {
		return nil, err
	}
	return report, nil
}

// UpdateSettings posts a partial visualization update. Keys may be camelCase.
func (c *Client) UpdateSettings(ctx context.Context, update map[string]interface{}) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(update).
		Post(UpdateSettingsPath)
	if err != nil {
		return &ServiceUnavailableError{Endpoint: UpdateSettingsPath, Err: err}
	}
	if resp.IsError() {
		return &ServiceUnavailableError{Endpoint: UpdateSettingsPath, Status: resp.StatusCode()}
	}
	return nil
}

// FileSource reads the log straight from disk.
type FileSource struct {
	Path string
}

func (f FileSource) FetchLog(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read battery log: %w", err)
	}
	return data, nil
}
