// Package cds talks to the Copernicus Climate Data Store API: submit a
// retrieval, poll the task until it resolves, then download the product.
package cds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// Request is the retrieval body for a reanalysis product.
type Request struct {
	ProductType string     `json:"product_type"`
	Variable    []string   `json:"variable"`
	Year        string     `json:"year"`
	Month       []string   `json:"month"`
	Day         []string   `json:"day"`
	Time        []string   `json:"time"`
	Format      string     `json:"format"`
	Area        [4]float64 `json:"area"`
}

// Client submits and polls CDS retrieval tasks. Credentials are the CDS key
// in UID:APIKEY form.
type Client struct {
	baseURL      string
	uid          string
	apiKey       string
	httpClient   *http.Client
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewClient creates a CDS client. key must be in UID:APIKEY form.
func NewClient(baseURL, key string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	uid, apiKey, ok := strings.Cut(key, ":")
	if !ok || uid == "" || apiKey == "" {
		return nil, fmt.Errorf("malformed CDS key, want UID:APIKEY")
	}
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		uid:          uid,
		apiKey:       apiKey,
		httpClient:   &http.Client{Timeout: timeout},
		pollInterval: 2 * time.Second,
		logger:       logger,
	}, nil
}

type taskStatus struct {
	State     string `json:"state"`
	RequestID string `json:"request_id"`
	Location  string `json:"location"`
	Error     struct {
		Message string `json:"message"`
		Reason  string `json:"reason"`
	} `json:"error"`
}

// Retrieve submits req for product (the CDS dataset name), waits for the task
// to complete, and writes the result to dest. The destination only ever
// appears as a complete file.
func (c *Client) Retrieve(ctx context.Context, product string, req Request, dest string) error {
	status, err := c.submit(ctx, product, req)
	if err != nil {
		return err
	}

	for status.State != "completed" {
		switch status.State {
		case "failed":
			return fmt.Errorf("cds task %s failed: %s %s",
				status.RequestID, status.Error.Message, status.Error.Reason)
		case "queued", "running", "accepted":
			if !sleepWithContext(ctx, c.pollInterval) {
				return ctx.Err()
			}
			status, err = c.poll(ctx, status.RequestID)
			if err != nil {
				return err
			}
		default:
			return fmt.Errorf("cds task %s: unexpected state %q", status.RequestID, status.State)
		}
	}

	c.logger.Info("cds task completed", "request_id", status.RequestID, "product", product)
	return c.downloadResult(ctx, status.Location, dest)
}

func (c *Client) submit(ctx context.Context, product string, req Request) (taskStatus, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return taskStatus{}, fmt.Errorf("marshal cds request: %w", err)
	}

	url := fmt.Sprintf("%s/resources/%s", c.baseURL, product)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return taskStatus{}, fmt.Errorf("create cds request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	return c.do(httpReq)
}

func (c *Client) poll(ctx context.Context, requestID string) (taskStatus, error) {
	url := fmt.Sprintf("%s/tasks/%s", c.baseURL, requestID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return taskStatus{}, fmt.Errorf("create poll request: %w", err)
	}
	return c.do(httpReq)
}

func (c *Client) do(req *http.Request) (taskStatus, error) {
	req.SetBasicAuth(c.uid, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return taskStatus{}, fmt.Errorf("cds request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return taskStatus{}, fmt.Errorf("cds API error: status %d: %s", resp.StatusCode, body)
	}

	var status taskStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return taskStatus{}, fmt.Errorf("decode cds response: %w", err)
	}
	return status, nil
}

func (c *Client) downloadResult(ctx context.Context, location, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return fmt.Errorf("create result request: %w", err)
	}
	req.SetBasicAuth(c.uid, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch cds result: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch cds result: status %d", resp.StatusCode)
	}

	tmp := dest + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	return os.Rename(tmp, dest)
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
