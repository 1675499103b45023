package schedule

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vietcare/booking-gateway/pkg/logging"
)

const defaultTimeout = 15 * time.Second

// DateLayout is the wire format for schedule dates.
const DateLayout = "2006-01-02"

// Client wraps REST calls to the work-schedule service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *logging.Logger
}

// NewClient constructs a schedule REST client.
func NewClient(baseURL string, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger,
	}
}

// ListByDoctorDate returns work schedules for one doctor on one date.
func (c *Client) ListByDoctorDate(ctx context.Context, doctorID string, date time.Time) ([]WorkSchedule, error) {
	q := url.Values{}
	q.Set("doctorId", doctorID)
	q.Set("date", date.Format(DateLayout))
	path := "/api/v1/work-schedules?" + q.Encode()

	rows, err := c.list(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("list by doctor+date: %w", err)
	}
	return rows, nil
}

// ListByDoctorRange returns work schedules for a doctor across a date range,
// used by the date picker to mark days with no availability.
func (c *Client) ListByDoctorRange(ctx context.Context, doctorID string, from, to time.Time) ([]WorkSchedule, error) {
	q := url.Values{}
	q.Set("doctorId", doctorID)
	q.Set("from", from.Format(DateLayout))
	q.Set("to", to.Format(DateLayout))
	path := "/api/v1/work-schedules/range?" + q.Encode()

	rows, err := c.list(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("list by doctor+range: %w", err)
	}
	return rows, nil
}

func (c *Client) list(ctx context.Context, path string) ([]WorkSchedule, error) {
	var wrapped struct {
		Schedules []WorkSchedule `json:"schedules"`
		Data      []WorkSchedule `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &wrapped); err != nil {
		return nil, err
	}
	if len(wrapped.Schedules) > 0 {
		return wrapped.Schedules, nil
	}
	return wrapped.Data, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	endpoint := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(respBody)
		if len(msg) > 300 {
			msg = msg[:300]
		}
		c.logger.Warn("schedule API non-2xx response", "status", resp.StatusCode, "path", path, "body", msg)
		return fmt.Errorf("schedule API returned %d: %s", resp.StatusCode, msg)
	}

	if len(respBody) == 0 || out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
