package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vietcare/booking-gateway/pkg/logging"
)

const defaultTimeout = 15 * time.Second

// ErrPriceNotFound is returned when no fee row exists for a service name.
// Callers fall back to the configured default appointment price.
var ErrPriceNotFound = errors.New("catalog: price not found")

// Client wraps REST calls to the disease/doctor catalog service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *logging.Logger
}

// NewClient constructs a catalog REST client.
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

// WithHTTPClient overrides the underlying HTTP client, mainly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.httpClient = hc
	}
	return c
}

// ListServices lists active disease types offered for booking.
func (c *Client) ListServices(ctx context.Context) ([]Service, error) {
	var wrapped struct {
		Services []Service `json:"services"`
		Data     []Service `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/diseases", nil, &wrapped); err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	if len(wrapped.Services) > 0 {
		return wrapped.Services, nil
	}
	return wrapped.Data, nil
}

// ListDoctors lists doctors offering the named service.
func (c *Client) ListDoctors(ctx context.Context, serviceName string) ([]Doctor, error) {
	q := url.Values{}
	q.Set("service", serviceName)
	path := "/api/v1/doctors?" + q.Encode()

	var wrapped struct {
		Doctors []Doctor `json:"doctors"`
		Data    []Doctor `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &wrapped); err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	if len(wrapped.Doctors) > 0 {
		return wrapped.Doctors, nil
	}
	return wrapped.Data, nil
}

// GetPrice looks up the fee row by service/type name.
func (c *Client) GetPrice(ctx context.Context, typeName string) (*Price, error) {
	q := url.Values{}
	q.Set("type", typeName)
	path := "/api/v1/prices?" + q.Encode()

	var wrapped struct {
		Prices []Price `json:"prices"`
		Data   []Price `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &wrapped); err != nil {
		return nil, fmt.Errorf("get price: %w", err)
	}
	rows := wrapped.Prices
	if len(rows) == 0 {
		rows = wrapped.Data
	}
	for i := range rows {
		if strings.EqualFold(rows[i].Type, typeName) {
			return &rows[i], nil
		}
	}
	return nil, ErrPriceNotFound
}

// CreateDisease adds a disease type to the catalog.
func (c *Client) CreateDisease(ctx context.Context, req DiseaseRequest) (*Service, error) {
	var out Service
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/diseases", req, &out); err != nil {
		return nil, fmt.Errorf("create disease: %w", err)
	}
	return &out, nil
}

// UpdateDisease updates a disease type by id.
func (c *Client) UpdateDisease(ctx context.Context, id string, req DiseaseRequest) (*Service, error) {
	path := "/api/v1/diseases/" + url.PathEscape(id)
	var out Service
	if err := c.doJSON(ctx, http.MethodPut, path, req, &out); err != nil {
		return nil, fmt.Errorf("update disease: %w", err)
	}
	return &out, nil
}

// DeleteDisease removes a disease type by id.
func (c *Client) DeleteDisease(ctx context.Context, id string) error {
	path := "/api/v1/diseases/" + url.PathEscape(id)
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete disease: %w", err)
	}
	return nil
}

// ImportDiseases forwards an uploaded spreadsheet to the catalog importer.
// The gateway never parses the file; bytes pass through untouched.
func (c *Client) ImportDiseases(ctx context.Context, filename string, contentType string, file io.Reader) (*ImportResult, error) {
	endpoint := c.baseURL + "/api/v1/diseases/import?filename=" + url.QueryEscape(filename)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, file)
	if err != nil {
		return nil, fmt.Errorf("import diseases: build request: %w", err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("import diseases: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("import diseases: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("import diseases: catalog returned %d: %s", resp.StatusCode, truncate(body))
	}

	var out ImportResult
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("import diseases: decode response: %w", err)
	}
	return &out, nil
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
		msg := truncate(respBody)
		c.logger.Warn("catalog API non-2xx response", "status", resp.StatusCode, "path", path, "body", msg)
		return fmt.Errorf("catalog API returned %d: %s", resp.StatusCode, msg)
	}

	if len(respBody) == 0 || out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(b []byte) string {
	msg := string(b)
	if len(msg) > 300 {
		msg = msg[:300]
	}
	return msg
}
