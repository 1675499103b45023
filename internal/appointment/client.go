package appointment

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

const defaultTimeout = 20 * time.Second

// Client wraps REST calls to the appointment service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *logging.Logger
}

// NewClient constructs an appointment REST client.
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

// HasAppointment reports whether the patient already holds an appointment on
// the given work schedule. Used as the conflict check before slot selection.
func (c *Client) HasAppointment(ctx context.Context, patientID, workScheduleID string) (bool, error) {
	q := url.Values{}
	q.Set("patientId", patientID)
	q.Set("workScheduleId", workScheduleID)
	path := "/api/v1/appointments/lookup?" + q.Encode()

	var out struct {
		Exists       bool          `json:"exists"`
		Appointments []Appointment `json:"appointments"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return false, fmt.Errorf("lookup appointment: %w", err)
	}
	return out.Exists || len(out.Appointments) > 0, nil
}

// Create books the appointment after a verified payment.
func (c *Client) Create(ctx context.Context, req CreateRequest) (*Appointment, error) {
	var out Appointment
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/appointments", req, &out); err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}
	return &out, nil
}

// ListCancelled returns cancelled appointments awaiting refund review.
func (c *Client) ListCancelled(ctx context.Context) ([]Appointment, error) {
	var wrapped struct {
		Appointments []Appointment `json:"appointments"`
		Data         []Appointment `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/appointments?status=cancelled", nil, &wrapped); err != nil {
		return nil, fmt.Errorf("list cancelled: %w", err)
	}
	if len(wrapped.Appointments) > 0 {
		return wrapped.Appointments, nil
	}
	return wrapped.Data, nil
}

// MarkRefunded records a refund/payback against a cancelled appointment.
func (c *Client) MarkRefunded(ctx context.Context, appointmentID string, req RefundRequest) error {
	path := "/api/v1/appointments/" + url.PathEscape(appointmentID) + "/refund"
	if err := c.doJSON(ctx, http.MethodPost, path, req, nil); err != nil {
		return fmt.Errorf("mark refunded: %w", err)
	}
	return nil
}

// LookupBankAccount resolves the owner of a refund destination account.
func (c *Client) LookupBankAccount(ctx context.Context, accountNumber, bankCode string) (*BankAccount, error) {
	q := url.Values{}
	q.Set("number", accountNumber)
	q.Set("bank", bankCode)
	path := "/api/v1/bank-accounts/lookup?" + q.Encode()

	var out BankAccount
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("lookup bank account: %w", err)
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
		msg := string(respBody)
		if len(msg) > 300 {
			msg = msg[:300]
		}
		c.logger.Warn("appointment API non-2xx response", "status", resp.StatusCode, "path", path, "body", msg)
		return fmt.Errorf("appointment API returned %d: %s", resp.StatusCode, msg)
	}

	if len(respBody) == 0 || out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
