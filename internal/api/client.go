package api

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

	"tracksync/internal/infrastructure/logging"
)

const maxErrorBody = 4096

// TimerRequest creates a timelog, or updates it when TimelogID is set
type TimerRequest struct {
	TimelogID             string     `json:"timelogId,omitempty"`
	EmployeeID            string     `json:"employeeId"`
	ProjectID             string     `json:"projectId,omitempty"`
	TaskID                string     `json:"taskId,omitempty"`
	OrganizationTeamID    string     `json:"organizationTeamId,omitempty"`
	OrganizationContactID string     `json:"organizationContactId,omitempty"`
	Description           string     `json:"description,omitempty"`
	StartedAt             time.Time  `json:"startedAt"`
	StoppedAt             *time.Time `json:"stoppedAt,omitempty"`
	Duration              int64      `json:"duration"`
	IsStartedOffline      bool       `json:"isStartedOffline"`
	IsStoppedOffline      bool       `json:"isStoppedOffline"`
	Version               string     `json:"version,omitempty"`
	Source                string     `json:"source"`
}

// TimerResponse holds the remote correlation ids
type TimerResponse struct {
	TimelogID   string `json:"timelogId"`
	TimesheetID string `json:"timesheetId"`
	TimeslotID  string `json:"timeslotId"`
}

// TimeSlotRequest is one interval in a batch upload
type TimeSlotRequest struct {
	LocalID               int64           `json:"localId"`
	TimelogID             string          `json:"timelogId"`
	EmployeeID            string          `json:"employeeId"`
	ProjectID             string          `json:"projectId,omitempty"`
	TaskID                string          `json:"taskId,omitempty"`
	OrganizationContactID string          `json:"organizationContactId,omitempty"`
	StartedAt             time.Time       `json:"startedAt"`
	StoppedAt             time.Time       `json:"stoppedAt"`
	Keyboard              int64           `json:"keyboard"`
	Mouse                 int64           `json:"mouse"`
	Overall               int64           `json:"overall"`
	Duration              int64           `json:"duration"`
	Activities            json.RawMessage `json:"activities,omitempty"`
	Screenshots           json.RawMessage `json:"screenshots,omitempty"`
}

// TimeSlotResult is the per-item outcome, in request order
type TimeSlotResult struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

func (r TimeSlotResult) OK() bool {
	return r.ID != "" && r.Error == ""
}

type timeSlotBatch struct {
	Items []TimeSlotRequest `json:"items"`
}

type timeSlotBatchResult struct {
	Items []TimeSlotResult `json:"items"`
}

// Client talks to the remote timesheet API
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Tokens  TokenSource
	logger  logging.Logger
	now     func() time.Time
}

func NewClient(baseURL string, timeout time.Duration, tokens TokenSource, logger logging.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
		Tokens:  tokens,
		logger:  logger,
		now:     time.Now,
	}
}

// Host is recorded on synced intervals as their api host
func (c *Client) Host() string {
	return c.BaseURL
}

func (c *Client) CreateTimer(ctx context.Context, req TimerRequest) (TimerResponse, error) {
	if req.Source == "" {
		req.Source = "DESKTOP"
	}
	var resp TimerResponse
	if err := c.do(ctx, http.MethodPost, "/timesheet/timer", req, &resp); err != nil {
		return TimerResponse{}, err
	}
	if resp.TimelogID == "" {
		return TimerResponse{}, fmt.Errorf("%w: response has no timelogId", ErrRejected)
	}
	return resp, nil
}

// CreateTimeSlots uploads a batch; results line up with items by index
func (c *Client) CreateTimeSlots(ctx context.Context, items []TimeSlotRequest) ([]TimeSlotResult, error) {
	if len(items) == 0 {
		return nil, nil
	}
	var resp timeSlotBatchResult
	if err := c.do(ctx, http.MethodPost, "/timesheet/time-slot", timeSlotBatch{Items: items}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Items) != len(items) {
		return nil, fmt.Errorf("%w: sent %d time slots, got %d results", ErrRejected, len(items), len(resp.Items))
	}
	return resp.Items, nil
}

// DeleteTimeSlot removes a remote slot; one that is already gone counts as deleted
func (c *Client) DeleteTimeSlot(ctx context.Context, remoteID string) error {
	err := c.do(ctx, http.MethodDelete, "/timesheet/time-slot/"+url.PathEscape(remoteID), nil, nil)
	var se *StatusError
	if asStatus(err, &se) && se.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	token, err := c.Tokens.Token(ctx)
	if err != nil {
		return err
	}
	if tokenExpired(token, c.now()) {
		return fmt.Errorf("%w: token expired", ErrUnauthorized)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.HTTP.Do(req)
	if err != nil {
		c.logger.Debug("API request failed", "method", method, "path", path, "error", err)
		return transportError(ctx, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("API request completed", "method", method, "path", path,
		"status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return statusError(resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", ErrRejected, err)
	}
	return nil
}
