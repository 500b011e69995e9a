package crewlinesdk

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
)

// Client is a minimal Crewline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Assignment is the API assignment model.
type Assignment struct {
	ID          string  `json:"id"`
	PrimaryID   string  `json:"primary_participant_id"`
	SecondaryID *string `json:"secondary_participant_id,omitempty"`
	Couple      string  `json:"couple"`
	Date        string  `json:"date"`
	StartTime   string  `json:"start_time"`
	ArrivalTime *string `json:"arrival_time,omitempty"`
	Venue       string  `json:"venue,omitempty"`
	Location    string  `json:"location,omitempty"`
	Memo        string  `json:"memo,omitempty"`
	Status      string  `json:"status"`
}

// ProgressRecord is one participant's milestone state on an assignment.
type ProgressRecord struct {
	AssignmentID  string `json:"assignment_id"`
	ParticipantID string `json:"participant_id"`
	Role          string `json:"role"`
	Status        string `json:"status"`
	Memo          string `json:"memo,omitempty"`
	EstimatedTime string `json:"estimated_time,omitempty"`
	ReportedAt    string `json:"reported_at,omitempty"`
}

// AssignmentView pairs an assignment with its progress rows.
type AssignmentView struct {
	Assignment Assignment       `json:"assignment"`
	Progress   []ProgressRecord `json:"progress,omitempty"`
}

// ConfirmResult reports one confirmation attempt.
type ConfirmResult struct {
	AssignmentID string `json:"assignment_id"`
	Success      bool   `json:"success"`
	Confirmed    bool   `json:"confirmed"`
	Message      string `json:"message"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Confirm confirms assignments for the authenticated participant.
func (c *Client) Confirm(ctx context.Context, assignmentIDs ...string) ([]ConfirmResult, error) {
	body := map[string]any{"assignment_ids": assignmentIDs}
	var resp struct {
		Results []ConfirmResult `json:"results"`
	}
	err := c.do(ctx, http.MethodPost, "v0/assignments/confirm", body, &resp)
	return resp.Results, err
}

// Today returns the confirmed assignments for a date (empty date = today).
func (c *Client) Today(ctx context.Context, date string) ([]AssignmentView, error) {
	endpoint := "v0/assignments/today"
	if date != "" {
		endpoint += "?date=" + url.QueryEscape(date)
	}
	var resp []AssignmentView
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// PendingConfirmation is an assignment awaiting the caller's confirmation.
type PendingConfirmation struct {
	Assignment  Assignment `json:"assignment"`
	ConfirmedBy []string   `json:"confirmed_by,omitempty"`
	Confirmed   bool       `json:"confirmed"`
}

// Assigned returns assignments still awaiting the participant's confirmation.
func (c *Client) Assigned(ctx context.Context) ([]PendingConfirmation, error) {
	var resp []PendingConfirmation
	err := c.do(ctx, http.MethodGet, "v0/assignments/assigned", nil, &resp)
	return resp, err
}

// Report posts a progress milestone for an assignment.
func (c *Client) Report(ctx context.Context, assignmentID, status, memo, estimatedTime string) (ProgressRecord, error) {
	body := map[string]any{"status": status}
	if memo != "" {
		body["memo"] = memo
	}
	if estimatedTime != "" {
		body["estimated_time"] = estimatedTime
	}
	var resp ProgressRecord
	endpoint := fmt.Sprintf("v0/assignments/%s/progress", url.PathEscape(assignmentID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Progress lists the progress rows of an assignment.
func (c *Client) Progress(ctx context.Context, assignmentID string) ([]ProgressRecord, error) {
	var resp []ProgressRecord
	endpoint := fmt.Sprintf("v0/assignments/%s/progress", url.PathEscape(assignmentID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetAssignment fetches one assignment.
func (c *Client) GetAssignment(ctx context.Context, id string) (Assignment, error) {
	var resp Assignment
	endpoint := fmt.Sprintf("v0/assignments/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
