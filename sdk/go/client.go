package maincontrolsdk

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

// Client is a minimal maincontrol HTTP API client.
type Client struct {
	BaseURL    string
	BasePath   string
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, actorID string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "v0",
		ActorID:  actorID,
		Timeout:  10 * time.Second,
	}
}

// WorkOrder represents the API work order model.
type WorkOrder struct {
	ID          string  `json:"id"`
	OrderNumber string  `json:"order_number"`
	Customer    string  `json:"customer,omitempty"`
	Region      string  `json:"region"`
	Fabric      *string `json:"fabric,omitempty"`
	Quantity    int     `json:"quantity"`
	Status      string  `json:"status"`
	DueDate     *string `json:"due_date,omitempty"`
	Notes       string  `json:"notes,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

// NewWorkOrder is the create payload. Empty DueDate lets the server project
// one from the regional SLA.
type NewWorkOrder struct {
	OrderNumber string `json:"order_number"`
	Customer    string `json:"customer,omitempty"`
	Region      string `json:"region"`
	Fabric      string `json:"fabric,omitempty"`
	Quantity    int    `json:"quantity,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// Badge is the urgency label attached to queue rows.
type Badge struct {
	Label string `json:"label"`
	Style string `json:"style"`
}

// QueueItem is one ranked row of the production queue.
type QueueItem struct {
	WorkOrder
	PriorityScore     int     `json:"priority_score"`
	IsGroupedMaterial bool    `json:"is_grouped_material"`
	GroupMaterialName *string `json:"group_material_name,omitempty"`
	IsCanariasUrgent  bool    `json:"is_canarias_urgent"`
	PriorityLevel     string  `json:"priority_level"`
	DaysRemaining     int     `json:"days_remaining"`
	Badge             *Badge  `json:"badge,omitempty"`
}

// Budget is a regional SLA split in workdays.
type Budget struct {
	TotalDays      int `json:"total_days"`
	ReceptionDays  int `json:"reception_days"`
	ProductionDays int `json:"production_days"`
	ShippingDays   int `json:"shipping_days"`
}

// RegionBudget is the SLA detail for one region.
type RegionBudget struct {
	Region          string `json:"region"`
	Budget          Budget `json:"budget"`
	UrgentThreshold int    `json:"urgent_threshold"`
	CanaryRegion    bool   `json:"canary_region"`
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
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateWorkOrder creates a work order.
func (c *Client) CreateWorkOrder(ctx context.Context, in NewWorkOrder) (WorkOrder, error) {
	var resp WorkOrder
	err := c.do(ctx, http.MethodPost, c.apiPath("work-orders"), in, &resp)
	return resp, err
}

// WorkOrder fetches a work order by id or order number.
func (c *Client) WorkOrder(ctx context.Context, ref string) (WorkOrder, error) {
	var resp WorkOrder
	err := c.do(ctx, http.MethodGet, c.apiPath("work-orders/"+url.PathEscape(ref)), nil, &resp)
	return resp, err
}

// UpdateStatus moves a work order to status. force skips the transition table.
func (c *Client) UpdateStatus(ctx context.Context, ref, status string, force bool) (WorkOrder, error) {
	body := map[string]any{"status": status}
	if force {
		body["force"] = true
	}
	var resp WorkOrder
	err := c.do(ctx, http.MethodPatch, c.apiPath("work-orders/"+url.PathEscape(ref)), body, &resp)
	return resp, err
}

// Queue returns the ranked production queue, optionally narrowed to region.
func (c *Client) Queue(ctx context.Context, region string, limit int) ([]QueueItem, error) {
	q := url.Values{}
	if region != "" {
		q.Set("region", region)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	endpoint := c.apiPath("queue")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []QueueItem `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Breakdown returns the SLA budget for region.
func (c *Client) Breakdown(ctx context.Context, region string) (RegionBudget, error) {
	var resp RegionBudget
	err := c.do(ctx, http.MethodGet, c.apiPath("sla/regions/"+url.PathEscape(region)), nil, &resp)
	return resp, err
}

// Events returns recent events, optionally for one entity.
func (c *Client) Events(ctx context.Context, limit int, entityID string) ([]Event, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if entityID != "" {
		q.Set("entity_id", entityID)
	}
	endpoint := c.apiPath("events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
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
	if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) apiPath(p string) string {
	base := strings.Trim(c.BasePath, "/")
	if base == "" {
		return strings.TrimLeft(p, "/")
	}
	return base + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
