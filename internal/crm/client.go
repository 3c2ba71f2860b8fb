// Package crm talks to the downstream CRM: fetching leads, updating them,
// and posting the enriched summary message onto a lead's timeline.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallcrm/leadhook/internal/config"
	"github.com/smallcrm/leadhook/internal/observability/metrics"
)

// DeliveryError is a CRM response outside the 2xx range. StatusCode 0 means
// the request never got a response.
type DeliveryError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("crm request failed: %v", e.Err)
	}
	return fmt.Sprintf("crm responded %d: %s", e.StatusCode, e.Body)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Retryable reports whether a later attempt could succeed. Network failures
// and 5xx/429 responses are transient; other 4xx responses are not.
func (e *DeliveryError) Retryable() bool {
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Lead is the subset of CRM lead fields the pipeline reads.
type Lead struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Phone     string         `json:"phone"`
	Email     string         `json:"email"`
	Document  string         `json:"document"`
	Stage     string         `json:"stage"`
	Fields    map[string]any `json:"fields"`
	UpdatedAt string         `json:"updated_at"`
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *zap.Logger
	metrics *metrics.Metrics
}

type Params struct {
	fx.In

	Log     *zap.Logger
	Config  config.Config
	Metrics *metrics.Metrics
}

func NewClient(p Params) *Client {
	if p.Log == nil {
		p.Log = zap.NewNop()
	}
	return &Client{
		baseURL: p.Config.CRM.BaseURL,
		token:   p.Config.CRM.Token,
		http:    &http.Client{Timeout: p.Config.CRM.Timeout},
		log:     p.Log.Named("crm.client"),
		metrics: p.Metrics,
	}
}

// GetLead fetches a single lead. A 404 returns (nil, nil).
func (c *Client) GetLead(ctx context.Context, leadID string) (*Lead, error) {
	var lead Lead
	found, err := c.do(ctx, http.MethodGet, "/leads/"+url.PathEscape(leadID), nil, &lead)
	if err != nil || !found {
		return nil, err
	}
	return &lead, nil
}

// ListLeads pages through leads, newest first.
func (c *Client) ListLeads(ctx context.Context, limit, offset int) ([]Lead, error) {
	path := "/leads?limit=" + strconv.Itoa(limit) + "&offset=" + strconv.Itoa(offset)
	var body struct {
		Leads []Lead `json:"leads"`
	}
	if _, err := c.do(ctx, http.MethodGet, path, nil, &body); err != nil {
		return nil, err
	}
	return body.Leads, nil
}

// SendMessage posts a note onto the lead's timeline. A 404 means the lead
// was deleted between ingestion and delivery; the message is dropped and the
// event still completes, since no retry could ever deliver it.
func (c *Client) SendMessage(ctx context.Context, leadID, text string) error {
	payload := map[string]string{"text": text}
	found, err := c.do(ctx, http.MethodPost, "/leads/"+url.PathEscape(leadID)+"/messages", payload, nil)
	if err == nil && !found {
		c.log.Warn("lead no longer exists, dropping message", zap.String("lead_id", leadID))
	}
	c.metrics.RecordDelivery(ctx, err == nil)
	return err
}

// UpdateLead patches custom fields on the lead.
func (c *Client) UpdateLead(ctx context.Context, leadID string, fields map[string]any) error {
	payload := map[string]any{"fields": fields}
	_, err := c.do(ctx, http.MethodPatch, "/leads/"+url.PathEscape(leadID), payload, nil)
	return err
}

// do issues one request. It returns found=false for 404 so callers can treat
// a missing lead as absence rather than failure.
func (c *Client) do(ctx context.Context, method, path string, payload, out any) (bool, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return false, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, &DeliveryError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return false, &DeliveryError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, fmt.Errorf("decode crm response: %w", err)
		}
	}
	return true, nil
}

var Module = fx.Module("crm",
	fx.Provide(NewClient),
)
