// Package profile fetches the attribute modules an external profile bureau
// keeps for a document number. It can only answer once a document is known,
// so the orchestrator calls it in the second round when the first round had
// to resolve the document first.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallcrm/leadhook/internal/enrichment/domain"
)

const sourceName = "profile"

type Config struct {
	BaseURL string
	Token   string
	Modules []string
	Timeout time.Duration
}

type Provider struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) *Provider {
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *Provider) Name() string { return sourceName }

type profileResponse struct {
	Status string         `json:"status"`
	Data   map[string]any `json:"data"`
}

func (p *Provider) Lookup(ctx context.Context, query domain.Query) (*domain.Fragment, error) {
	if query.Document == "" {
		return nil, domain.ErrNoDocument
	}

	endpoint := fmt.Sprintf("%s/persons/%s", p.cfg.BaseURL, url.PathEscape(query.Document))
	if len(p.cfg.Modules) > 0 {
		endpoint += "?modules=" + url.QueryEscape(strings.Join(p.cfg.Modules, ","))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.Token)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile lookup: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.ErrNoData
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("profile lookup: unexpected status %d", resp.StatusCode)
	}

	var body profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("profile lookup: decode response: %w", err)
	}
	if body.Status != "" && body.Status != "ok" {
		return nil, fmt.Errorf("profile lookup: status %q", body.Status)
	}
	if len(body.Data) == 0 {
		return nil, domain.ErrNoData
	}
	return &domain.Fragment{
		Source:     sourceName,
		Documents:  []string{query.Document},
		Attributes: body.Data,
	}, nil
}
