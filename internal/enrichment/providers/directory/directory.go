// Package directory looks a phone number or email address up in an external
// contact directory and resolves it to the owner's document number.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/smallcrm/leadhook/internal/enrichment/domain"
)

const sourceName = "directory"

type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
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

type lookupMatch struct {
	Document string `json:"document"`
	Name     string `json:"name"`
}

type lookupResponse struct {
	Results []lookupMatch `json:"results"`
}

// Lookup resolves the query's phone and email independently. When both
// resolve to different people the fragment is flagged so the delivered
// message can warn about it.
func (p *Provider) Lookup(ctx context.Context, query domain.Query) (*domain.Fragment, error) {
	byPhone, phoneErr := p.lookupContact(ctx, "phone", query.Phone)
	byEmail, emailErr := p.lookupContact(ctx, "email", query.Email)
	// A lookup failure only degrades to a miss when the other contact field
	// was actually queried and answered; otherwise an outage would be
	// misreported as a clean absence.
	if phoneErr != nil && (emailErr != nil || query.Email == "") {
		return nil, phoneErr
	}
	if emailErr != nil && query.Phone == "" {
		return nil, emailErr
	}

	fragment := &domain.Fragment{Source: sourceName, Attributes: map[string]any{}}
	seen := map[string]bool{}
	for _, match := range append(byPhone, byEmail...) {
		if match.Document == "" || seen[match.Document] {
			continue
		}
		seen[match.Document] = true
		fragment.Documents = append(fragment.Documents, match.Document)
		if match.Name != "" && fragment.Attributes["name"] == nil {
			fragment.Attributes["name"] = match.Name
		}
	}
	if len(fragment.Documents) == 0 {
		return nil, domain.ErrNoData
	}
	fragment.DistinctPersons = len(byPhone) > 0 && len(byEmail) > 0 && byPhone[0].Document != byEmail[0].Document
	return fragment, nil
}

func (p *Provider) lookupContact(ctx context.Context, field, value string) ([]lookupMatch, error) {
	if value == "" {
		return nil, nil
	}
	endpoint := fmt.Sprintf("%s/lookup?%s=%s", p.cfg.BaseURL, field, url.QueryEscape(value))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(p.cfg.Username, p.cfg.Password)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory %s lookup: %w", field, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("directory %s lookup: unexpected status %d", field, resp.StatusCode)
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("directory %s lookup: decode response: %w", field, err)
	}
	return body.Results, nil
}
