package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

var (
	// ErrNoDocument signals the provider cannot answer without a document
	// number; the orchestrator may retry it once a document is resolved.
	ErrNoDocument = errors.New("lookup requires a document number")
	// ErrNoData is the normal "nothing known about this contact" outcome.
	ErrNoData = errors.New("no data for contact")
	// ErrAllProvidersFailed escalates when not a single provider produced data.
	ErrAllProvidersFailed = errors.New("all enrichment providers failed")
)

// Query carries the identifying fields extracted from a lead.
type Query struct {
	LeadID   string
	Name     string
	Document string
	Phone    string
	Email    string
}

// Fragment is one provider's contribution to an enriched lead.
type Fragment struct {
	Source string
	// Documents resolved or confirmed by this provider, most confident first.
	Documents []string
	// DistinctPersons is set when the provider resolved the phone and the
	// email to different people.
	DistinctPersons bool
	Attributes      map[string]any
}

// Provider is one independent external lookup service. Lookup returns
// (nil, ErrNoData) when the contact is simply unknown; any other error is a
// provider failure the orchestrator tolerates as long as a sibling succeeds.
type Provider interface {
	Name() string
	Lookup(ctx context.Context, query Query) (*Fragment, error)
}

// EnrichedLead is the merged result of one enrichment attempt. Sources lists
// the providers that contributed; PartialErrors records the ones that did
// not, so the delivered message and the ledger can show what is missing.
type EnrichedLead struct {
	LeadID        string
	Name          string
	Phone         string
	Email         string
	Documents     []string
	SamePerson    bool
	Attributes    map[string]map[string]any
	Sources       []string
	PartialErrors map[string]string
}

// Service orchestrates the providers for a single lead.
type Service interface {
	Enrich(ctx context.Context, query Query) (*EnrichedLead, error)
}

// Person is a previously enriched individual, kept so repeat leads for a
// known phone/email skip the external providers.
type Person struct {
	ID         snowflake.ID   `json:"id" gorm:"primaryKey"`
	Document   string         `json:"document" gorm:"type:text;not null;uniqueIndex"`
	Name       string         `json:"name" gorm:"type:text"`
	Phone      string         `json:"phone" gorm:"type:text;index"`
	Email      string         `json:"email" gorm:"type:text;index"`
	Attributes datatypes.JSON `json:"attributes" gorm:"type:jsonb;not null"`
	LeadID     string         `json:"lead_id" gorm:"type:text"`
	CreatedAt  time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt  time.Time      `json:"updated_at" gorm:"not null"`
}

func (Person) TableName() string { return "enriched_persons" }

// Store persists enriched persons and answers the known-contact shortcut.
type Store interface {
	FindByContact(ctx context.Context, phone, email string) (*Person, error)
	Upsert(ctx context.Context, person *Person) error
}
