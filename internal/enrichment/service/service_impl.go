package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/smallcrm/leadhook/internal/config"
	"github.com/smallcrm/leadhook/internal/enrichment/domain"
	"github.com/smallcrm/leadhook/internal/observability/metrics"
)

// storedSource marks results answered from the enriched person store
// instead of the external providers.
const storedSource = "history"

type Params struct {
	fx.In

	Log       *zap.Logger
	Config    config.Config
	Store     domain.Store
	Metrics   *metrics.Metrics
	Providers []domain.Provider `group:"enrichment.providers"`
}

type service struct {
	log       *zap.Logger
	cfg       config.Config
	store     domain.Store
	metrics   *metrics.Metrics
	providers []domain.Provider
}

func NewService(p Params) domain.Service {
	return &service{
		log:       p.Log.Named("enrichment.service"),
		cfg:       p.Config,
		store:     p.Store,
		metrics:   p.Metrics,
		providers: p.Providers,
	}
}

func (s *service) Enrich(ctx context.Context, query domain.Query) (*domain.EnrichedLead, error) {
	query.Phone = domain.NormalizePhone(query.Phone, s.cfg.Enrichment.DefaultPhonePrefix)
	query.Email = domain.NormalizeEmail(query.Email)
	if query.Document == "" && query.Phone == "" && query.Email == "" {
		return nil, domain.ErrNoData
	}

	if query.Document == "" {
		person, err := s.store.FindByContact(ctx, query.Phone, query.Email)
		if err != nil {
			s.log.Warn("known contact lookup failed", zap.String("lead_id", query.LeadID), zap.Error(err))
		} else if person != nil {
			s.log.Info("known contact, skipping providers",
				zap.String("lead_id", query.LeadID),
				zap.String("document", person.Document),
			)
			return fromStored(query, person), nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Enrichment.AggregateTimeout)
	defer cancel()

	round := s.fanOut(ctx, query, s.providers)

	// Providers that cannot answer without a document get a second round
	// once a sibling has resolved one.
	if len(round.needDocument) > 0 {
		if doc := firstDocument(round.fragments); doc != "" {
			retryQuery := query
			retryQuery.Document = doc
			second := s.fanOut(ctx, retryQuery, round.needDocument)
			round.fragments = append(round.fragments, second.fragments...)
			for name, msg := range second.failures {
				round.failures[name] = msg
			}
			for name, msg := range second.misses {
				round.misses[name] = msg
			}
		} else {
			for _, provider := range round.needDocument {
				round.misses[provider.Name()] = domain.ErrNoDocument.Error()
			}
		}
	}

	if len(round.fragments) == 0 {
		if len(round.failures) > 0 {
			return nil, fmt.Errorf("%w: %v", domain.ErrAllProvidersFailed, round.failures)
		}
		return nil, domain.ErrNoData
	}

	partial := round.failures
	for name, msg := range round.misses {
		partial[name] = msg
	}
	lead := merge(query, round.fragments, partial)
	s.persist(ctx, lead)
	return lead, nil
}

// roundResult separates hard provider failures from the benign "nothing
// known" misses: only the former count toward total enrichment failure.
type roundResult struct {
	fragments    []*domain.Fragment
	failures     map[string]string
	misses       map[string]string
	needDocument []domain.Provider
}

// fanOut runs every provider concurrently under the per-provider timeout.
func (s *service) fanOut(ctx context.Context, query domain.Query, providers []domain.Provider) *roundResult {
	var mu sync.Mutex
	round := &roundResult{
		failures: map[string]string{},
		misses:   map[string]string{},
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, provider := range providers {
		g.Go(func() error {
			lookupCtx, cancel := context.WithTimeout(ctx, s.cfg.Enrichment.ProviderTimeout)
			defer cancel()

			fragment, err := provider.Lookup(lookupCtx, query)
			s.metrics.RecordProviderLookup(ctx, provider.Name(), err == nil)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, domain.ErrNoDocument):
				round.needDocument = append(round.needDocument, provider)
			case errors.Is(err, domain.ErrNoData):
				round.misses[provider.Name()] = domain.ErrNoData.Error()
			case err != nil:
				s.log.Warn("provider lookup failed",
					zap.String("provider", provider.Name()),
					zap.String("lead_id", query.LeadID),
					zap.Error(err),
				)
				round.failures[provider.Name()] = err.Error()
			default:
				round.fragments = append(round.fragments, fragment)
			}
			return nil
		})
	}
	_ = g.Wait()
	return round
}

func firstDocument(fragments []*domain.Fragment) string {
	for _, fragment := range fragments {
		if len(fragment.Documents) > 0 {
			return fragment.Documents[0]
		}
	}
	return ""
}

func merge(query domain.Query, fragments []*domain.Fragment, partial map[string]string) *domain.EnrichedLead {
	lead := &domain.EnrichedLead{
		LeadID:        query.LeadID,
		Name:          query.Name,
		Phone:         query.Phone,
		Email:         query.Email,
		SamePerson:    true,
		Attributes:    map[string]map[string]any{},
		PartialErrors: partial,
	}

	seen := map[string]bool{}
	for _, fragment := range fragments {
		lead.Sources = append(lead.Sources, fragment.Source)
		lead.Attributes[fragment.Source] = fragment.Attributes
		if fragment.DistinctPersons {
			lead.SamePerson = false
		}
		for _, doc := range fragment.Documents {
			if !seen[doc] {
				seen[doc] = true
				lead.Documents = append(lead.Documents, doc)
			}
		}
		if lead.Name == "" {
			if name, ok := fragment.Attributes["name"].(string); ok {
				lead.Name = name
			}
		}
	}
	sort.Strings(lead.Sources)
	return lead
}

func fromStored(query domain.Query, person *domain.Person) *domain.EnrichedLead {
	attrs := map[string]any{}
	_ = json.Unmarshal(person.Attributes, &attrs)

	name := query.Name
	if name == "" {
		name = person.Name
	}
	return &domain.EnrichedLead{
		LeadID:     query.LeadID,
		Name:       name,
		Phone:      query.Phone,
		Email:      query.Email,
		Documents:  []string{person.Document},
		SamePerson: true,
		Attributes: map[string]map[string]any{storedSource: attrs},
		Sources:    []string{storedSource},
	}
}

// persist writes the primary document back to the store so the next lead
// from the same contact takes the shortcut. Failures only log.
func (s *service) persist(ctx context.Context, lead *domain.EnrichedLead) {
	if len(lead.Documents) == 0 {
		return
	}
	attrs := map[string]any{}
	for _, sourceAttrs := range lead.Attributes {
		for key, value := range sourceAttrs {
			attrs[key] = value
		}
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		raw = []byte("{}")
	}
	person := &domain.Person{
		Document:   lead.Documents[0],
		Name:       lead.Name,
		Phone:      lead.Phone,
		Email:      lead.Email,
		Attributes: datatypes.JSON(raw),
		LeadID:     lead.LeadID,
	}
	if err := s.store.Upsert(ctx, person); err != nil {
		s.log.Warn("persist enriched person failed",
			zap.String("lead_id", lead.LeadID),
			zap.String("document", person.Document),
			zap.Error(err),
		)
	}
}
