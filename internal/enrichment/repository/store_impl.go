package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallcrm/leadhook/internal/clock"
	"github.com/smallcrm/leadhook/internal/enrichment/domain"
)

type store struct {
	db    *gorm.DB
	genID *snowflake.Node
	clock clock.Clock
}

// NewStore returns the gorm-backed enriched person store.
func NewStore(db *gorm.DB, genID *snowflake.Node, c clock.Clock) domain.Store {
	return &store{db: db, genID: genID, clock: c}
}

func (s *store) FindByContact(ctx context.Context, phone, email string) (*domain.Person, error) {
	if phone == "" && email == "" {
		return nil, nil
	}
	var person domain.Person
	err := s.db.WithContext(ctx).
		Raw(`SELECT * FROM enriched_persons WHERE (phone <> '' AND phone = ?) OR (email <> '' AND email = ?) ORDER BY updated_at DESC LIMIT 1`, phone, email).
		Scan(&person).Error
	if err != nil {
		return nil, err
	}
	if person.ID == 0 {
		return nil, nil
	}
	return &person, nil
}

func (s *store) Upsert(ctx context.Context, person *domain.Person) error {
	now := s.clock.Now()
	if person.ID == 0 {
		person.ID = s.genID.Generate()
	}
	if person.CreatedAt.IsZero() {
		person.CreatedAt = now
	}
	person.UpdatedAt = now
	return s.db.WithContext(ctx).Exec(`
		INSERT INTO enriched_persons (id, document, name, phone, email, attributes, lead_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (document) DO UPDATE SET
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			email = EXCLUDED.email,
			attributes = EXCLUDED.attributes,
			lead_id = EXCLUDED.lead_id,
			updated_at = EXCLUDED.updated_at`,
		person.ID, person.Document, person.Name, person.Phone, person.Email,
		person.Attributes, person.LeadID, person.CreatedAt, person.UpdatedAt,
	).Error
}
