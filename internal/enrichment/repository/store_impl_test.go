package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smallcrm/leadhook/internal/clock"
	"github.com/smallcrm/leadhook/internal/enrichment/domain"
)

func setupStore(t *testing.T) (domain.Store, *clock.FakeClock) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:store_memdb?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.Exec(`DROP TABLE IF EXISTS enriched_persons`).Error)
	require.NoError(t, db.Exec(`CREATE TABLE enriched_persons (
		id BIGINT PRIMARY KEY,
		document TEXT NOT NULL UNIQUE,
		name TEXT,
		phone TEXT,
		email TEXT,
		attributes TEXT NOT NULL,
		lead_id TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`).Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewStore(db, node, fake), fake
}

func TestStoreUpsertAndFind(t *testing.T) {
	store, fake := setupStore(t)
	ctx := context.Background()

	person := &domain.Person{
		Document:   "12345678901",
		Name:       "Maria Souza",
		Phone:      "+5511998765432",
		Email:      "maria@example.com",
		Attributes: datatypes.JSON(`{"city":"Campinas"}`),
		LeadID:     "42",
	}
	require.NoError(t, store.Upsert(ctx, person))

	t.Run("find by phone", func(t *testing.T) {
		found, err := store.FindByContact(ctx, "+5511998765432", "")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, "12345678901", found.Document)
	})

	t.Run("find by email", func(t *testing.T) {
		found, err := store.FindByContact(ctx, "", "maria@example.com")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, "Maria Souza", found.Name)
	})

	t.Run("unknown contact", func(t *testing.T) {
		found, err := store.FindByContact(ctx, "+5500000000000", "nobody@example.com")
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("blank contact never matches", func(t *testing.T) {
		found, err := store.FindByContact(ctx, "", "")
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("upsert same document updates in place", func(t *testing.T) {
		fake.Advance(time.Hour)
		update := &domain.Person{
			Document:   "12345678901",
			Name:       "Maria S. Souza",
			Phone:      "+5511998765432",
			Email:      "maria@example.com",
			Attributes: datatypes.JSON(`{"city":"Campinas","income_band":"B"}`),
			LeadID:     "77",
		}
		require.NoError(t, store.Upsert(ctx, update))

		found, err := store.FindByContact(ctx, "+5511998765432", "")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, "Maria S. Souza", found.Name)
		assert.Equal(t, "77", found.LeadID)
		assert.Contains(t, string(found.Attributes), "income_band")
	})
}
