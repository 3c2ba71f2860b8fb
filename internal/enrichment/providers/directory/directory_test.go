package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallcrm/leadhook/internal/enrichment/domain"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(Config{
		BaseURL:  server.URL,
		Username: "svc",
		Password: "secret",
		Timeout:  time.Second,
	})
}

func TestLookupResolvesDocuments(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "svc", user)
		require.Equal(t, "secret", pass)

		var doc string
		switch {
		case r.URL.Query().Get("phone") != "":
			doc = "12345678901"
		case r.URL.Query().Get("email") != "":
			doc = "12345678901"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]string{{"document": doc, "name": "Maria Souza"}},
		})
	})

	fragment, err := provider.Lookup(context.Background(), domain.Query{
		Phone: "+5511998765432",
		Email: "maria@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"12345678901"}, fragment.Documents)
	assert.Equal(t, "Maria Souza", fragment.Attributes["name"])
	assert.False(t, fragment.DistinctPersons)
}

func TestLookupDistinctPersons(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		doc := "11111111111"
		if r.URL.Query().Get("email") != "" {
			doc = "22222222222"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]string{{"document": doc}},
		})
	})

	fragment, err := provider.Lookup(context.Background(), domain.Query{
		Phone: "+5511998765432",
		Email: "maria@example.com",
	})
	require.NoError(t, err)
	assert.True(t, fragment.DistinctPersons)
	assert.Len(t, fragment.Documents, 2)
}

func TestLookupNoData(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := provider.Lookup(context.Background(), domain.Query{Phone: "+5511998765432"})
	assert.ErrorIs(t, err, domain.ErrNoData)
}

func TestLookupServerError(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := provider.Lookup(context.Background(), domain.Query{Phone: "+5511998765432"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNoData)

	_, err = provider.Lookup(context.Background(), domain.Query{Email: "maria@example.com"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNoData)
}

func TestLookupOneContactDown(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("phone") != "" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]string{{"document": "12345678901"}},
		})
	})

	fragment, err := provider.Lookup(context.Background(), domain.Query{
		Phone: "+5511998765432",
		Email: "maria@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"12345678901"}, fragment.Documents)
}
