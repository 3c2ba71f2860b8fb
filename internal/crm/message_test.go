package crm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/smallcrm/leadhook/internal/enrichment/domain"
)

func TestFormatEnrichedMessage(t *testing.T) {
	lead := &domain.EnrichedLead{
		LeadID:     "42",
		Name:       "Maria Souza",
		Phone:      "+5511998765432",
		Email:      "maria@example.com",
		Documents:  []string{"12345678901"},
		SamePerson: true,
		Attributes: map[string]map[string]any{
			"directory": {"name": "Maria Souza"},
			"profile":   {"city": "Campinas", "age": float64(34), "verified": true},
		},
		Sources: []string{"directory", "profile"},
	}

	message := FormatEnrichedMessage(lead)
	assert.Contains(t, message, "Name: Maria Souza")
	assert.Contains(t, message, "Document: 12345678901")
	assert.Contains(t, message, "[profile]")
	assert.Contains(t, message, "city: Campinas")
	assert.Contains(t, message, "age: 34")
	assert.Contains(t, message, "verified: yes")
	assert.NotContains(t, message, distinctPersonsWarning)
	assert.NotContains(t, message, "Incomplete sources")
	assert.False(t, strings.HasSuffix(message, "\n"))
}

func TestFormatEnrichedMessageDistinctPersons(t *testing.T) {
	lead := &domain.EnrichedLead{
		LeadID:     "42",
		Documents:  []string{"11111111111", "22222222222"},
		SamePerson: false,
		Attributes: map[string]map[string]any{},
	}

	message := FormatEnrichedMessage(lead)
	assert.Contains(t, message, distinctPersonsWarning)
	assert.Contains(t, message, "11111111111, 22222222222")
}

func TestFormatEnrichedMessagePartialErrors(t *testing.T) {
	lead := &domain.EnrichedLead{
		LeadID:     "42",
		Name:       "Maria",
		Documents:  []string{"12345678901"},
		SamePerson: true,
		Attributes: map[string]map[string]any{
			"directory": {"name": "Maria"},
		},
		Sources:       []string{"directory"},
		PartialErrors: map[string]string{"profile": "connection refused"},
	}

	message := FormatEnrichedMessage(lead)
	assert.Contains(t, message, "Incomplete sources:")
	assert.Contains(t, message, "- profile: connection refused")
}
