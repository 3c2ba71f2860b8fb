package crm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/smallcrm/leadhook/internal/enrichment/domain"
)

const distinctPersonsWarning = "ATTENTION: the phone and the email resolve to different people."

// FormatEnrichedMessage renders the enriched lead as the plain-text note
// posted onto the CRM timeline.
func FormatEnrichedMessage(lead *domain.EnrichedLead) string {
	var b strings.Builder
	b.WriteString("Lead enriched automatically.\n")
	if lead.Name != "" {
		fmt.Fprintf(&b, "Name: %s\n", lead.Name)
	}
	if lead.Phone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", lead.Phone)
	}
	if lead.Email != "" {
		fmt.Fprintf(&b, "Email: %s\n", lead.Email)
	}
	if len(lead.Documents) > 0 {
		fmt.Fprintf(&b, "Document: %s\n", strings.Join(lead.Documents, ", "))
	}
	if !lead.SamePerson {
		b.WriteString(distinctPersonsWarning + "\n")
	}

	for _, source := range lead.Sources {
		attrs := lead.Attributes[source]
		if len(attrs) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n[%s]\n", source)
		keys := make([]string, 0, len(attrs))
		for key := range attrs {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(&b, "%s: %s\n", key, formatValue(attrs[key]))
		}
	}

	if len(lead.PartialErrors) > 0 {
		b.WriteString("\nIncomplete sources:\n")
		names := make([]string, 0, len(lead.PartialErrors))
		for name := range lead.PartialErrors {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "- %s: %s\n", name, lead.PartialErrors[name])
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	case bool:
		if v {
			return "yes"
		}
		return "no"
	case nil:
		return "-"
	default:
		return fmt.Sprintf("%v", v)
	}
}
