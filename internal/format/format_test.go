package format

import (
	"strings"
	"testing"

	"github.com/DidelotK/mcp-hubspot/internal/crm"
	"github.com/DidelotK/mcp-hubspot/internal/embedx"
)

func TestListRendersStanzaPerEntity(t *testing.T) {
	entities := []crm.Entity{
		{ID: "1", Properties: map[string]string{"firstname": "Ada", "lastname": "Lovelace", "email": "ada@example.com"}},
		{ID: "2", Properties: map[string]string{"firstname": "Grace", "lastname": "Hopper"}},
	}

	out := List(crm.KindContact, entities)
	if !strings.Contains(out, "(2 found)") {
		t.Fatalf("missing count: %s", out)
	}
	if !strings.Contains(out, "Ada Lovelace") || !strings.Contains(out, "Grace Hopper") {
		t.Fatalf("missing names: %s", out)
	}
	if !strings.Contains(out, "ada@example.com") {
		t.Fatalf("missing email: %s", out)
	}
	if strings.Contains(out, "- Phone:") {
		t.Fatalf("empty field should be omitted: %s", out)
	}
}

func TestDealRendersFormattedAmount(t *testing.T) {
	e := crm.Entity{ID: "42", Properties: map[string]string{
		"dealname": "Acme Renewal", "amount": "12500.5", "currency": "USD", "dealstage": "closedwon",
	}}

	out := Deal(e)
	if !strings.Contains(out, "$12,500.50") {
		t.Fatalf("expected formatted amount, got: %s", out)
	}
	if !strings.Contains(out, "Acme Renewal") {
		t.Fatalf("missing deal name: %s", out)
	}
}

func TestFormatAmountDefaultsToEuro(t *testing.T) {
	got := formatAmount("1000", "")
	if !strings.HasPrefix(got, "€") {
		t.Fatalf("expected euro default, got %q", got)
	}
}

func TestFormatAmountUnparsable(t *testing.T) {
	got := formatAmount("not-a-number", "USD")
	if got != "$not-a-number" {
		t.Fatalf("got %q", got)
	}
}

func TestGroupThousands(t *testing.T) {
	tests := []struct {
		value float64
		want  string
	}{
		{0, "0.00"},
		{999, "999.00"},
		{1000, "1,000.00"},
		{1234567.891, "1,234,567.89"},
		{-42.5, "-42.50"},
	}
	for _, tt := range tests {
		if got := groupThousands(tt.value); got != tt.want {
			t.Errorf("groupThousands(%v) = %q, want %q", tt.value, got, tt.want)
		}
	}
}

func TestPropertiesGroupsAndTruncatesOptions(t *testing.T) {
	descriptors := []crm.PropertyDescriptor{
		{Name: "dealstage", Label: "Deal Stage", Type: "enumeration", GroupName: "dealinformation", Options: []crm.PropertyOption{
			{Label: "Appointment"}, {Label: "Qualified"}, {Label: "Proposal"}, {Label: "Closed Won"}, {Label: "Closed Lost"},
		}},
		{Name: "dealname", Label: "Deal Name", Type: "string", GroupName: "dealinformation"},
	}

	out := Properties(crm.KindDeal, descriptors)
	if !strings.Contains(out, "## dealinformation") {
		t.Fatalf("missing group header: %s", out)
	}
	if !strings.Contains(out, "and 2 others") {
		t.Fatalf("expected truncated options: %s", out)
	}
	// Label sort: "Deal Name" < "Deal Stage"
	if strings.Index(out, "Deal Name") > strings.Index(out, "Deal Stage") {
		t.Fatalf("expected Deal Name before Deal Stage: %s", out)
	}
}

func TestNotFound(t *testing.T) {
	out := NotFound("Deal", `No deal named "X" was found.`)
	if !strings.Contains(out, "❌") || !strings.Contains(out, "Deal Not Found") {
		t.Fatalf("unexpected: %s", out)
	}
}

func TestSemanticSearchRendersHits(t *testing.T) {
	hits := []embedx.SearchHit{
		{ID: "1", Kind: crm.KindContact, Score: 0.91, Snippet: "firstname: Ada"},
	}
	out := SemanticSearch("ada lovelace", hits)
	if !strings.Contains(out, "(1 found)") || !strings.Contains(out, "0.910") {
		t.Fatalf("unexpected: %s", out)
	}
}

func TestEmbeddingsReportClearBranch(t *testing.T) {
	out := EmbeddingsReport("clear", nil, 3)
	if !strings.Contains(out, "Embeddings Cleared") || !strings.Contains(out, "3") {
		t.Fatalf("unexpected: %s", out)
	}
}

func TestEmbeddingsReportBuildBranch(t *testing.T) {
	report := &embedx.BuildReport{
		PerKind: map[crm.EntityKind]embedx.KindBuildResult{
			crm.KindContact: {Count: 10, Status: embedx.StatusReady},
		},
		SuccessfulEntityTypes: 1,
		TotalEntitiesLoaded:   10,
	}
	out := EmbeddingsReport("build", report, 0)
	if !strings.Contains(out, "Embeddings Build") {
		t.Fatalf("unexpected: %s", out)
	}
	if !strings.Contains(out, "contact") {
		t.Fatalf("missing kind row: %s", out)
	}
}

func TestCacheInfoAndCleared(t *testing.T) {
	out := CacheInfo(5, 1000, 300, []string{"abcdef012345"})
	if !strings.Contains(out, "5 / 1000") || !strings.Contains(out, "300s") {
		t.Fatalf("unexpected: %s", out)
	}

	out = CacheCleared(1)
	if !strings.Contains(out, "1 entry removed") {
		t.Fatalf("expected singular form: %s", out)
	}
	out = CacheCleared(2)
	if !strings.Contains(out, "2 entries removed") {
		t.Fatalf("expected plural form: %s", out)
	}
}

func TestLoadReport(t *testing.T) {
	out := LoadReport(map[crm.EntityKind]int{crm.KindContact: 10, crm.KindDeal: 5}, true)
	if !strings.Contains(out, "15 total") {
		t.Fatalf("unexpected total: %s", out)
	}
	if !strings.Contains(out, "embeddings build triggered") {
		t.Fatalf("missing embeddings note: %s", out)
	}
}
