// Package format renders deterministic, pure Markdown for every tool result
// shape (spec component C2). Every exported function is side-effect free;
// the fenced JSON half of a tool's output is produced by JSONBlock, kept
// separate from the Markdown text per the two-content-item MCP wire shape.
package format

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/DidelotK/mcp-hubspot/internal/crm"
	"github.com/DidelotK/mcp-hubspot/internal/embedx"
)

func emojiFor(kind crm.EntityKind) string {
	switch kind {
	case crm.KindContact:
		return "👤"
	case crm.KindCompany:
		return "🏢"
	case crm.KindDeal:
		return "💰"
	case crm.KindEngagement:
		return "📅"
	default:
		return "📄"
	}
}

func titleFor(kind crm.EntityKind) string {
	switch kind {
	case crm.KindContact:
		return "Contacts"
	case crm.KindCompany:
		return "Companies"
	case crm.KindDeal:
		return "Deals"
	case crm.KindEngagement:
		return "Engagements"
	default:
		return string(kind)
	}
}

// JSONBlock fences v as a ```json code block, the second of the two text
// content items every tool result carries.
func JSONBlock(v any) string {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		raw = []byte(fmt.Sprintf("%v", v))
	}
	return "```json\n" + string(raw) + "\n```"
}

// NotFound renders the standard "not found" Markdown pattern.
func NotFound(kind, reason string) string {
	return fmt.Sprintf("❌ **%s Not Found**\n\n%s", kind, reason)
}

// List renders a title line plus one stanza per entity, in a stable field
// ordering per kind.
func List(kind crm.EntityKind, entities []crm.Entity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s **%s** (%d found)\n", emojiFor(kind), titleFor(kind), len(entities))

	for _, e := range entities {
		b.WriteString("\n")
		b.WriteString(stanza(kind, e))
		b.WriteString("\n")
	}

	return b.String()
}

func stanza(kind crm.EntityKind, e crm.Entity) string {
	p := e.Properties
	var b strings.Builder

	switch kind {
	case crm.KindContact:
		name := strings.TrimSpace(p["firstname"] + " " + p["lastname"])
		if name == "" {
			name = "(no name)"
		}
		fmt.Fprintf(&b, "**%s**\n", name)
		writeField(&b, "Email", p["email"])
		writeField(&b, "Phone", p["phone"])
		writeField(&b, "Job Title", p["jobtitle"])
		writeField(&b, "Company", p["company"])
		writeField(&b, "Lifecycle Stage", p["lifecyclestage"])
		fmt.Fprintf(&b, "- ID: %s\n", e.ID)
	case crm.KindCompany:
		name := p["name"]
		if name == "" {
			name = "(no name)"
		}
		fmt.Fprintf(&b, "**%s**\n", name)
		writeField(&b, "Domain", p["domain"])
		writeField(&b, "Industry", p["industry"])
		writeField(&b, "Employees", p["numberofemployees"])
		writeField(&b, "City", p["city"])
		writeField(&b, "Country", p["country"])
		fmt.Fprintf(&b, "- ID: %s\n", e.ID)
	case crm.KindDeal:
		name := p["dealname"]
		if name == "" {
			name = "(no name)"
		}
		fmt.Fprintf(&b, "**%s**\n", name)
		if amount, ok := p["amount"]; ok && amount != "" {
			fmt.Fprintf(&b, "- Amount: %s\n", formatAmount(amount, p["currency"]))
		}
		writeField(&b, "Stage", p["dealstage"])
		writeField(&b, "Pipeline", p["pipeline"])
		writeField(&b, "Close Date", p["closedate"])
		writeField(&b, "Owner", p["hubspot_owner_id"])
		fmt.Fprintf(&b, "- ID: %s\n", e.ID)
	case crm.KindEngagement:
		kindName := p["engagementType"]
		if kindName == "" {
			kindName = "(engagement)"
		}
		fmt.Fprintf(&b, "**%s**\n", kindName)
		writeField(&b, "Subject", p["subject"])
		writeField(&b, "Created", p["createdate"])
		writeField(&b, "Owner", p["ownerId"])
		fmt.Fprintf(&b, "- ID: %s\n", e.ID)
	default:
		fmt.Fprintf(&b, "**%s**\n- ID: %s\n", kind, e.ID)
	}

	return b.String()
}

func writeField(b *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "- %s: %s\n", label, value)
}

var currencySymbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"JPY": "¥",
}

// formatAmount renders a raw numeric-string amount with thousands
// separators and two decimal places, prefixed by the given currency's
// symbol (defaulting to €).
func formatAmount(raw, currency string) string {
	symbol, ok := currencySymbols[strings.ToUpper(currency)]
	if !ok {
		symbol = "€"
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return symbol + raw
	}

	return symbol + groupThousands(value)
}

func groupThousands(value float64) string {
	sign := ""
	if value < 0 {
		sign = "-"
		value = -value
	}

	whole := int64(value)
	cents := int64((value-float64(whole))*100 + 0.5)
	if cents == 100 {
		whole++
		cents = 0
	}

	digits := strconv.FormatInt(whole, 10)
	var grouped strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(d)
	}

	return fmt.Sprintf("%s%s.%02d", sign, grouped.String(), cents)
}

// Deal renders a single deal, e.g. the result of create_deal/update_deal/
// get_deal_by_name.
func Deal(e crm.Entity) string {
	return stanza(crm.KindDeal, e)
}

// Properties renders a property schema grouped by groupName, groups in
// encounter order, properties within a group ordered by label ascending.
// Enumerations list their first 3 option labels then "... and K others".
func Properties(kind crm.EntityKind, descriptors []crm.PropertyDescriptor) string {
	groups := map[string][]crm.PropertyDescriptor{}
	var groupOrder []string
	for _, d := range descriptors {
		if _, seen := groups[d.GroupName]; !seen {
			groupOrder = append(groupOrder, d.GroupName)
		}
		groups[d.GroupName] = append(groups[d.GroupName], d)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📋 **%s Properties** (%d found)\n", titleFor(kind), len(descriptors))

	for _, group := range groupOrder {
		items := groups[group]
		sort.Slice(items, func(i, j int) bool { return items[i].Label < items[j].Label })

		name := group
		if name == "" {
			name = "(ungrouped)"
		}
		fmt.Fprintf(&b, "\n## %s\n", name)

		for _, d := range items {
			fmt.Fprintf(&b, "- **%s** (`%s`): %s", d.Label, d.Name, d.Type)
			if d.Description != "" {
				fmt.Fprintf(&b, " — %s", d.Description)
			}
			b.WriteString("\n")

			if len(d.Options) > 0 {
				n := len(d.Options)
				shown := n
				if shown > 3 {
					shown = 3
				}
				labels := make([]string, shown)
				for i := 0; i < shown; i++ {
					labels[i] = d.Options[i].Label
				}
				line := strings.Join(labels, ", ")
				if n > 3 {
					line = fmt.Sprintf("%s, ... and %d others", line, n-3)
				}
				fmt.Fprintf(&b, "  Options: %s\n", line)
			}
		}
	}

	return b.String()
}

// SemanticSearch renders semantic/hybrid/auto search results.
func SemanticSearch(query string, hits []embedx.SearchHit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔎 **Semantic Search Results** for %q (%d found)\n", query, len(hits))

	for _, h := range hits {
		fmt.Fprintf(&b, "\n- %s %s (score %.3f)\n  %s\n", emojiFor(h.Kind), h.ID, h.Score, h.Snippet)
	}

	return b.String()
}

// EmbeddingsReport renders a manage_hubspot_embeddings report (build,
// rebuild, or clear result).
func EmbeddingsReport(action string, report *embedx.BuildReport, cleared int) string {
	var b strings.Builder

	switch action {
	case "clear":
		fmt.Fprintf(&b, "🧹 **Embeddings Cleared** (%d kind(s))\n", cleared)
		return b.String()
	default:
		fmt.Fprintf(&b, "🧠 **Embeddings %s** — %d/%d kinds succeeded, %d entities loaded\n",
			capitalize(action), report.SuccessfulEntityTypes, len(report.PerKind), report.TotalEntitiesLoaded)
	}

	kinds := sortedKinds(report.PerKind)
	for _, k := range kinds {
		r := report.PerKind[k]
		status := "✅"
		if r.Error != "" {
			status = "❌"
		}
		fmt.Fprintf(&b, "- %s %s: %d records, status=%s", status, k, r.Count, r.Status)
		if r.Error != "" {
			fmt.Fprintf(&b, " (%s)", r.Error)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// Stats renders a manage_hubspot_embeddings(info) / browse(stats) payload.
func Stats(stats embedx.StatsReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 **Embedding Index Stats**\n- Total records: %d\n- Model: %s\n- Dimension: %d\n",
		stats.TotalCount, stats.ModelName, stats.Dimension)

	for _, k := range sortedKinds(stats.PerKind) {
		s := stats.PerKind[k]
		fmt.Fprintf(&b, "- %s: %d records, status=%s\n", k, s.Count, s.Status)
	}

	return b.String()
}

// Browse renders a browse_hubspot_indexed_data(list/search) page.
func Browse(page *embedx.BrowsePage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📚 **Indexed Data** (%d of %d, offset %d)\n", len(page.Entries), page.Total, page.Offset)

	for _, e := range page.Entries {
		fmt.Fprintf(&b, "\n- %s %s\n", emojiFor(e.Kind), e.ID)
		if e.Snippet != "" {
			fmt.Fprintf(&b, "  …%s…\n", e.Snippet)
		}
		if e.Text != "" {
			fmt.Fprintf(&b, "  %s\n", strings.ReplaceAll(e.Text, "\n", " | "))
		}
	}

	return b.String()
}

// CacheInfo renders manage_hubspot_cache(info).
func CacheInfo(size, capacity int, ttlSeconds int, sampleKeys []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🗄️ **Cache Info**\n- Size: %d / %d\n- TTL: %ds\n", size, capacity, ttlSeconds)
	if len(sampleKeys) > 0 {
		fmt.Fprintf(&b, "- Sample keys: %s\n", strings.Join(sampleKeys, ", "))
	}
	return b.String()
}

// LoadReport renders load_hubspot_entities_to_cache's summary: how many
// records were primed into the cache per kind, and whether an embeddings
// build was triggered as a side effect.
func LoadReport(perKind map[crm.EntityKind]int, embeddingsTriggered bool) string {
	var b strings.Builder
	total := 0
	for _, n := range perKind {
		total += n
	}
	fmt.Fprintf(&b, "📥 **Entities Loaded to Cache** — %d total\n", total)
	for _, k := range sortedKinds(perKind) {
		fmt.Fprintf(&b, "- %s: %d\n", k, perKind[k])
	}
	if embeddingsTriggered {
		b.WriteString("- embeddings build triggered\n")
	}
	return b.String()
}

// CacheCleared renders manage_hubspot_cache(clear).
func CacheCleared(n int) string {
	return fmt.Sprintf("🧹 **Cache Cleared** — %d entr%s removed", n, pluralY(n))
}

func pluralY(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func sortedKinds[V any](m map[crm.EntityKind]V) []crm.EntityKind {
	kinds := make([]crm.EntityKind, 0, len(m))
	for k := range m {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
