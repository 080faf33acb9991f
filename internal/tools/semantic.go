package tools

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/DidelotK/mcp-hubspot/internal/apierr"
	"github.com/DidelotK/mcp-hubspot/internal/crm"
	"github.com/DidelotK/mcp-hubspot/internal/embedx"
)

// primaryField is the field the hybrid-mode query-extraction heuristic
// searches against for each kind.
var primaryField = map[crm.EntityKind]string{
	crm.KindContact:    "firstname",
	crm.KindCompany:    "name",
	crm.KindDeal:       "dealname",
	crm.KindEngagement: "subject",
}

var quotedRE = regexp.MustCompile(`"([^"]+)"`)

// extractPredicate implements the deterministic query-extraction heuristic
// (spec §4.5): quoted substrings become equals predicates, bare words
// become a contains predicate. Returns "" when the query yields nothing
// usable (e.g. blank).
func extractPredicate(query string) (value string, exact bool) {
	if m := quotedRE.FindStringSubmatch(query); m != nil {
		return m[1], true
	}

	words := strings.Fields(query)
	if len(words) == 0 {
		return "", false
	}
	return strings.Join(words, " "), false
}

// apiSearch runs the CRM-search half of hybrid mode for one kind, returning
// each hit's id alongside its rank-derived apiRank score.
func apiSearch(ctx context.Context, crmClient *crm.Client, kind crm.EntityKind, query string) (map[string]float32, map[string]crm.Entity, error) {
	value, exact := extractPredicate(query)
	if value == "" {
		return nil, nil, nil
	}

	field, ok := primaryField[kind]
	if !ok {
		return nil, nil, nil
	}

	entities, err := crmClient.Search(ctx, kind, map[string]string{field: value}, 100)
	if err != nil {
		return nil, nil, err
	}
	if exact {
		matched := entities[:0]
		for _, e := range entities {
			if e.Properties[field] == value {
				matched = append(matched, e)
			}
		}
		entities = matched
	}

	ranks := make(map[string]float32, len(entities))
	byID := make(map[string]crm.Entity, len(entities))
	n := len(entities)
	for rank, e := range entities {
		ranks[e.ID] = 1 - float32(rank)/float32(n)
		byID[e.ID] = e
	}
	return ranks, byID, nil
}

func hitKey(kind crm.EntityKind, id string) string {
	return string(kind) + ":" + id
}

// hybridSearch merges C4 vector search with a C1 structured search derived
// from query, weighting by semanticWeight (spec §4.5).
func hybridSearch(ctx context.Context, deps *Deps, query string, kinds []crm.EntityKind, k int, semanticWeight float32, minScore float32) ([]embedx.SearchHit, error) {
	type merged struct {
		kind    crm.EntityKind
		id      string
		score   float32
		snippet string
	}

	results := map[string]*merged{}

	vectorHits, vErr := deps.Embed.Search(ctx, query, kinds, k*3, 0)
	if vErr == nil {
		for _, h := range vectorHits {
			results[hitKey(h.Kind, h.ID)] = &merged{kind: h.Kind, id: h.ID, score: semanticWeight * h.Score, snippet: h.Snippet}
		}
	}

	anyAPIHit := false
	for _, kind := range kinds {
		ranks, byID, err := apiSearch(ctx, deps.CRM, kind, query)
		if err != nil {
			continue
		}
		for id, rank := range ranks {
			anyAPIHit = true
			key := hitKey(kind, id)
			contribution := (1 - semanticWeight) * rank
			if existing, ok := results[key]; ok {
				existing.score += contribution
			} else {
				results[key] = &merged{kind: kind, id: id, score: contribution, snippet: embedx.Serialize(kind, byID[id])}
			}
		}
	}

	if vErr != nil && !anyAPIHit {
		return nil, apierr.New(apierr.KindClient, "no search strategy available: no index ready and no query predicate extracted")
	}

	hits := make([]embedx.SearchHit, 0, len(results))
	for _, r := range results {
		if r.score < minScore {
			continue
		}
		hits = append(hits, embedx.SearchHit{ID: r.id, Kind: r.kind, Score: r.score, Snippet: r.snippet})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}

	return hits, nil
}

// anyIndexReady reports whether at least one of kinds currently has a ready
// index, for auto-mode's strategy selection.
func anyIndexReady(deps *Deps, kinds []crm.EntityKind) bool {
	stats := deps.Embed.Stats()
	for _, kind := range kinds {
		if s, ok := stats.PerKind[kind]; ok && s.Status == embedx.StatusReady {
			return true
		}
	}
	return false
}
