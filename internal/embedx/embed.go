// Package embedx implements the per-entity-kind semantic index manager
// (spec component C4): textual serialization of CRM records, an opaque
// embed(text) → vector boundary, flat/partitioned nearest-neighbour search,
// and atomic pointer-swap rebuilds.
package embedx

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/DidelotK/mcp-hubspot/internal/apierr"
	"github.com/DidelotK/mcp-hubspot/internal/crm"
)

// Status is a point in the per-kind index lifecycle.
type Status string

const (
	StatusEmpty    Status = "empty"
	StatusBuilding Status = "building"
	StatusReady    Status = "ready"
)

// Algorithm selects the nearest-neighbour structure for an index.
type Algorithm string

const (
	AlgorithmFlat        Algorithm = "flat"
	AlgorithmPartitioned Algorithm = "partitioned"
)

// partitionedThreshold is the row count at which build() switches from flat
// to partitioned (spec §4.4: "chosen when N ≥ 10000").
const partitionedThreshold = 10000

// fieldOrder is the fixed per-kind field sequence used to build the
// deterministic embedding-input text for a record.
var fieldOrder = map[crm.EntityKind][]string{
	crm.KindContact:    {"firstname", "lastname", "email", "phone", "jobtitle", "company", "lifecyclestage", "city", "country", "createdate"},
	crm.KindCompany:    {"name", "domain", "industry", "numberofemployees", "city", "country", "description", "createdate"},
	crm.KindDeal:       {"dealname", "amount", "dealstage", "pipeline", "closedate", "hubspot_owner_id", "description", "createdate"},
	crm.KindEngagement: {"engagementType", "subject", "body", "createdate", "updatedAt", "ownerId"},
}

// Serialize builds the fixed-field-order embedding input text for a record.
// Unknown or empty values are omitted.
func Serialize(kind crm.EntityKind, e crm.Entity) string {
	order := fieldOrder[kind]
	var b strings.Builder
	first := true
	for _, field := range order {
		v, ok := e.Properties[field]
		if !ok || v == "" {
			continue
		}
		if !first {
			b.WriteByte('\n')
		}
		first = false
		b.WriteString(field)
		b.WriteString(": ")
		b.WriteString(v)
	}
	return b.String()
}

// IndexedText is the position → record sidecar entry (spec §3).
type IndexedText struct {
	ID       string
	Kind     crm.EntityKind
	Text     string
	Vector   []float32
	Position int
}

// SearchHit is one result row of Manager.Search.
type SearchHit struct {
	ID      string
	Kind    crm.EntityKind
	Score   float32
	Snippet string
}

// snapshot is the immutable, atomically-swapped state of one kind's index.
type snapshot struct {
	algorithm Algorithm
	sidecar   []IndexedText
	builtAt   time.Time
	ann       annIndex
}

// annIndex abstracts the flat/partitioned nearest-neighbour structures so
// Manager.Search doesn't need to care which one backs a given kind.
type annIndex interface {
	// search returns up to k (position, score) pairs, best first.
	search(query []float32, k int) []scoredPosition
}

type scoredPosition struct {
	position int
	score    float32
}

// kindState holds one entity kind's status and current snapshot. status is
// flipped to building before a (re)build starts, so concurrent readers fail
// fast with NotReadyError instead of ever observing a half-built matrix
// (spec §8: "every search returns results consistent with some past
// committed state of the index").
type kindState struct {
	status   atomic.Value // Status
	snapshot atomic.Pointer[snapshot]
}

func newKindState() *kindState {
	ks := &kindState{}
	ks.status.Store(StatusEmpty)
	return ks
}

func (ks *kindState) Status() Status {
	return ks.status.Load().(Status)
}

// Embedder is the opaque embed(text) → vector boundary (spec §1): the
// embedding model itself is an external collaborator with exactly this
// shape.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Manager is the process-wide singleton owning every kind's index (C9
// owns the Manager itself).
type Manager struct {
	crmClient *crm.Client
	embedder  Embedder
	modelName string

	kinds map[crm.EntityKind]*kindState
}

// NewManager wires a Manager to its CRM client (used by build/rebuild to
// pull records) and its embedder.
func NewManager(crmClient *crm.Client, embedder Embedder, modelName string) *Manager {
	m := &Manager{
		crmClient: crmClient,
		embedder:  embedder,
		modelName: modelName,
		kinds: map[crm.EntityKind]*kindState{
			crm.KindContact:    newKindState(),
			crm.KindCompany:    newKindState(),
			crm.KindDeal:       newKindState(),
			crm.KindEngagement: newKindState(),
		},
	}
	return m
}

func (m *Manager) stateFor(kind crm.EntityKind) (*kindState, error) {
	ks, ok := m.kinds[kind]
	if !ok {
		return nil, apierr.New(apierr.KindClient, fmt.Sprintf("unknown entity kind %q", kind))
	}
	return ks, nil
}

// KindBuildResult is the per-kind outcome of a Build/Rebuild call.
type KindBuildResult struct {
	Count  int
	Status Status
	Error  string
}

// BuildReport summarizes a Build/Rebuild/force-reindex run.
type BuildReport struct {
	PerKind               map[crm.EntityKind]KindBuildResult
	SuccessfulEntityTypes int
	TotalEntitiesLoaded   int
}

// Build pulls up to limit (default 1000) entities per kind, embeds their
// serialized text, and atomically replaces each kind's index. Partial
// failure of one kind does not affect the others.
func (m *Manager) Build(ctx context.Context, kinds []crm.EntityKind, limit int, algorithm Algorithm) (*BuildReport, error) {
	if limit <= 0 {
		limit = 1000
	}
	if algorithm == "" {
		algorithm = AlgorithmFlat
	}
	kinds = m.expandKinds(kinds)

	report := &BuildReport{PerKind: make(map[crm.EntityKind]KindBuildResult, len(kinds))}

	for _, kind := range kinds {
		ks, err := m.stateFor(kind)
		if err != nil {
			report.PerKind[kind] = KindBuildResult{Status: StatusEmpty, Error: err.Error()}
			continue
		}

		ks.status.Store(StatusBuilding)

		count, err := m.buildOne(ctx, kind, limit, algorithm)
		if err != nil {
			// Preserve the previous snapshot (if any); go back to its status
			// rather than leaving the kind stuck in "building".
			prev := ks.snapshot.Load()
			if prev != nil {
				ks.status.Store(StatusReady)
			} else {
				ks.status.Store(StatusEmpty)
			}
			report.PerKind[kind] = KindBuildResult{Status: ks.Status(), Error: err.Error()}
			continue
		}

		ks.status.Store(StatusReady)
		report.PerKind[kind] = KindBuildResult{Count: count, Status: StatusReady}
		report.SuccessfulEntityTypes++
		report.TotalEntitiesLoaded += count
	}

	return report, nil
}

func (m *Manager) buildOne(ctx context.Context, kind crm.EntityKind, limit int, algorithm Algorithm) (int, error) {
	var texts []IndexedText

	_, err := m.crmClient.IterateAll(ctx, kind, 100, limit, nil, func(e crm.Entity) error {
		text := Serialize(kind, e)
		if text == "" {
			return nil
		}
		texts = append(texts, IndexedText{ID: e.ID, Kind: kind, Text: text})
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(texts) == 0 {
		ks, _ := m.stateFor(kind)
		ks.snapshot.Store(&snapshot{algorithm: algorithm, builtAt: time.Now(), ann: newFlatIndex(nil)})
		return 0, nil
	}

	raw := make([]string, len(texts))
	for i, t := range texts {
		raw[i] = t.Text
	}

	vectors, err := m.embedder.EmbedDocuments(ctx, raw)
	if err != nil {
		return 0, apierr.Wrap(apierr.KindTransient, "embedding batch failed", err)
	}
	if len(vectors) != len(texts) {
		return 0, apierr.New(apierr.KindInternal, "embedder returned a mismatched vector count")
	}

	if len(texts) >= partitionedThreshold {
		algorithm = AlgorithmPartitioned
	}

	for i := range texts {
		texts[i].Vector = normalize(vectors[i])
		texts[i].Position = i
	}

	var ann annIndex
	matrix := make([][]float32, len(texts))
	for i, t := range texts {
		matrix[i] = t.Vector
	}

	if algorithm == AlgorithmPartitioned {
		ann = newPartitionedIndex(matrix)
	} else {
		ann = newFlatIndex(matrix)
	}

	ks, _ := m.stateFor(kind)
	ks.snapshot.Store(&snapshot{
		algorithm: algorithm,
		sidecar:   texts,
		builtAt:   time.Now(),
		ann:       ann,
	})

	return len(texts), nil
}

// Rebuild clears then rebuilds the given kinds (or all tracked kinds, if
// nil/empty) with the same algorithm choice they would get from a fresh
// Build.
func (m *Manager) Rebuild(ctx context.Context, kinds []crm.EntityKind, limit int) (*BuildReport, error) {
	kinds = m.expandKinds(kinds)
	m.Clear(kinds)
	return m.Build(ctx, kinds, limit, "")
}

// expandKinds returns kinds unchanged if non-empty, otherwise every kind
// the manager tracks. Shared by Build, Rebuild, and Clear so that a nil
// kinds argument means "all kinds" consistently across the three.
func (m *Manager) expandKinds(kinds []crm.EntityKind) []crm.EntityKind {
	if len(kinds) > 0 {
		return kinds
	}
	all := make([]crm.EntityKind, 0, len(m.kinds))
	for k := range m.kinds {
		all = append(all, k)
	}
	return all
}

// Clear resets the given kinds (or all kinds, if nil) to empty, returning
// the count of kinds cleared.
func (m *Manager) Clear(kinds []crm.EntityKind) int {
	kinds = m.expandKinds(kinds)

	cleared := 0
	for _, kind := range kinds {
		ks, ok := m.kinds[kind]
		if !ok {
			continue
		}
		ks.snapshot.Store(nil)
		ks.status.Store(StatusEmpty)
		cleared++
	}
	return cleared
}

// kindOrder breaks search-result ties (spec §4.4: "contact < company <
// deal < engagement").
var kindOrder = map[crm.EntityKind]int{
	crm.KindContact:    0,
	crm.KindCompany:    1,
	crm.KindDeal:       2,
	crm.KindEngagement: 3,
}

// Search embeds query and returns the top-k hits across the requested
// kinds (or all kinds, if empty) with score ≥ minScore.
func (m *Manager) Search(ctx context.Context, query string, kinds []crm.EntityKind, k int, minScore float32) ([]SearchHit, error) {
	if len(kinds) == 0 {
		kinds = []crm.EntityKind{crm.KindContact, crm.KindCompany, crm.KindDeal, crm.KindEngagement}
	}
	if k <= 0 {
		k = 10
	}

	vec, err := m.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindTransient, "embedding query failed", err)
	}
	vec = normalize(vec)

	var hits []SearchHit
	for _, kind := range kinds {
		ks, err := m.stateFor(kind)
		if err != nil {
			return nil, err
		}
		if ks.Status() != StatusReady {
			continue
		}
		snap := ks.snapshot.Load()
		if snap == nil {
			continue
		}

		for _, sp := range snap.ann.search(vec, k) {
			if sp.score < minScore {
				continue
			}
			it := snap.sidecar[sp.position]
			hits = append(hits, SearchHit{
				ID:      it.ID,
				Kind:    kind,
				Score:   sp.score,
				Snippet: snippetOf(it.Text, 0),
			})
		}
	}

	if hits == nil {
		// None of the requested kinds were ready.
		allReady := false
		for _, kind := range kinds {
			if ks, err := m.stateFor(kind); err == nil && ks.Status() == StatusReady {
				allReady = true
			}
		}
		if !allReady {
			return nil, apierr.New(apierr.KindNotReady, "no requested index is ready")
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if kindOrder[hits[i].Kind] != kindOrder[hits[j].Kind] {
			return kindOrder[hits[i].Kind] < kindOrder[hits[j].Kind]
		}
		return hits[i].ID < hits[j].ID
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// BrowseEntry is one row of a Browse page.
type BrowseEntry struct {
	ID      string
	Kind    crm.EntityKind
	Text    string
	Snippet string
}

// BrowsePage is the result of Manager.Browse.
type BrowsePage struct {
	Entries []BrowseEntry
	Total   int
	Offset  int
	Limit   int
}

// Browse lists indexed records with offset/limit pagination, optionally
// restricted to one kind and/or filtered by a case-insensitive text
// substring (in which case Snippet carries ±40 chars around the match).
func (m *Manager) Browse(kind crm.EntityKind, offset, limit int, textFilter string, includeContent bool) (*BrowsePage, error) {
	if limit <= 0 {
		limit = 20
	}

	var kinds []crm.EntityKind
	if kind != "" {
		kinds = []crm.EntityKind{kind}
	} else {
		kinds = []crm.EntityKind{crm.KindContact, crm.KindCompany, crm.KindDeal, crm.KindEngagement}
	}

	var all []BrowseEntry
	lowerFilter := strings.ToLower(textFilter)

	for _, k := range kinds {
		ks, err := m.stateFor(k)
		if err != nil {
			return nil, err
		}
		snap := ks.snapshot.Load()
		if snap == nil {
			continue
		}
		for _, it := range snap.sidecar {
			matchPos := -1
			if lowerFilter != "" {
				matchPos = strings.Index(strings.ToLower(it.Text), lowerFilter)
				if matchPos < 0 {
					continue
				}
			}
			entry := BrowseEntry{ID: it.ID, Kind: k}
			if includeContent {
				entry.Text = it.Text
			}
			if lowerFilter != "" {
				entry.Snippet = snippetOf(it.Text, matchPos)
			}
			all = append(all, entry)
		}
	}

	sort.Slice(all, func(i, j int) bool {
		if kindOrder[all[i].Kind] != kindOrder[all[j].Kind] {
			return kindOrder[all[i].Kind] < kindOrder[all[j].Kind]
		}
		return all[i].ID < all[j].ID
	})

	total := len(all)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	return &BrowsePage{Entries: all[offset:end], Total: total, Offset: offset, Limit: limit}, nil
}

// KindStats is the per-kind breakdown returned by Stats.
type KindStats struct {
	Count   int
	Status  Status
	BuiltAt time.Time
}

// StatsReport is the full manage_hubspot_embeddings/browse stats payload.
type StatsReport struct {
	PerKind    map[crm.EntityKind]KindStats
	TotalCount int
	Dimension  int
	ModelName  string
}

// Stats reports the current state of every kind's index.
func (m *Manager) Stats() StatsReport {
	report := StatsReport{PerKind: make(map[crm.EntityKind]KindStats, len(m.kinds)), Dimension: m.embedder.Dimension(), ModelName: m.modelName}

	for kind, ks := range m.kinds {
		snap := ks.snapshot.Load()
		ksStats := KindStats{Status: ks.Status()}
		if snap != nil {
			ksStats.Count = len(snap.sidecar)
			ksStats.BuiltAt = snap.builtAt
		}
		report.PerKind[kind] = ksStats
		report.TotalCount += ksStats.Count
	}

	return report
}

// snippetOf returns up to ±40 chars of text around position pos (or the
// start of the text when pos < 0).
func snippetOf(text string, pos int) string {
	if pos < 0 {
		pos = 0
	}
	start := pos - 40
	if start < 0 {
		start = 0
	}
	end := pos + 40
	if end > len(text) {
		end = len(text)
	}
	return text[start:end]
}

func normalize(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return v
	}
	norm := float32(math.Sqrt(sumSquares))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// HashEmbedder is a deterministic, dependency-free fallback embedder used
// when no real embeddings provider is configured. It feature-hashes each
// whitespace token into a fixed-width vector so identical/similar texts
// land close together under cosine similarity — good enough for tests and
// for operating the index machinery without an external embeddings API key.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder builds a HashEmbedder with the given vector width.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 64
	}
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) Dimension() int { return h.dim }

func (h *HashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return h.embed(text), nil
}

func (h *HashEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.embed(t)
	}
	return out, nil
}

func (h *HashEmbedder) embed(text string) []float32 {
	vec := make([]float32, h.dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		sum := sha256.Sum256([]byte(tok))
		idx := int(binary.BigEndian.Uint32(sum[:4])) % h.dim
		if idx < 0 {
			idx += h.dim
		}
		sign := float32(1)
		if sum[4]%2 == 1 {
			sign = -1
		}
		vec[idx] += sign
	}
	return vec
}
