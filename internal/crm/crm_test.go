package crm

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DidelotK/mcp-hubspot/internal/apierr"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New("test-key", srv.URL, 5*time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewRequiresNoAPIKeyButFailsWithoutOne(t *testing.T) {
	c, err := New("", "http://example.invalid", time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, _, err = c.List(t.Context(), KindContact, 10, "", nil)
	if apierr.KindOf(err) != apierr.KindConfig {
		t.Fatalf("expected KindConfig, got %v", apierr.KindOf(err))
	}
}

func TestListDecodesEntitiesAndCursor(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"id": "1", "properties": map[string]string{"firstname": "Ada"}, "createdAt": "2024-01-01T00:00:00Z"},
			},
			"paging": map[string]any{"next": map[string]any{"after": "cursor-2"}},
		})
	})

	entities, next, err := c.List(t.Context(), KindContact, 10, "", nil)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entities) != 1 || entities[0].ID != "1" {
		t.Fatalf("unexpected entities: %+v", entities)
	}
	if entities[0].Properties["firstname"] != "Ada" {
		t.Fatalf("properties not decoded: %+v", entities[0].Properties)
	}
	if next != "cursor-2" {
		t.Fatalf("next = %q, want cursor-2", next)
	}
}

func TestMapStatusErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		want   apierr.Kind
	}{
		{http.StatusUnauthorized, apierr.KindAuth},
		{http.StatusForbidden, apierr.KindAuth},
		{http.StatusTooManyRequests, apierr.KindTransient},
		{http.StatusInternalServerError, apierr.KindTransient},
		{http.StatusBadRequest, apierr.KindClient},
	}

	for _, tt := range tests {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			w.Write([]byte("error body"))
		})

		_, _, err := c.List(t.Context(), KindContact, 10, "", nil)
		if apierr.KindOf(err) != tt.want {
			t.Errorf("status %d: got %v, want %v", tt.status, apierr.KindOf(err), tt.want)
		}
	}
}

func TestSearchUsesEqualsForIdentifierFields(t *testing.T) {
	var captured searchRequest
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(map[string]any{"results": []map[string]any{}})
	})

	_, err := c.Search(t.Context(), KindDeal, map[string]string{"dealstage": "closedwon", "dealname": "Acme Renewal"}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	filters := captured.FilterGroups[0].Filters
	ops := map[string]string{}
	for _, f := range filters {
		ops[f.PropertyName] = f.Operator
	}
	if ops["dealstage"] != "EQ" {
		t.Fatalf("dealstage operator = %q, want EQ", ops["dealstage"])
	}
	if ops["dealname"] != "CONTAINS_TOKEN" {
		t.Fatalf("dealname operator = %q, want CONTAINS_TOKEN", ops["dealname"])
	}
}

func TestGetDealByNameExactMatchOnly(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"id": "1", "properties": map[string]string{"dealname": "Acme Renewal Extended"}},
				{"id": "2", "properties": map[string]string{"dealname": "Acme Renewal"}},
			},
		})
	})

	entity, err := c.GetDealByName(t.Context(), "Acme Renewal")
	if err != nil {
		t.Fatalf("GetDealByName: %v", err)
	}
	if entity == nil || entity.ID != "2" {
		t.Fatalf("expected exact match id=2, got %+v", entity)
	}
}

func TestGetDealByNameNoMatch(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"results": []map[string]any{}})
	})

	entity, err := c.GetDealByName(t.Context(), "Nonexistent")
	if err != nil {
		t.Fatalf("GetDealByName: %v", err)
	}
	if entity != nil {
		t.Fatalf("expected nil, got %+v", entity)
	}
}

func TestIterateAllFollowsPagination(t *testing.T) {
	calls := 0
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			json.NewEncoder(w).Encode(map[string]any{
				"results": []map[string]any{{"id": "1", "properties": map[string]string{}}},
				"paging":  map[string]any{"next": map[string]any{"after": "p2"}},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{"id": "2", "properties": map[string]string{}}},
		})
	})

	var ids []string
	n, err := c.IterateAll(t.Context(), KindContact, 1, 0, nil, func(e Entity) error {
		ids = append(ids, e.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("IterateAll: %v", err)
	}
	if n != 2 || len(ids) != 2 {
		t.Fatalf("got %d entities %v, want 2", n, ids)
	}
}

func TestIterateAllRespectsMaxEntities(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"id": "1", "properties": map[string]string{}},
				{"id": "2", "properties": map[string]string{}},
				{"id": "3", "properties": map[string]string{}},
			},
			"paging": map[string]any{"next": map[string]any{"after": "p2"}},
		})
	})

	n, err := c.IterateAll(t.Context(), KindContact, 10, 2, nil, func(e Entity) error { return nil })
	if err != nil {
		t.Fatalf("IterateAll: %v", err)
	}
	if n != 2 {
		t.Fatalf("n = %d, want 2", n)
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, 100},
		{-5, 100},
		{50, 50},
		{500, 100},
	}
	for _, tt := range tests {
		if got := clampLimit(tt.in); got != tt.want {
			t.Errorf("clampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestEntityKindPlural(t *testing.T) {
	tests := []struct {
		kind EntityKind
		want string
	}{
		{KindContact, "contacts"},
		{KindCompany, "companies"},
		{KindDeal, "deals"},
		{KindEngagement, "engagements"},
	}
	for _, tt := range tests {
		if got := tt.kind.plural(); got != tt.want {
			t.Errorf("%s.plural() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
