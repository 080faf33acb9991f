// Package crm implements the typed HTTP client to the HubSpot CRM (spec
// component C1): paginated listing, search, property-schema retrieval, and
// deal writes, with HTTP status codes mapped onto the shared apierr
// taxonomy. It never retries internally; callers decide how to react to a
// TransientError.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/worldline-go/klient"

	"github.com/DidelotK/mcp-hubspot/internal/apierr"
)

// DefaultBaseURL is the HubSpot CRM API origin.
const DefaultBaseURL = "https://api.hubapi.com"

// EntityKind is one of the four CRM object kinds this server exposes.
type EntityKind string

const (
	KindContact    EntityKind = "contact"
	KindCompany    EntityKind = "company"
	KindDeal       EntityKind = "deal"
	KindEngagement EntityKind = "engagement"
)

// plural is the HubSpot object-type path segment for each kind.
func (k EntityKind) plural() string {
	switch k {
	case KindContact:
		return "contacts"
	case KindCompany:
		return "companies"
	case KindDeal:
		return "deals"
	case KindEngagement:
		return "engagements"
	default:
		return string(k) + "s"
	}
}

// Entity is a single CRM record, properties kept as an open map so unknown
// or custom fields pass through untouched.
type Entity struct {
	ID         string            `json:"id"`
	Kind       EntityKind        `json:"kind"`
	Properties map[string]string `json:"properties"`
	CreatedAt  *time.Time        `json:"createdAt,omitempty"`
	UpdatedAt  *time.Time        `json:"updatedAt,omitempty"`
}

// PropertyOption is one enumeration option of a PropertyDescriptor.
type PropertyOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// PropertyDescriptor describes one CRM property, as retrieved from the
// schema endpoint for a kind.
type PropertyDescriptor struct {
	Name        string           `json:"name"`
	Label       string           `json:"label"`
	Type        string           `json:"type"`
	FieldType   string           `json:"fieldType"`
	Description string           `json:"description"`
	GroupName   string           `json:"groupName"`
	Options     []PropertyOption `json:"options,omitempty"`
}

// identifierFields take the "equals" operator in search predicates;
// everything else in the curated filter set takes "contains_token".
var identifierFields = map[string]bool{
	"owner_id":  true,
	"dealstage": true,
	"pipeline":  true,
}

// defaultProperties is the curated subset fetched by list() when the
// caller does not request specific properties.
var defaultProperties = map[EntityKind][]string{
	KindContact:    {"firstname", "lastname", "email", "phone", "jobtitle", "company", "lifecyclestage"},
	KindCompany:    {"name", "domain", "industry", "numberofemployees", "city", "country"},
	KindDeal:       {"dealname", "amount", "dealstage", "pipeline", "closedate", "hubspot_owner_id"},
	KindEngagement: {"engagementType", "subject", "body", "ownerId"},
}

// Client is the process-wide singleton HubSpot CRM client (C9 owns it).
type Client struct {
	baseURL string
	apiKey  string
	http    *klient.Client
}

// New builds a CRM client. An empty apiKey is accepted here (some tools may
// run with embeddings-only features) but every request fails with
// apierr.KindConfig before it leaves the process.
func New(apiKey, baseURL string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	headers := http.Header{
		"Content-Type": []string{"application/json"},
	}
	if apiKey != "" {
		headers["Authorization"] = []string{"Bearer " + apiKey}
	}

	httpClient, err := klient.New(
		klient.WithBaseURL(baseURL),
		klient.WithLogger(slog.Default()),
		klient.WithHeaderSet(headers),
		klient.WithDisableRetry(true),
		klient.WithDisableEnvValues(true),
	)
	if err != nil {
		return nil, fmt.Errorf("build CRM http client: %w", err)
	}
	if timeout > 0 {
		httpClient.HTTP.Timeout = timeout
	}

	return &Client{baseURL: baseURL, apiKey: apiKey, http: httpClient}, nil
}

func (c *Client) requireAPIKey() error {
	if c.apiKey == "" {
		return apierr.New(apierr.KindConfig, "HubSpot API key is not configured")
	}
	return nil
}

// do issues a request relative to the client's base URL, decoding a JSON
// body into out (when non-nil and the response is a 2xx).
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return apierr.Wrap(apierr.KindClient, "encode request body", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, path, reader)
	if err != nil {
		return apierr.Wrap(apierr.KindClient, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var status int
	var respHeader http.Header
	var respBody []byte

	if err := c.http.Do(req, func(r *http.Response) error {
		status = r.StatusCode
		respHeader = r.Header
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		respBody = b
		return nil
	}); err != nil {
		if ctx.Err() != nil {
			return apierr.Wrap(apierr.KindTransient, "CRM request canceled or timed out", err)
		}
		return apierr.Wrap(apierr.KindTransient, "CRM connection failed", err)
	}

	if status >= 200 && status < 300 {
		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return apierr.Wrap(apierr.KindInternal, "decode CRM response", err)
			}
		}
		return nil
	}

	return mapStatusError(status, respBody, respHeader)
}

func mapStatusError(status int, body []byte, header http.Header) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apierr.New(apierr.KindAuth, "HubSpot rejected the API key")
	case status == http.StatusTooManyRequests:
		e := apierr.New(apierr.KindTransient, "HubSpot rate limit exceeded")
		if ra, err := strconv.Atoi(header.Get("Retry-After")); err == nil {
			e = e.WithRetryAfter(ra)
		}
		return e
	case status >= 500:
		return apierr.New(apierr.KindTransient, fmt.Sprintf("HubSpot upstream failure (status %d)", status))
	case status >= 400:
		return apierr.New(apierr.KindClient, fmt.Sprintf("HubSpot rejected the request (status %d): %s", status, truncate(string(body), 500)))
	default:
		return apierr.New(apierr.KindInternal, fmt.Sprintf("unexpected HubSpot status %d", status))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// ─── wire shapes ───

type listResponse struct {
	Results []objectWire `json:"results"`
	Paging  *struct {
		Next *struct {
			After string `json:"after"`
		} `json:"next"`
	} `json:"paging"`
}

type objectWire struct {
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties"`
	CreatedAt  string            `json:"createdAt"`
	UpdatedAt  string            `json:"updatedAt"`
}

func (o objectWire) toEntity(kind EntityKind) Entity {
	e := Entity{ID: o.ID, Kind: kind, Properties: o.Properties}
	if t, err := time.Parse(time.RFC3339, o.CreatedAt); err == nil {
		e.CreatedAt = &t
	}
	if t, err := time.Parse(time.RFC3339, o.UpdatedAt); err == nil {
		e.UpdatedAt = &t
	}
	return e
}

// List fetches one page from the CRM's cursor-paginated endpoint.
func (c *Client) List(ctx context.Context, kind EntityKind, limit int, after string, properties []string) ([]Entity, string, error) {
	if err := c.requireAPIKey(); err != nil {
		return nil, "", err
	}
	limit = clampLimit(limit)
	if len(properties) == 0 {
		properties = defaultProperties[kind]
	}

	path := fmt.Sprintf("/crm/v3/objects/%s?limit=%d", kind.plural(), limit)
	if after != "" {
		path += "&after=" + after
	}
	if len(properties) > 0 {
		path += "&properties=" + strings.Join(properties, ",")
	}

	var resp listResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, "", err
	}

	entities := make([]Entity, 0, len(resp.Results))
	for _, o := range resp.Results {
		entities = append(entities, o.toEntity(kind))
	}

	next := ""
	if resp.Paging != nil && resp.Paging.Next != nil {
		next = resp.Paging.Next.After
	}

	return entities, next, nil
}

type searchFilter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

type searchRequest struct {
	FilterGroups []struct {
		Filters []searchFilter `json:"filters"`
	} `json:"filterGroups"`
	Limit      int      `json:"limit"`
	Properties []string `json:"properties,omitempty"`
}

// Search posts an AND-of-terms filter expression to the CRM's search
// endpoint. Identifier-like fields use "EQ", text-like fields use
// "CONTAINS_TOKEN"; a field present in both sets is treated as CONTAINS_TOKEN.
func (c *Client) Search(ctx context.Context, kind EntityKind, filters map[string]string, limit int) ([]Entity, error) {
	if err := c.requireAPIKey(); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	filterList := make([]searchFilter, 0, len(filters))
	for name, value := range filters {
		if value == "" {
			continue
		}
		op := "CONTAINS_TOKEN"
		if identifierFields[name] {
			op = "EQ"
		}
		filterList = append(filterList, searchFilter{PropertyName: name, Operator: op, Value: value})
	}

	req := searchRequest{Limit: limit, Properties: defaultProperties[kind]}
	if len(filterList) > 0 {
		req.FilterGroups = []struct {
			Filters []searchFilter `json:"filters"`
		}{{Filters: filterList}}
	}

	var resp listResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/crm/v3/objects/%s/search", kind.plural()), req, &resp); err != nil {
		return nil, err
	}

	entities := make([]Entity, 0, len(resp.Results))
	for _, o := range resp.Results {
		entities = append(entities, o.toEntity(kind))
	}
	return entities, nil
}

type propertiesResponse struct {
	Results []struct {
		Name        string `json:"name"`
		Label       string `json:"label"`
		Type        string `json:"type"`
		FieldType   string `json:"fieldType"`
		Description string `json:"description"`
		GroupName   string `json:"groupName"`
		Options     []struct {
			Label string `json:"label"`
			Value string `json:"value"`
		} `json:"options"`
	} `json:"results"`
}

// ListProperties fetches the full property schema for a kind.
func (c *Client) ListProperties(ctx context.Context, kind EntityKind) ([]PropertyDescriptor, error) {
	if err := c.requireAPIKey(); err != nil {
		return nil, err
	}

	var resp propertiesResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/crm/v3/properties/%s", kind.plural()), nil, &resp); err != nil {
		return nil, err
	}

	descriptors := make([]PropertyDescriptor, 0, len(resp.Results))
	for _, r := range resp.Results {
		d := PropertyDescriptor{
			Name:        r.Name,
			Label:       r.Label,
			Type:        r.Type,
			FieldType:   r.FieldType,
			Description: r.Description,
			GroupName:   r.GroupName,
		}
		for _, o := range r.Options {
			d.Options = append(d.Options, PropertyOption{Label: o.Label, Value: o.Value})
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}

type createUpdateRequest struct {
	Properties map[string]string `json:"properties"`
}

// CreateDeal creates a new deal with the given properties.
func (c *Client) CreateDeal(ctx context.Context, properties map[string]string) (*Entity, error) {
	if err := c.requireAPIKey(); err != nil {
		return nil, err
	}

	var resp objectWire
	if err := c.do(ctx, http.MethodPost, "/crm/v3/objects/deals", createUpdateRequest{Properties: properties}, &resp); err != nil {
		return nil, err
	}
	e := resp.toEntity(KindDeal)
	return &e, nil
}

// UpdateDeal patches an existing deal's properties. Callers enforce the
// "at least one property" invariant before calling this.
func (c *Client) UpdateDeal(ctx context.Context, id string, properties map[string]string) (*Entity, error) {
	if err := c.requireAPIKey(); err != nil {
		return nil, err
	}

	var resp objectWire
	if err := c.do(ctx, http.MethodPatch, "/crm/v3/objects/deals/"+id, createUpdateRequest{Properties: properties}, &resp); err != nil {
		return nil, err
	}
	e := resp.toEntity(KindDeal)
	return &e, nil
}

// GetDealByName searches for a deal by exact name, post-filtering the
// search-endpoint results (which only guarantee CONTAINS_TOKEN recall) for
// an exact match. Returns (nil, nil) when no exact match is found.
func (c *Client) GetDealByName(ctx context.Context, name string) (*Entity, error) {
	entities, err := c.Search(ctx, KindDeal, map[string]string{"dealname": name}, 100)
	if err != nil {
		return nil, err
	}
	for i := range entities {
		if entities[i].Properties["dealname"] == name {
			return &entities[i], nil
		}
	}
	return nil, nil
}

// IterateAll follows pagination cursors, invoking fn for every entity until
// maxEntities is reached (0 means no cap), the cursor is exhausted, or fn
// returns an error (which is propagated to the caller).
func (c *Client) IterateAll(ctx context.Context, kind EntityKind, pageSize, maxEntities int, properties []string, fn func(Entity) error) (int, error) {
	if pageSize <= 0 {
		pageSize = 100
	}
	pageSize = clampLimit(pageSize)

	after := ""
	seen := 0

	for {
		if err := ctx.Err(); err != nil {
			return seen, apierr.Wrap(apierr.KindCanceled, "iteration canceled", err)
		}

		remaining := pageSize
		if maxEntities > 0 {
			left := maxEntities - seen
			if left <= 0 {
				break
			}
			if left < remaining {
				remaining = left
			}
		}

		page, next, err := c.List(ctx, kind, remaining, after, properties)
		if err != nil {
			return seen, err
		}
		if len(page) == 0 {
			break
		}

		for _, e := range page {
			if err := fn(e); err != nil {
				return seen, err
			}
			seen++
			if maxEntities > 0 && seen >= maxEntities {
				return seen, nil
			}
		}

		if next == "" {
			break
		}
		after = next
	}

	return seen, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 100 {
		return 100
	}
	return limit
}
