// Package tools holds the registry of 18 HubSpot tool descriptors and
// executors (spec component C5): JSON-Schema-validated arguments wired to
// the CRM client, cache, and embedding manager, rendered through the
// formatter.
package tools

import (
	"context"

	"github.com/DidelotK/mcp-hubspot/internal/apierr"
	"github.com/DidelotK/mcp-hubspot/internal/cache"
	"github.com/DidelotK/mcp-hubspot/internal/crm"
	"github.com/DidelotK/mcp-hubspot/internal/embedx"
	"github.com/DidelotK/mcp-hubspot/internal/format"
	"github.com/DidelotK/mcp-hubspot/internal/mcpcore"
)

func schemaObj(properties map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func strProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func numProp(desc string) map[string]any {
	return map[string]any{"type": "number", "description": desc}
}

func boolProp(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

// toRawJSON renders v as the fenced ```json block that forms the second
// content item of every tool result.
func toRawJSON(v any) string {
	return format.JSONBlock(v)
}

// wrap adapts a (ctx, args) → (mcpcore.Result, error) closure into a
// mcpcore.ToolHandler that validates args against schema first and applies
// the shared per-tool timeout.
func wrap(deps *Deps, schema map[string]any, fn func(ctx context.Context, args map[string]any) (mcpcore.Result, error)) mcpcore.ToolHandler {
	return func(ctx context.Context, args map[string]any) (mcpcore.Result, error) {
		if err := validate(schema, args); err != nil {
			return mcpcore.Result{}, err
		}

		ctx, cancel := withTimeout(ctx, deps)
		defer cancel()

		result, err := fn(ctx, args)
		if err != nil {
			if ctx.Err() != nil && apierr.KindOf(err) != apierr.KindCanceled {
				return mcpcore.Result{}, apierr.Wrap(apierr.KindTimeout, "tool execution timed out", ctx.Err())
			}
			return mcpcore.Result{}, err
		}
		return result, nil
	}
}

// Register adds all 18 tool descriptors and their executors to reg.
func Register(reg *mcpcore.Registry, deps *Deps) {
	registerListTools(reg, deps)
	registerPropertyTools(reg, deps)
	registerSearchTools(reg, deps)
	registerDealTools(reg, deps)
	registerSemanticSearch(reg, deps)
	registerEmbeddingAdmin(reg, deps)
	registerBrowseTools(reg, deps)
	registerCacheTools(reg, deps)
	registerLoadEntities(reg, deps)
}

// ─── list_hubspot_* ───

func registerListTools(reg *mcpcore.Registry, deps *Deps) {
	kinds := []struct {
		name string
		kind crm.EntityKind
		desc string
	}{
		{"list_hubspot_contacts", crm.KindContact, "List HubSpot contacts"},
		{"list_hubspot_companies", crm.KindCompany, "List HubSpot companies"},
		{"list_hubspot_deals", crm.KindDeal, "List HubSpot deals"},
		{"list_hubspot_engagements", crm.KindEngagement, "List HubSpot engagements"},
	}

	schema := schemaObj(map[string]any{
		"limit": numProp("Max records to return (1-100, default 10)"),
		"after": strProp("Pagination cursor from a previous call"),
	})

	for _, k := range kinds {
		kind := k.kind
		name := k.name

		reg.Add(mcpcore.Tool{Name: name, Description: k.desc, InputSchema: schema}, wrap(deps, schema, func(ctx context.Context, args map[string]any) (mcpcore.Result, error) {
			limit, err := resolveLimit(args, 10)
			if err != nil {
				return mcpcore.Result{}, err
			}
			after := argString(args, "after")

			return cachedCall(deps, name, args, func() (mcpcore.Result, error) {
				entities, _, err := deps.CRM.List(ctx, kind, limit, after, nil)
				if err != nil {
					return mcpcore.Result{}, err
				}
				return mcpcore.Result{Markdown: format.List(kind, entities), RawJSON: toRawJSON(entities)}, nil
			})
		}))
	}
}

// ─── get_hubspot_*_properties ───

func registerPropertyTools(reg *mcpcore.Registry, deps *Deps) {
	kinds := []struct {
		name string
		kind crm.EntityKind
		desc string
	}{
		{"get_hubspot_contact_properties", crm.KindContact, "Get the contact property schema"},
		{"get_hubspot_company_properties", crm.KindCompany, "Get the company property schema"},
		{"get_hubspot_deal_properties", crm.KindDeal, "Get the deal property schema"},
	}

	schema := schemaObj(map[string]any{})

	for _, k := range kinds {
		kind := k.kind
		name := k.name

		reg.Add(mcpcore.Tool{Name: name, Description: k.desc, InputSchema: schema}, wrap(deps, schema, func(ctx context.Context, args map[string]any) (mcpcore.Result, error) {
			return cachedCall(deps, name, args, func() (mcpcore.Result, error) {
				descriptors, err := deps.CRM.ListProperties(ctx, kind)
				if err != nil {
					return mcpcore.Result{}, err
				}
				return mcpcore.Result{Markdown: format.Properties(kind, descriptors), RawJSON: toRawJSON(descriptors)}, nil
			})
		}))
	}
}

// ─── search_hubspot_* ───

func registerSearchTools(reg *mcpcore.Registry, deps *Deps) {
	type searchDef struct {
		name   string
		kind   crm.EntityKind
		desc   string
		fields []string
	}

	defs := []searchDef{
		{"search_hubspot_contacts", crm.KindContact, "Search HubSpot contacts", []string{"email", "firstname", "lastname", "company"}},
		{"search_hubspot_companies", crm.KindCompany, "Search HubSpot companies", []string{"name", "domain", "industry", "country"}},
		{"search_hubspot_deals", crm.KindDeal, "Search HubSpot deals", []string{"dealname", "owner_id", "dealstage", "pipeline"}},
	}

	for _, d := range defs {
		kind := d.kind
		name := d.name

		filterProps := map[string]any{}
		for _, f := range d.fields {
			filterProps[f] = strProp(f + " filter")
		}

		schema := schemaObj(map[string]any{
			"limit":   numProp("Max records to return (1-100, default 10)"),
			"filters": map[string]any{"type": "object", "properties": filterProps},
		})

		reg.Add(mcpcore.Tool{Name: name, Description: d.desc, InputSchema: schema}, wrap(deps, schema, func(ctx context.Context, args map[string]any) (mcpcore.Result, error) {
			limit, err := resolveLimit(args, 10)
			if err != nil {
				return mcpcore.Result{}, err
			}
			filters := stringProperties(argMap(args, "filters"))

			return cachedCall(deps, name, args, func() (mcpcore.Result, error) {
				entities, err := deps.CRM.Search(ctx, kind, filters, limit)
				if err != nil {
					return mcpcore.Result{}, err
				}
				return mcpcore.Result{Markdown: format.List(kind, entities), RawJSON: toRawJSON(entities)}, nil
			})
		}))
	}
}

// ─── get_deal_by_name, create_deal, update_deal ───

func registerDealTools(reg *mcpcore.Registry, deps *Deps) {
	getSchema := schemaObj(map[string]any{
		"deal_name": strProp("Exact deal name to find"),
	}, "deal_name")

	reg.Add(mcpcore.Tool{Name: "get_deal_by_name", Description: "Find a deal by its exact name", InputSchema: getSchema},
		wrap(deps, getSchema, func(ctx context.Context, args map[string]any) (mcpcore.Result, error) {
			dealName := argString(args, "deal_name")

			return cachedCall(deps, "get_deal_by_name", args, func() (mcpcore.Result, error) {
				entity, err := deps.CRM.GetDealByName(ctx, dealName)
				if err != nil {
					return mcpcore.Result{}, err
				}
				if entity == nil {
					return mcpcore.Result{Markdown: format.NotFound("Deal", "No deal named \""+dealName+"\" was found."), RawJSON: toRawJSON(nil)}, nil
				}
				return mcpcore.Result{Markdown: format.Deal(*entity), RawJSON: toRawJSON(entity)}, nil
			})
		}))

	createSchema := schemaObj(map[string]any{
		"dealname":         strProp("Deal name"),
		"amount":           strProp("Deal amount"),
		"dealstage":        strProp("Pipeline stage"),
		"pipeline":         strProp("Pipeline id"),
		"closedate":        strProp("Expected close date"),
		"hubspot_owner_id": strProp("Owner id"),
		"description":      strProp("Deal description"),
	}, "dealname")

	reg.Add(mcpcore.Tool{Name: "create_deal", Description: "Create a new HubSpot deal", InputSchema: createSchema},
		wrap(deps, createSchema, func(ctx context.Context, args map[string]any) (mcpcore.Result, error) {
			properties := stringProperties(args)
			entity, err := deps.CRM.CreateDeal(ctx, properties)
			if err != nil {
				return mcpcore.Result{}, err
			}
			return mcpcore.Result{Markdown: format.Deal(*entity), RawJSON: toRawJSON(entity)}, nil
		}))

	updateSchema := schemaObj(map[string]any{
		"deal_id":    strProp("Deal id to update"),
		"properties": map[string]any{"type": "object", "description": "Properties to set"},
	}, "deal_id", "properties")

	reg.Add(mcpcore.Tool{Name: "update_deal", Description: "Update an existing HubSpot deal", InputSchema: updateSchema},
		wrap(deps, updateSchema, func(ctx context.Context, args map[string]any) (mcpcore.Result, error) {
			dealID := argString(args, "deal_id")
			props := argMap(args, "properties")
			if len(props) == 0 {
				return mcpcore.Result{}, apierr.New(apierr.KindClient, "at least one property required")
			}

			entity, err := deps.CRM.UpdateDeal(ctx, dealID, stringProperties(props))
			if err != nil {
				return mcpcore.Result{}, err
			}
			return mcpcore.Result{Markdown: format.Deal(*entity), RawJSON: toRawJSON(entity)}, nil
		}))
}

// ─── semantic_search_hubspot ───

func registerSemanticSearch(reg *mcpcore.Registry, deps *Deps) {
	schema := schemaObj(map[string]any{
		"query":           strProp("Natural-language search query"),
		"entity_types":    map[string]any{"type": "array", "description": "Subset of contact/company/deal/engagement"},
		"limit":           numProp("Max results (default 10)"),
		"search_mode":     strProp("semantic | hybrid | auto (default auto)"),
		"semantic_weight": numProp("Weight of the vector score in hybrid mode (default 0.7)"),
		"threshold":       numProp("Minimum score to keep (default 0)"),
	}, "query")

	reg.Add(mcpcore.Tool{Name: "semantic_search_hubspot", Description: "Semantic/hybrid search across indexed HubSpot records", InputSchema: schema},
		wrap(deps, schema, func(ctx context.Context, args map[string]any) (mcpcore.Result, error) {
			if !deps.EmbeddingsEnabled {
				return mcpcore.Result{}, apierr.New(apierr.KindDisabled, "embeddings are disabled")
			}

			query := argString(args, "query")
			limit, err := resolveLimit(args, 10)
			if err != nil {
				return mcpcore.Result{}, err
			}
			mode := argString(args, "search_mode")
			if mode == "" {
				mode = "auto"
			}
			weight, err := argFloat(args, "semantic_weight", 0.7)
			if err != nil {
				return mcpcore.Result{}, err
			}
			threshold, err := argFloat(args, "threshold", 0)
			if err != nil {
				return mcpcore.Result{}, err
			}

			kinds := entityKindsFrom(args)
			if len(kinds) == 0 {
				kinds = []crm.EntityKind{crm.KindContact, crm.KindCompany, crm.KindDeal, crm.KindEngagement}
			}

			return cachedCall(deps, "semantic_search_hubspot", args, func() (mcpcore.Result, error) {
				var hits []embedx.SearchHit
				var err error

				switch mode {
				case "semantic":
					hits, err = deps.Embed.Search(ctx, query, kinds, limit, float32(threshold))
				case "hybrid":
					hits, err = hybridSearch(ctx, deps, query, kinds, limit, float32(weight), float32(threshold))
				default: // auto
					if anyIndexReady(deps, kinds) {
						hits, err = deps.Embed.Search(ctx, query, kinds, limit, float32(threshold))
					} else {
						hits, err = hybridSearch(ctx, deps, query, kinds, limit, float32(weight), float32(threshold))
					}
				}
				if err != nil {
					return mcpcore.Result{}, err
				}

				return mcpcore.Result{Markdown: format.SemanticSearch(query, hits), RawJSON: toRawJSON(hits)}, nil
			})
		}))
}

func entityKindsFrom(args map[string]any) []crm.EntityKind {
	raw, ok := args["entity_types"].([]any)
	if !ok {
		return nil
	}
	kinds := make([]crm.EntityKind, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			kinds = append(kinds, crm.EntityKind(s))
		}
	}
	return kinds
}

// ─── manage_hubspot_embeddings ───

func registerEmbeddingAdmin(reg *mcpcore.Registry, deps *Deps) {
	schema := schemaObj(map[string]any{
		"action":       strProp("info | build | rebuild | clear"),
		"entity_types": map[string]any{"type": "array", "description": "Subset of contact/company/deal/engagement"},
		"index_type":   strProp("flat | partitioned (default flat)"),
	}, "action")

	reg.Add(mcpcore.Tool{Name: "manage_hubspot_embeddings", Description: "Administer the semantic-search indices", InputSchema: schema},
		wrap(deps, schema, func(ctx context.Context, args map[string]any) (mcpcore.Result, error) {
			if !deps.EmbeddingsEnabled {
				return mcpcore.Result{}, apierr.New(apierr.KindDisabled, "embeddings are disabled")
			}

			action := argString(args, "action")
			kinds := entityKindsFrom(args)
			algo := embedx.Algorithm(argString(args, "index_type"))

			switch action {
			case "info":
				stats := deps.Embed.Stats()
				return mcpcore.Result{Markdown: format.Stats(stats), RawJSON: toRawJSON(stats)}, nil
			case "build":
				report, err := deps.Embed.Build(ctx, kinds, 1000, algo)
				if err != nil {
					return mcpcore.Result{}, err
				}
				return mcpcore.Result{Markdown: format.EmbeddingsReport("build", report, 0), RawJSON: toRawJSON(report)}, nil
			case "rebuild":
				report, err := deps.Embed.Rebuild(ctx, kinds, 1000)
				if err != nil {
					return mcpcore.Result{}, err
				}
				return mcpcore.Result{Markdown: format.EmbeddingsReport("rebuild", report, 0), RawJSON: toRawJSON(report)}, nil
			case "clear":
				n := deps.Embed.Clear(kinds)
				return mcpcore.Result{Markdown: format.EmbeddingsReport("clear", nil, n), RawJSON: toRawJSON(map[string]int{"cleared": n})}, nil
			default:
				return mcpcore.Result{}, apierr.New(apierr.KindClient, "unknown action: "+action)
			}
		}))
}

// ─── browse_hubspot_indexed_data ───

func registerBrowseTools(reg *mcpcore.Registry, deps *Deps) {
	schema := schemaObj(map[string]any{
		"action":          strProp("list | stats | search"),
		"entity_type":     strProp("contact | company | deal | engagement"),
		"offset":          numProp("Pagination offset (default 0)"),
		"limit":           numProp("Page size (default 20)"),
		"search_text":     strProp("Case-insensitive substring filter"),
		"include_content": boolProp("Include the full indexed text"),
	}, "action")

	reg.Add(mcpcore.Tool{Name: "browse_hubspot_indexed_data", Description: "Browse or search the indexed HubSpot records", InputSchema: schema},
		wrap(deps, schema, func(ctx context.Context, args map[string]any) (mcpcore.Result, error) {
			if !deps.EmbeddingsEnabled {
				return mcpcore.Result{}, apierr.New(apierr.KindDisabled, "embeddings are disabled")
			}

			action := argString(args, "action")
			kind := crm.EntityKind(argString(args, "entity_type"))

			switch action {
			case "stats":
				stats := deps.Embed.Stats()
				return mcpcore.Result{Markdown: format.Stats(stats), RawJSON: toRawJSON(stats)}, nil
			case "list", "search":
				offset, err := argInt(args, "offset", 0)
				if err != nil {
					return mcpcore.Result{}, err
				}
				limit, err := argInt(args, "limit", 20)
				if err != nil {
					return mcpcore.Result{}, err
				}
				textFilter := ""
				if action == "search" {
					textFilter = argString(args, "search_text")
				}
				includeContent := argBool(args, "include_content", false)

				page, err := deps.Embed.Browse(kind, offset, limit, textFilter, includeContent)
				if err != nil {
					return mcpcore.Result{}, err
				}
				return mcpcore.Result{Markdown: format.Browse(page), RawJSON: toRawJSON(page)}, nil
			default:
				return mcpcore.Result{}, apierr.New(apierr.KindClient, "unknown action: "+action)
			}
		}))
}

// ─── load_hubspot_entities_to_cache ───

func registerLoadEntities(reg *mcpcore.Registry, deps *Deps) {
	schema := schemaObj(map[string]any{
		"entity_type":      strProp("One of contact, company, deal, engagement"),
		"build_embeddings": boolProp("Also (re)build the embedding index from the loaded records"),
		"max_entities":     numProp("Max records fetched (0 means no cap; default 1000)"),
	}, "entity_type")

	reg.Add(mcpcore.Tool{Name: "load_hubspot_entities_to_cache", Description: "Prefetch full-property HubSpot records into the cache", InputSchema: schema},
		wrap(deps, schema, func(ctx context.Context, args map[string]any) (mcpcore.Result, error) {
			kind := crm.EntityKind(argString(args, "entity_type"))
			if kind == "" {
				return mcpcore.Result{}, apierr.New(apierr.KindClient, "entity_type is required")
			}
			maxEntities, err := argInt(args, "max_entities", 1000)
			if err != nil {
				return mcpcore.Result{}, err
			}
			buildEmbeddings := argBool(args, "build_embeddings", false)

			descriptors, err := deps.CRM.ListProperties(ctx, kind)
			if err != nil {
				return mcpcore.Result{}, err
			}
			allProps := make([]string, 0, len(descriptors))
			for _, d := range descriptors {
				allProps = append(allProps, d.Name)
			}

			count, err := deps.CRM.IterateAll(ctx, kind, 100, maxEntities, allProps, func(e crm.Entity) error {
				key, err := cache.Key("load_hubspot_entities_to_cache:"+string(kind), e.ID, deps.APIKey)
				if err != nil {
					return err
				}
				_, err = deps.Cache.GetOrCompute(key, func() (any, error) { return e, nil })
				return err
			})
			if err != nil {
				return mcpcore.Result{}, err
			}
			perKind := map[crm.EntityKind]int{kind: count}

			if buildEmbeddings && deps.EmbeddingsEnabled && deps.Embed != nil {
				if _, err := deps.Embed.Build(ctx, []crm.EntityKind{kind}, maxEntities, embedx.AlgorithmFlat); err != nil {
					return mcpcore.Result{}, err
				}
			}

			report := perKind
			return mcpcore.Result{Markdown: format.LoadReport(report, buildEmbeddings && deps.EmbeddingsEnabled), RawJSON: toRawJSON(report)}, nil
		}))
}

// ─── manage_hubspot_cache ───

func registerCacheTools(reg *mcpcore.Registry, deps *Deps) {
	schema := schemaObj(map[string]any{
		"action": strProp("info | clear"),
	}, "action")

	reg.Add(mcpcore.Tool{Name: "manage_hubspot_cache", Description: "Administer the shared TTL cache", InputSchema: schema},
		wrap(deps, schema, func(ctx context.Context, args map[string]any) (mcpcore.Result, error) {
			switch argString(args, "action") {
			case "info":
				info := deps.Cache.Info()
				return mcpcore.Result{
					Markdown: format.CacheInfo(info.Size, info.Capacity, int(info.TTL.Seconds()), info.SampleKeys),
					RawJSON:  toRawJSON(info),
				}, nil
			case "clear":
				n, _, _ := deps.Cache.Clear()
				return mcpcore.Result{Markdown: format.CacheCleared(n), RawJSON: toRawJSON(map[string]int{"cleared": n})}, nil
			default:
				return mcpcore.Result{}, apierr.New(apierr.KindClient, "unknown action")
			}
		}))
}
