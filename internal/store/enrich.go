package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"hostel-assistant/internal/models"
)

// Relation names a document field holding ids of another entity.
type Relation struct {
	Field  string
	Target models.EntityName
}

// Relations lists the references resolved per entity.
type Relations map[models.EntityName][]Relation

// ParseRelations reads "field:Entity" entries keyed by entity name.
func ParseRelations(table map[string][]string) (Relations, error) {
	out := make(Relations, len(table))
	for entityName, refs := range table {
		entity := models.EntityName(entityName)
		if !entity.IsAllowed() {
			return nil, fmt.Errorf("%w: enrichment for %s", ErrUnknownEntity, entityName)
		}
		for _, ref := range refs {
			field, target, ok := strings.Cut(ref, ":")
			if !ok || field == "" {
				return nil, fmt.Errorf("enrichment entry %q for %s must be field:Entity", ref, entityName)
			}
			if err := checkField(field); err != nil {
				return nil, err
			}
			targetEntity := models.EntityName(target)
			if !targetEntity.IsAllowed() {
				return nil, fmt.Errorf("%w: enrichment target %s", ErrUnknownEntity, target)
			}
			out[entity] = append(out[entity], Relation{Field: field, Target: targetEntity})
		}
	}
	for entity := range out {
		rels := out[entity]
		sort.Slice(rels, func(i, j int) bool { return rels[i].Field < rels[j].Field })
	}
	return out, nil
}

// Enricher replaces reference ids with the referenced documents, one level
// deep. Ids that do not resolve are left as they are.
type Enricher struct {
	store     Store
	relations Relations
}

func NewEnricher(store Store, relations Relations) *Enricher {
	return &Enricher{store: store, relations: relations}
}

func (e *Enricher) Enrich(ctx context.Context, entity models.EntityName, docs []models.Document) error {
	if len(docs) == 0 {
		return nil
	}
	for _, rel := range e.relations[entity] {
		ids := collectIDs(docs, rel.Field)
		if len(ids) == 0 {
			continue
		}
		refs, err := e.store.FindByIDs(ctx, rel.Target, ids)
		if err != nil {
			return fmt.Errorf("enrich %s.%s: %w", entity, rel.Field, err)
		}
		for _, doc := range docs {
			doc[rel.Field] = resolve(doc[rel.Field], refs)
		}
	}
	return nil
}

func collectIDs(docs []models.Document, field string) []string {
	seen := make(map[string]bool)
	var ids []string
	add := func(v interface{}) {
		if id, ok := v.(string); ok && id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, doc := range docs {
		switch v := doc[field].(type) {
		case []interface{}:
			for _, item := range v {
				add(item)
			}
		default:
			add(v)
		}
	}
	sort.Strings(ids)
	return ids
}

func resolve(value interface{}, refs map[string]models.Document) interface{} {
	switch v := value.(type) {
	case string:
		if ref, ok := refs[v]; ok {
			return ref
		}
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = resolve(item, refs)
		}
		return out
	}
	return value
}
