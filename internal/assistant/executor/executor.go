// Package executor validates model-produced command objects and runs them
// against the document store.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"hostel-assistant/internal/common/logger"
	"hostel-assistant/internal/common/metrics"
	"hostel-assistant/internal/common/validation"
	"hostel-assistant/internal/models"
	"hostel-assistant/internal/store"
)

var (
	ErrForbiddenOperation = errors.New("FORBIDDEN_OPERATION")
	ErrInvalidCommand     = errors.New("INVALID_COMMAND")
	ErrExecutionFailed    = errors.New("EXECUTION_FAILED")
)

const actionDatabaseQuery = "database_query"

var commandSchema = validation.MustCompile(map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"entityName", "operation"},
	"properties": map[string]interface{}{
		"action":      map[string]interface{}{"type": "string"},
		"entityName":  map[string]interface{}{"type": "string", "minLength": 1},
		"operation":   map[string]interface{}{"type": "string", "minLength": 1},
		"filter":      map[string]interface{}{"type": "object"},
		"update":      map[string]interface{}{"type": "object"},
		"pipeline":    map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "object"}},
		"explanation": map[string]interface{}{"type": "string"},
	},
})

// aliases maps field names models commonly emit to the command fields.
var aliases = map[string]string{
	"collection": "entityName",
	"query":      "filter",
	"updateData": "update",
}

// Validate turns a decoded object into a Command. Delete-family verbs are
// reported as ErrForbiddenOperation, everything else as ErrInvalidCommand.
// It never touches the store.
func Validate(obj map[string]interface{}) (*models.Command, error) {
	normalized := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		normalized[k] = v
	}
	for alias, field := range aliases {
		if v, ok := normalized[alias]; ok {
			if _, taken := normalized[field]; !taken {
				normalized[field] = v
			}
			delete(normalized, alias)
		}
	}

	if op, ok := normalized["operation"].(string); ok && models.Operation(op).IsDestructive() {
		return nil, fmt.Errorf("%w: %s is not permitted", ErrForbiddenOperation, op)
	}

	result, err := commandSchema.Validate(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if !result.Valid {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCommand, result.Summary())
	}

	if action, ok := normalized["action"].(string); ok && action != actionDatabaseQuery {
		return nil, fmt.Errorf("%w: action must be %q, got %q", ErrInvalidCommand, actionDatabaseQuery, action)
	}

	cmd := &models.Command{
		EntityName: models.EntityName(normalized["entityName"].(string)),
		Operation:  models.NormalizeOperation(normalized["operation"].(string)),
	}
	if !cmd.EntityName.IsAllowed() {
		return nil, fmt.Errorf("%w: entityName %q is not one of %s", ErrInvalidCommand, cmd.EntityName, joinEntities())
	}
	if !cmd.Operation.IsAllowed() {
		return nil, fmt.Errorf("%w: operation %q is not one of %s", ErrInvalidCommand, cmd.Operation, joinOperations())
	}

	if f, ok := normalized["filter"].(map[string]interface{}); ok {
		cmd.Filter = f
	}
	if u, ok := normalized["update"].(map[string]interface{}); ok {
		cmd.Update = u
	}
	if p, ok := normalized["pipeline"].([]interface{}); ok {
		cmd.Pipeline = p
	}
	if e, ok := normalized["explanation"].(string); ok {
		cmd.Explanation = e
	}

	switch {
	case cmd.Operation.IsWrite():
		if len(cmd.Update) == 0 {
			return nil, fmt.Errorf("%w: %s requires a non-empty update object", ErrInvalidCommand, cmd.Operation)
		}
	case len(cmd.Update) > 0:
		return nil, fmt.Errorf("%w: update is only valid for updateOne or updateMany", ErrInvalidCommand)
	}

	if cmd.Operation == models.OpAggregate {
		if _, ok := normalized["pipeline"]; !ok {
			return nil, fmt.Errorf("%w: aggregate requires a pipeline array", ErrInvalidCommand)
		}
		for i, raw := range cmd.Pipeline {
			st, _ := raw.(map[string]interface{})
			if len(st) != 1 {
				return nil, fmt.Errorf("%w: pipeline stage %d must have exactly one key", ErrInvalidCommand, i)
			}
		}
	}

	return cmd, nil
}

func joinEntities() string {
	names := models.AllowedEntities()
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	return strings.Join(out, ", ")
}

func joinOperations() string {
	ops := models.AllowedOperations()
	out := make([]string, len(ops))
	for i, o := range ops {
		out[i] = string(o)
	}
	return strings.Join(out, ", ")
}

// MaxFindRows bounds every find, whatever limit the caller configures.
const MaxFindRows = 50

type Executor struct {
	store     store.Store
	enricher  *store.Enricher
	findLimit int
	logger    logger.Logger
}

func New(st store.Store, enricher *store.Enricher, findLimit int, log logger.Logger) *Executor {
	if findLimit <= 0 || findLimit > MaxFindRows {
		findLimit = MaxFindRows
	}
	return &Executor{
		store:     st,
		enricher:  enricher,
		findLimit: findLimit,
		logger:    log.With(map[string]interface{}{"component": "executor"}),
	}
}

// Execute validates obj and runs it.
func (e *Executor) Execute(ctx context.Context, obj map[string]interface{}) (*models.ExecutionOutcome, error) {
	cmd, err := Validate(obj)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, cmd)
}

// Run executes an already validated command. Store failures are returned
// wrapped in ErrExecutionFailed with the store message.
func (e *Executor) Run(ctx context.Context, cmd *models.Command) (*models.ExecutionOutcome, error) {
	out, err := e.run(ctx, cmd)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.StoreOperations.WithLabelValues(string(cmd.EntityName), string(cmd.Operation), status).Inc()

	if err != nil {
		e.logger.Warn("command execution failed", map[string]interface{}{
			"entity":    string(cmd.EntityName),
			"operation": string(cmd.Operation),
			"error":     err.Error(),
		})
		return nil, fmt.Errorf("%w: %v", ErrExecutionFailed, err)
	}
	return out, nil
}

func (e *Executor) run(ctx context.Context, cmd *models.Command) (*models.ExecutionOutcome, error) {
	out := &models.ExecutionOutcome{EntityName: cmd.EntityName, Operation: cmd.Operation}

	switch cmd.Operation {
	case models.OpFind:
		docs, truncated, err := e.store.Find(ctx, cmd.EntityName, cmd.Filter, e.findLimit)
		if err != nil {
			return nil, err
		}
		e.enrich(ctx, cmd.EntityName, docs)
		out.Documents, out.Truncated = docs, truncated

	case models.OpFindOne:
		doc, err := e.store.FindOne(ctx, cmd.EntityName, cmd.Filter)
		if err != nil {
			return nil, err
		}
		if doc != nil {
			e.enrich(ctx, cmd.EntityName, []models.Document{doc})
		}
		out.Document = doc

	case models.OpCount:
		n, err := e.store.Count(ctx, cmd.EntityName, cmd.Filter)
		if err != nil {
			return nil, err
		}
		out.Count = &n

	case models.OpUpdateOne, models.OpUpdateMany:
		if len(cmd.Filter) == 0 {
			e.logger.Warn("update without filter", map[string]interface{}{
				"entity":    string(cmd.EntityName),
				"operation": string(cmd.Operation),
			})
		}
		var (
			res *store.UpdateResult
			err error
		)
		if cmd.Operation == models.OpUpdateOne {
			res, err = e.store.UpdateOne(ctx, cmd.EntityName, cmd.Filter, cmd.Update)
		} else {
			res, err = e.store.UpdateMany(ctx, cmd.EntityName, cmd.Filter, cmd.Update)
		}
		if err != nil {
			return nil, err
		}
		out.Matched, out.Modified = res.Matched, res.Modified

	case models.OpAggregate:
		rows, err := e.store.Aggregate(ctx, cmd.EntityName, cmd.Pipeline)
		if err != nil {
			return nil, err
		}
		out.Rows = rows

	default:
		return nil, fmt.Errorf("operation %s has no executor", cmd.Operation)
	}
	return out, nil
}

// enrich resolves references in place; a failed lookup leaves ids as they are.
func (e *Executor) enrich(ctx context.Context, entity models.EntityName, docs []models.Document) {
	if e.enricher == nil {
		return
	}
	if err := e.enricher.Enrich(ctx, entity, docs); err != nil {
		e.logger.Warn("reference enrichment failed", map[string]interface{}{
			"entity": string(entity),
			"error":  err.Error(),
		})
	}
}
