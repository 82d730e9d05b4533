// Package store keeps hostel records as JSONB documents in Postgres and
// evaluates the document-style filters, updates and pipelines that admin
// commands carry.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"hostel-assistant/internal/common/logger"
	"hostel-assistant/internal/models"
)

var (
	ErrUnknownEntity   = errors.New("UNKNOWN_ENTITY")
	ErrInvalidFilter   = errors.New("INVALID_FILTER")
	ErrInvalidUpdate   = errors.New("INVALID_UPDATE")
	ErrInvalidPipeline = errors.New("INVALID_PIPELINE")
	ErrQueryFailed     = errors.New("STORE_QUERY_FAILED")
)

// UpdateResult reports how many documents matched and actually changed.
type UpdateResult struct {
	Matched  int64 `json:"matchedCount"`
	Modified int64 `json:"modifiedCount"`
}

// Store is the document access used by the command executor and the
// student assistant.
type Store interface {
	Find(ctx context.Context, entity models.EntityName, filter map[string]interface{}, limit int) ([]models.Document, bool, error)
	FindOne(ctx context.Context, entity models.EntityName, filter map[string]interface{}) (models.Document, error)
	Count(ctx context.Context, entity models.EntityName, filter map[string]interface{}) (int64, error)
	UpdateOne(ctx context.Context, entity models.EntityName, filter, update map[string]interface{}) (*UpdateResult, error)
	UpdateMany(ctx context.Context, entity models.EntityName, filter, update map[string]interface{}) (*UpdateResult, error)
	Aggregate(ctx context.Context, entity models.EntityName, pipeline []interface{}) ([]models.Document, error)
	FindByIDs(ctx context.Context, entity models.EntityName, ids []string) (map[string]models.Document, error)
}

type PostgresStore struct {
	db        *sql.DB
	scanLimit int
	logger    logger.Logger
}

func NewPostgresStore(db *sql.DB, scanLimit int, log logger.Logger) *PostgresStore {
	if scanLimit <= 0 {
		scanLimit = 5000
	}
	return &PostgresStore{
		db:        db,
		scanLimit: scanLimit,
		logger:    log.With(map[string]interface{}{"component": "store"}),
	}
}

func tableFor(entity models.EntityName) (string, error) {
	table := entity.Table()
	if table == "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}
	return table, nil
}

// EnsureSchema creates the per-entity tables and containment indexes.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, entity := range models.AllowedEntities() {
		table := entity.Table()
		stmts := []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, doc JSONB NOT NULL DEFAULT '{}'::jsonb)`, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_doc_gin ON %s USING GIN (doc jsonb_path_ops)`, table, table),
		}
		for _, stmt := range stmts {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("%w: ensure %s: %v", ErrQueryFailed, table, err)
			}
		}
	}
	s.logger.Info("document tables ready", map[string]interface{}{
		"tables": len(models.AllowedEntities()),
	})
	return nil
}

// Find returns up to limit documents ordered by id; truncated reports
// whether more matched.
func (s *PostgresStore) Find(ctx context.Context, entity models.EntityName, filter map[string]interface{}, limit int) ([]models.Document, bool, error) {
	table, err := tableFor(entity)
	if err != nil {
		return nil, false, err
	}

	b := &sqlBuilder{}
	where, err := b.where(filter)
	if err != nil {
		return nil, false, err
	}
	query := fmt.Sprintf("SELECT id, doc FROM %s WHERE %s ORDER BY id", table, where)
	if limit > 0 {
		query += " LIMIT " + b.bind(limit+1)
	}

	docs, err := s.queryDocuments(ctx, query, b.args...)
	if err != nil {
		return nil, false, err
	}
	if limit > 0 && len(docs) > limit {
		return docs[:limit], true, nil
	}
	return docs, false, nil
}

// FindOne returns the first matching document by id order, or nil.
func (s *PostgresStore) FindOne(ctx context.Context, entity models.EntityName, filter map[string]interface{}) (models.Document, error) {
	docs, _, err := s.Find(ctx, entity, filter, 1)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}

func (s *PostgresStore) Count(ctx context.Context, entity models.EntityName, filter map[string]interface{}) (int64, error) {
	table, err := tableFor(entity)
	if err != nil {
		return 0, err
	}

	b := &sqlBuilder{}
	where, err := b.where(filter)
	if err != nil {
		return 0, err
	}

	var count int64
	query := fmt.Sprintf("SELECT count(*) FROM %s WHERE %s", table, where)
	if err := s.db.QueryRowContext(ctx, query, b.args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return count, nil
}

func (s *PostgresStore) UpdateOne(ctx context.Context, entity models.EntityName, filter, update map[string]interface{}) (*UpdateResult, error) {
	return s.update(ctx, entity, filter, update, true)
}

func (s *PostgresStore) UpdateMany(ctx context.Context, entity models.EntityName, filter, update map[string]interface{}) (*UpdateResult, error) {
	return s.update(ctx, entity, filter, update, false)
}

// update counts matches and real modifications in one statement: rows whose
// document would not change are matched but left untouched.
func (s *PostgresStore) update(ctx context.Context, entity models.EntityName, filter, update map[string]interface{}, single bool) (*UpdateResult, error) {
	table, err := tableFor(entity)
	if err != nil {
		return nil, err
	}

	b := &sqlBuilder{}
	where, err := b.where(filter)
	if err != nil {
		return nil, err
	}
	expr, err := b.updateExpr(update)
	if err != nil {
		return nil, err
	}

	limit := ""
	if single {
		limit = " LIMIT 1"
	}
	query := fmt.Sprintf(`WITH matched AS (
	SELECT id AS match_id FROM %[1]s WHERE %[2]s ORDER BY id%[3]s
), updated AS (
	UPDATE %[1]s SET doc = %[4]s FROM matched
	WHERE %[1]s.id = matched.match_id AND %[1]s.doc IS DISTINCT FROM %[4]s
	RETURNING %[1]s.id
)
SELECT (SELECT count(*) FROM matched), (SELECT count(*) FROM updated)`, table, where, limit, expr)

	result := &UpdateResult{}
	if err := s.db.QueryRowContext(ctx, query, b.args...).Scan(&result.Matched, &result.Modified); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	s.logger.Info("documents updated", map[string]interface{}{
		"entity":   string(entity),
		"matched":  result.Matched,
		"modified": result.Modified,
	})
	return result, nil
}

// Aggregate pushes leading $match stages into SQL, scans at most the
// configured number of rows and runs the remaining stages in memory.
func (s *PostgresStore) Aggregate(ctx context.Context, entity models.EntityName, pipeline []interface{}) ([]models.Document, error) {
	table, err := tableFor(entity)
	if err != nil {
		return nil, err
	}

	stages, err := parseStages(pipeline)
	if err != nil {
		return nil, err
	}
	filters, rest, err := splitPushdown(stages)
	if err != nil {
		return nil, err
	}
	// Reject unknown stages before touching the database.
	for _, st := range rest {
		if !supportedStages[st.name] {
			return nil, fmt.Errorf("%w: unsupported stage %s", ErrInvalidPipeline, st.name)
		}
	}

	b := &sqlBuilder{}
	clauses := make([]string, 0, len(filters))
	for _, f := range filters {
		clause, err := b.where(f)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
	}
	where := "TRUE"
	if len(clauses) > 0 {
		where = strings.Join(clauses, " AND ")
	}

	query := fmt.Sprintf("SELECT id, doc FROM %s WHERE %s ORDER BY id LIMIT %s", table, where, b.bind(s.scanLimit+1))
	docs, err := s.queryDocuments(ctx, query, b.args...)
	if err != nil {
		return nil, err
	}
	if len(docs) > s.scanLimit {
		s.logger.Warn("aggregate scan limit reached", map[string]interface{}{
			"entity": string(entity),
			"limit":  s.scanLimit,
		})
		docs = docs[:s.scanLimit]
	}

	return runStages(docs, rest)
}

var supportedStages = map[string]bool{
	"$match": true, "$group": true, "$sort": true, "$limit": true,
	"$skip": true, "$project": true, "$count": true,
}

// FindByIDs loads the documents with the given ids, keyed by id.
func (s *PostgresStore) FindByIDs(ctx context.Context, entity models.EntityName, ids []string) (map[string]models.Document, error) {
	table, err := tableFor(entity)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return map[string]models.Document{}, nil
	}

	query := fmt.Sprintf("SELECT id, doc FROM %s WHERE id = ANY($1)", table)
	docs, err := s.queryDocuments(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}

	out := make(map[string]models.Document, len(docs))
	for _, doc := range docs {
		if id, ok := doc[idField].(string); ok {
			out[id] = doc
		}
	}
	return out, nil
}

func (s *PostgresStore) queryDocuments(ctx context.Context, query string, args ...interface{}) ([]models.Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer rows.Close()

	docs := make([]models.Document, 0)
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}
		doc := models.Document{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &doc); err != nil {
				return nil, fmt.Errorf("%w: decode %s: %v", ErrQueryFailed, id, err)
			}
		}
		doc[idField] = id
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return docs, nil
}
