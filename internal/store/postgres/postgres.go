// Package postgres is a durable memory.Store backed by pgx and pgvector,
// adapted from the teacher's evolving-memory Postgres store and its
// pgvector-backed embeddings table.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"adaptivememory/internal/apperr"
	"adaptivememory/internal/bag"
	"adaptivememory/internal/memory"
)

// Store is a pgx-backed memory.Store. One Store instance serves every
// principal; rows are partitioned by principal_id.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates the schema if it does not already exist. Safe to call on
// every process start.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    principal_id TEXT NOT NULL,
    text TEXT NOT NULL,
    tags TEXT[] NOT NULL DEFAULT '{}',
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
    source TEXT NOT NULL DEFAULT '',
    project_id TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    usage_count INT NOT NULL DEFAULT 0,
    last_accessed TIMESTAMPTZ,
    helpfulness_score DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    access_pattern JSONB NOT NULL DEFAULT '{}'::jsonb,
    embedding vector
);
CREATE INDEX IF NOT EXISTS memories_principal_idx ON memories(principal_id, created_at DESC);

CREATE TABLE IF NOT EXISTS relationships (
    id TEXT PRIMARY KEY,
    principal_id TEXT NOT NULL,
    from_id TEXT NOT NULL,
    to_id TEXT NOT NULL,
    type TEXT NOT NULL,
    strength DOUBLE PRECISION NOT NULL DEFAULT 0,
    explanation TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE(principal_id, from_id, to_id)
);
CREATE INDEX IF NOT EXISTS relationships_from_idx ON relationships(principal_id, from_id);

CREATE TABLE IF NOT EXISTS access_events (
    principal_id TEXT NOT NULL,
    memory_id TEXT NOT NULL,
    context_label TEXT NOT NULL DEFAULT '',
    accessed_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS access_events_principal_idx ON access_events(principal_id, accessed_at);

CREATE TABLE IF NOT EXISTS patterns (
    id TEXT PRIMARY KEY,
    principal_id TEXT NOT NULL,
    identity_key TEXT NOT NULL,
    type TEXT NOT NULL,
    data JSONB NOT NULL DEFAULT '{}'::jsonb,
    confidence DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    occurrences INT NOT NULL DEFAULT 1,
    first_seen TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_seen TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE(principal_id, identity_key)
);

CREATE TABLE IF NOT EXISTS learning_weights (
    principal_id TEXT PRIMARY KEY,
    usage_weight DOUBLE PRECISION NOT NULL DEFAULT 0.3,
    recency_weight DOUBLE PRECISION NOT NULL DEFAULT 0.2,
    helpfulness_weight DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    relationship_weight DOUBLE PRECISION NOT NULL DEFAULT 0.2,
    total_searches INT NOT NULL DEFAULT 0,
    positive_feedback_count INT NOT NULL DEFAULT 0,
    negative_feedback_count INT NOT NULL DEFAULT 0,
    avg_search_satisfaction DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    last_weight_update TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS prediction_cache (
    principal_id TEXT NOT NULL,
    cache_key TEXT NOT NULL,
    predictions JSONB NOT NULL,
    context_hash TEXT NOT NULL DEFAULT '',
    expires_at TIMESTAMPTZ NOT NULL,
    hit_count INT NOT NULL DEFAULT 0,
    PRIMARY KEY (principal_id, cache_key)
);

CREATE TABLE IF NOT EXISTS learning_metrics (
    principal_id TEXT NOT NULL,
    type TEXT NOT NULL,
    value DOUBLE PRECISION NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL,
    context TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS learning_metrics_principal_idx ON learning_metrics(principal_id, type, recorded_at);
`)
	return err
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func toVectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", x)
	}
	b.WriteByte(']')
	return b.String()
}

func (s *Store) CreateMemory(ctx context.Context, m *memory.Memory) error {
	if m.ID == "" {
		m.ID = memory.NewID("mem")
	}
	metaJSON, err := json.Marshal(m.Metadata)
	if err != nil {
		return err
	}
	apJSON, err := json.Marshal(m.AccessPattern)
	if err != nil {
		return err
	}
	var embLit any
	if len(m.Embedding) > 0 {
		embLit = toVectorLiteral(m.Embedding)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO memories (id, principal_id, text, tags, metadata, source, project_id, created_at, updated_at,
    usage_count, last_accessed, helpfulness_score, access_pattern, embedding)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14::vector)`,
		m.ID, m.PrincipalID, m.Text, m.Tags, metaJSON, m.Source, m.ProjectID, m.CreatedAt, m.UpdatedAt,
		m.UsageCount, m.LastAccessed, m.HelpfulnessScore, apJSON, embLit)
	if err != nil && isUniqueViolation(err) {
		return apperr.Conflict("memory already exists: " + m.ID)
	}
	return err
}

func scanMemory(row pgx.Row) (*memory.Memory, error) {
	var m memory.Memory
	var metaBytes, apBytes []byte
	var embLit *string
	if err := row.Scan(&m.ID, &m.PrincipalID, &m.Text, &m.Tags, &metaBytes, &m.Source, &m.ProjectID,
		&m.CreatedAt, &m.UpdatedAt, &m.UsageCount, &m.LastAccessed, &m.HelpfulnessScore, &apBytes, &embLit); err != nil {
		return nil, err
	}
	m.Metadata = bag.Bag{}
	if len(metaBytes) > 0 {
		_ = json.Unmarshal(metaBytes, &m.Metadata)
	}
	m.AccessPattern = bag.Bag{}
	if len(apBytes) > 0 {
		_ = json.Unmarshal(apBytes, &m.AccessPattern)
	}
	if embLit != nil {
		m.Embedding = parseVectorLiteral(*embLit)
	}
	return &m, nil
}

func parseVectorLiteral(s string) []float32 {
	s = strings.Trim(s, "[]")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, 0, len(parts))
	for _, p := range parts {
		var f float64
		fmt.Sscanf(strings.TrimSpace(p), "%g", &f)
		out = append(out, float32(f))
	}
	return out
}

const memoryColumns = `id, principal_id, text, tags, metadata, source, project_id, created_at, updated_at,
    usage_count, last_accessed, helpfulness_score, access_pattern, embedding::text`

func (s *Store) GetMemory(ctx context.Context, principalID, id string) (*memory.Memory, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+memoryColumns+` FROM memories WHERE principal_id=$1 AND id=$2`, principalID, id)
	m, err := scanMemory(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.NotFound("memory not found: " + id)
		}
		return nil, err
	}
	return m, nil
}

// UpdateMemory loads the row FOR UPDATE inside a transaction, applies mutate,
// and writes the result back, so concurrent UpdateMemory/IncrementUsage
// calls on the same id serialize through Postgres row locking.
func (s *Store) UpdateMemory(ctx context.Context, principalID, id string, mutate func(*memory.Memory) error) (*memory.Memory, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+memoryColumns+` FROM memories WHERE principal_id=$1 AND id=$2 FOR UPDATE`, principalID, id)
	m, err := scanMemory(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.NotFound("memory not found: " + id)
		}
		return nil, err
	}
	if err := mutate(m); err != nil {
		return nil, err
	}
	metaJSON, _ := json.Marshal(m.Metadata)
	apJSON, _ := json.Marshal(m.AccessPattern)
	var embLit any
	if len(m.Embedding) > 0 {
		embLit = toVectorLiteral(m.Embedding)
	}
	_, err = tx.Exec(ctx, `
UPDATE memories SET text=$3, tags=$4, metadata=$5, source=$6, project_id=$7, updated_at=$8,
    usage_count=$9, last_accessed=$10, helpfulness_score=$11, access_pattern=$12, embedding=$13::vector
WHERE principal_id=$1 AND id=$2`,
		principalID, id, m.Text, m.Tags, metaJSON, m.Source, m.ProjectID, m.UpdatedAt,
		m.UsageCount, m.LastAccessed, m.HelpfulnessScore, apJSON, embLit)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) DeleteMemory(ctx context.Context, principalID, id string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM memories WHERE principal_id=$1 AND id=$2`, principalID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("memory not found: " + id)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM relationships WHERE principal_id=$1 AND (from_id=$2 OR to_id=$2)`, principalID, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM prediction_cache WHERE principal_id=$1 AND predictions::text LIKE '%'||$2||'%'`, principalID, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) ListMemories(ctx context.Context, principalID string, limit, offset int) ([]*memory.Memory, error) {
	if limit <= 0 {
		limit = 1 << 30
	}
	rows, err := s.pool.Query(ctx, `SELECT `+memoryColumns+` FROM memories WHERE principal_id=$1 ORDER BY id ASC LIMIT $2 OFFSET $3`,
		principalID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*memory.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) SearchByVector(ctx context.Context, principalID string, vector []float32, k int) ([]memory.VectorHit, error) {
	if k <= 0 {
		k = 10
	}
	vecLit := toVectorLiteral(vector)
	rows, err := s.pool.Query(ctx, `
SELECT `+memoryColumns+`, 1 - (embedding <=> $2::vector) AS score
FROM memories
WHERE principal_id=$1 AND embedding IS NOT NULL
ORDER BY embedding <=> $2::vector
LIMIT $3`, principalID, vecLit, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []memory.VectorHit
	for rows.Next() {
		var m memory.Memory
		var metaBytes, apBytes []byte
		var embLit *string
		var score float64
		if err := rows.Scan(&m.ID, &m.PrincipalID, &m.Text, &m.Tags, &metaBytes, &m.Source, &m.ProjectID,
			&m.CreatedAt, &m.UpdatedAt, &m.UsageCount, &m.LastAccessed, &m.HelpfulnessScore, &apBytes, &embLit, &score); err != nil {
			return nil, err
		}
		m.Metadata = bag.Bag{}
		if len(metaBytes) > 0 {
			_ = json.Unmarshal(metaBytes, &m.Metadata)
		}
		m.AccessPattern = bag.Bag{}
		if len(apBytes) > 0 {
			_ = json.Unmarshal(apBytes, &m.AccessPattern)
		}
		if embLit != nil {
			m.Embedding = parseVectorLiteral(*embLit)
		}
		out = append(out, memory.VectorHit{Memory: &m, BaseSimilarity: score})
	}
	return out, rows.Err()
}

func (s *Store) IncrementUsage(ctx context.Context, principalID, id string, contextLabel string, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE memories
SET usage_count = usage_count + 1,
    last_accessed = $3,
    access_pattern = CASE WHEN $4 <> '' THEN
        jsonb_set(
            COALESCE(access_pattern, '{}'::jsonb),
            ARRAY['contexts', $4],
            to_jsonb(COALESCE((access_pattern #>> ARRAY['contexts', $4])::int, 0) + 1)
        )
    ELSE access_pattern END
WHERE principal_id=$1 AND id=$2`, principalID, id, now, contextLabel)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("memory not found: " + id)
	}
	return nil
}

func (s *Store) AppendAccessEvent(ctx context.Context, ev *memory.AccessEvent) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO access_events (principal_id, memory_id, context_label, accessed_at) VALUES ($1,$2,$3,$4)`,
		ev.PrincipalID, ev.MemoryID, ev.ContextLabel, ev.AccessedAt)
	return err
}

func (s *Store) ListAccessEvents(ctx context.Context, principalID string, since time.Time) ([]*memory.AccessEvent, error) {
	rows, err := s.pool.Query(ctx, `SELECT principal_id, memory_id, context_label, accessed_at FROM access_events
WHERE principal_id=$1 AND accessed_at >= $2 ORDER BY accessed_at ASC`, principalID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*memory.AccessEvent
	for rows.Next() {
		var ev memory.AccessEvent
		if err := rows.Scan(&ev.PrincipalID, &ev.MemoryID, &ev.ContextLabel, &ev.AccessedAt); err != nil {
			return nil, err
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func (s *Store) CreateRelationship(ctx context.Context, r *memory.Relationship) error {
	if r.ID == "" {
		r.ID = memory.NewID("rel")
	}
	var fromExists, toExists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM memories WHERE principal_id=$1 AND id=$2)`, r.PrincipalID, r.From).Scan(&fromExists); err != nil {
		return err
	}
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM memories WHERE principal_id=$1 AND id=$2)`, r.PrincipalID, r.To).Scan(&toExists); err != nil {
		return err
	}
	if !fromExists {
		return apperr.InvalidInput("from memory does not exist: " + r.From)
	}
	if !toExists {
		return apperr.InvalidInput("to memory does not exist: " + r.To)
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO relationships (id, principal_id, from_id, to_id, type, strength, explanation, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, r.ID, r.PrincipalID, r.From, r.To, string(r.Type), r.Strength, r.Explanation, r.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return apperr.Conflict("relationship already exists")
	}
	return err
}

func (s *Store) RelationshipExists(ctx context.Context, principalID, from, to string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM relationships WHERE principal_id=$1 AND from_id=$2 AND to_id=$3)`,
		principalID, from, to).Scan(&exists)
	return exists, err
}

func scanRelationships(rows pgx.Rows) ([]*memory.Relationship, error) {
	var out []*memory.Relationship
	for rows.Next() {
		var r memory.Relationship
		var typ string
		if err := rows.Scan(&r.ID, &r.PrincipalID, &r.From, &r.To, &typ, &r.Strength, &r.Explanation, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Type = memory.RelationshipType(typ)
		out = append(out, &r)
	}
	return out, rows.Err()
}

const relationshipColumns = `id, principal_id, from_id, to_id, type, strength, explanation, created_at`

func (s *Store) ListRelationshipsFrom(ctx context.Context, principalID, fromID string) ([]*memory.Relationship, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+relationshipColumns+` FROM relationships WHERE principal_id=$1 AND from_id=$2`, principalID, fromID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRelationships(rows)
}

func (s *Store) ListRelationshipsForPrincipal(ctx context.Context, principalID string) ([]*memory.Relationship, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+relationshipColumns+` FROM relationships WHERE principal_id=$1`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRelationships(rows)
}

func (s *Store) DeleteRelationshipsForMemory(ctx context.Context, principalID, memoryID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM relationships WHERE principal_id=$1 AND (from_id=$2 OR to_id=$2)`, principalID, memoryID)
	return err
}

func (s *Store) UpsertPattern(ctx context.Context, p *memory.TemporalPattern) (*memory.TemporalPattern, error) {
	key := p.IdentityKey()
	dataJSON, err := json.Marshal(p.Data)
	if err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = memory.NewID("pat")
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO patterns (id, principal_id, identity_key, type, data, confidence, occurrences, first_seen, last_seen)
VALUES ($1,$2,$3,$4,$5,0.5,1,now(),now())
ON CONFLICT (principal_id, identity_key) DO UPDATE SET
    occurrences = patterns.occurrences + 1,
    confidence = LEAST(1.0, patterns.confidence + 0.05),
    last_seen = now()
RETURNING id, principal_id, type, data, confidence, occurrences, first_seen, last_seen`,
		p.ID, p.PrincipalID, key, string(p.Type), dataJSON)

	var out memory.TemporalPattern
	var typ string
	var dataBytes []byte
	if err := row.Scan(&out.ID, &out.PrincipalID, &typ, &dataBytes, &out.Confidence, &out.Occurrences, &out.FirstSeen, &out.LastSeen); err != nil {
		return nil, err
	}
	out.Type = memory.PatternType(typ)
	out.Data = bag.Bag{}
	if len(dataBytes) > 0 {
		_ = json.Unmarshal(dataBytes, &out.Data)
	}
	return &out, nil
}

func (s *Store) ListPatterns(ctx context.Context, principalID string) ([]*memory.TemporalPattern, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, principal_id, type, data, confidence, occurrences, first_seen, last_seen FROM patterns WHERE principal_id=$1`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*memory.TemporalPattern
	for rows.Next() {
		var p memory.TemporalPattern
		var typ string
		var dataBytes []byte
		if err := rows.Scan(&p.ID, &p.PrincipalID, &typ, &dataBytes, &p.Confidence, &p.Occurrences, &p.FirstSeen, &p.LastSeen); err != nil {
			return nil, err
		}
		p.Type = memory.PatternType(typ)
		p.Data = bag.Bag{}
		if len(dataBytes) > 0 {
			_ = json.Unmarshal(dataBytes, &p.Data)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *Store) GetOrCreateWeights(ctx context.Context, principalID string) (*memory.LearningWeights, error) {
	d := memory.DefaultWeights(principalID)
	row := s.pool.QueryRow(ctx, `
INSERT INTO learning_weights (principal_id, usage_weight, recency_weight, helpfulness_weight, relationship_weight, avg_search_satisfaction)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (principal_id) DO UPDATE SET principal_id = learning_weights.principal_id
RETURNING principal_id, usage_weight, recency_weight, helpfulness_weight, relationship_weight,
    total_searches, positive_feedback_count, negative_feedback_count, avg_search_satisfaction, last_weight_update`,
		principalID, d.UsageWeight, d.RecencyWeight, d.HelpfulnessWeight, d.RelationshipWeight, d.AvgSearchSatisfaction)
	return scanWeights(row)
}

func scanWeights(row pgx.Row) (*memory.LearningWeights, error) {
	var w memory.LearningWeights
	var lastUpdate *time.Time
	if err := row.Scan(&w.PrincipalID, &w.UsageWeight, &w.RecencyWeight, &w.HelpfulnessWeight, &w.RelationshipWeight,
		&w.TotalSearches, &w.PositiveFeedbackCount, &w.NegativeFeedbackCount, &w.AvgSearchSatisfaction, &lastUpdate); err != nil {
		return nil, err
	}
	if lastUpdate != nil {
		w.LastWeightUpdate = *lastUpdate
	}
	return &w, nil
}

func (s *Store) UpdateWeights(ctx context.Context, principalID string, mutate func(*memory.LearningWeights) error) (*memory.LearningWeights, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	d := memory.DefaultWeights(principalID)
	_, err = tx.Exec(ctx, `
INSERT INTO learning_weights (principal_id, usage_weight, recency_weight, helpfulness_weight, relationship_weight, avg_search_satisfaction)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (principal_id) DO NOTHING`, principalID, d.UsageWeight, d.RecencyWeight, d.HelpfulnessWeight, d.RelationshipWeight, d.AvgSearchSatisfaction)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `SELECT principal_id, usage_weight, recency_weight, helpfulness_weight, relationship_weight,
    total_searches, positive_feedback_count, negative_feedback_count, avg_search_satisfaction, last_weight_update
FROM learning_weights WHERE principal_id=$1 FOR UPDATE`, principalID)
	w, err := scanWeights(row)
	if err != nil {
		return nil, err
	}
	if err := mutate(w); err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
UPDATE learning_weights SET usage_weight=$2, recency_weight=$3, helpfulness_weight=$4, relationship_weight=$5,
    total_searches=$6, positive_feedback_count=$7, negative_feedback_count=$8, avg_search_satisfaction=$9, last_weight_update=$10
WHERE principal_id=$1`, principalID, w.UsageWeight, w.RecencyWeight, w.HelpfulnessWeight, w.RelationshipWeight,
		w.TotalSearches, w.PositiveFeedbackCount, w.NegativeFeedbackCount, w.AvgSearchSatisfaction, w.LastWeightUpdate)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *Store) GetCacheEntry(ctx context.Context, principalID, cacheKey string) (*memory.PredictionCacheEntry, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT principal_id, cache_key, predictions, context_hash, expires_at, hit_count
FROM prediction_cache WHERE principal_id=$1 AND cache_key=$2`, principalID, cacheKey)
	var e memory.PredictionCacheEntry
	var predBytes []byte
	if err := row.Scan(&e.PrincipalID, &e.CacheKey, &predBytes, &e.ContextHash, &e.ExpiresAt, &e.HitCount); err != nil {
		if err == pgx.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	_ = json.Unmarshal(predBytes, &e.Predictions)
	return &e, true, nil
}

func (s *Store) PutCacheEntry(ctx context.Context, e *memory.PredictionCacheEntry) error {
	predJSON, err := json.Marshal(e.Predictions)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO prediction_cache (principal_id, cache_key, predictions, context_hash, expires_at, hit_count)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (principal_id, cache_key) DO UPDATE SET predictions=EXCLUDED.predictions, context_hash=EXCLUDED.context_hash,
    expires_at=EXCLUDED.expires_at, hit_count=EXCLUDED.hit_count`,
		e.PrincipalID, e.CacheKey, predJSON, e.ContextHash, e.ExpiresAt, e.HitCount)
	return err
}

func (s *Store) EvictCacheForMemory(ctx context.Context, principalID, memoryID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM prediction_cache WHERE principal_id=$1 AND predictions::text LIKE '%'||$2||'%'`, principalID, memoryID)
	return err
}

func (s *Store) ListPrincipals(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT principal_id FROM memories ORDER BY principal_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) RecordMetric(ctx context.Context, m *memory.LearningMetric) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO learning_metrics (principal_id, type, value, recorded_at, context) VALUES ($1,$2,$3,$4,$5)`,
		m.PrincipalID, string(m.Type), m.Value, m.RecordedAt, m.Context)
	return err
}

func (s *Store) ListMetrics(ctx context.Context, principalID string, metricType memory.MetricType, since time.Time) ([]*memory.LearningMetric, error) {
	rows, err := s.pool.Query(ctx, `SELECT principal_id, type, value, recorded_at, context FROM learning_metrics
WHERE principal_id=$1 AND type=$2 AND recorded_at >= $3 ORDER BY recorded_at ASC`, principalID, string(metricType), since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*memory.LearningMetric
	for rows.Next() {
		var m memory.LearningMetric
		var typ string
		if err := rows.Scan(&m.PrincipalID, &typ, &m.Value, &m.RecordedAt, &m.Context); err != nil {
			return nil, err
		}
		m.Type = memory.MetricType(typ)
		out = append(out, &m)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "SQLSTATE 23505")
}
