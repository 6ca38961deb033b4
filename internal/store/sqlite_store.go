// SQLite store implementation, using ncruces/go-sqlite3/driver which
// provides a database/sql interface.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNameRequired is returned when an entity name is empty after trimming.
var ErrNameRequired = errors.New("store: entity name required")

// ErrTripleIncomplete is returned when a triple is missing subject,
// predicate, or object.
var ErrTripleIncomplete = errors.New("store: triple requires subject, predicate and object")

// busyTimeoutMillis bounds the lock wait when another process holds the
// write lock on the same database file.
const busyTimeoutMillis = 5000

// SQLiteStore is the SQLite-backed graph store for a single agent's data.
// Thread-safe; a single in-process writer with WAL for cross-process readers.
type SQLiteStore struct {
	mu sync.RWMutex
	db *sql.DB
}

// schema defines the three graph tables and their indices.
const schema = `
-- Entities (Registry)
-- id is derived from the canonical name (lowercase, trimmed, whitespace
-- collapsed to '_'); the same id under two agents is two independent rows.
CREATE TABLE IF NOT EXISTS entities (
    id TEXT NOT NULL,
    agent_id TEXT NOT NULL DEFAULT 'main',
    canonical_name TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    first_seen INTEGER NOT NULL,
    last_seen INTEGER NOT NULL,
    mention_count INTEGER NOT NULL DEFAULT 1,
    aliases TEXT,
    metadata TEXT,
    PRIMARY KEY (id, agent_id)
);

CREATE INDEX IF NOT EXISTS idx_entities_name ON entities(canonical_name);
CREATE INDEX IF NOT EXISTS idx_entities_seen ON entities(agent_id, last_seen);

-- Triples (Facts)
-- subject/object hold normalized entity ids. One row per
-- (subject, predicate, object, agent_id); conflicts accumulate confidence.
CREATE TABLE IF NOT EXISTS triples (
    id TEXT PRIMARY KEY,
    subject TEXT NOT NULL,
    predicate TEXT NOT NULL,
    object TEXT NOT NULL,
    confidence REAL NOT NULL DEFAULT 1.0,
    source_exchange_id TEXT,
    source_date TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    agent_id TEXT NOT NULL DEFAULT 'main',
    pending_resolution INTEGER NOT NULL DEFAULT 0,
    UNIQUE (subject, predicate, object, agent_id)
);

CREATE INDEX IF NOT EXISTS idx_triples_subject ON triples(subject, agent_id);
CREATE INDEX IF NOT EXISTS idx_triples_object ON triples(object, agent_id);
CREATE INDEX IF NOT EXISTS idx_triples_exchange ON triples(source_exchange_id);

-- Co-occurrences
-- One row per unordered pair, keyed with entity_a < entity_b. Callers sort
-- the pair before upsert. No agent column; isolation comes from the
-- per-agent database file.
CREATE TABLE IF NOT EXISTS cooccurrences (
    entity_a TEXT NOT NULL,
    entity_b TEXT NOT NULL,
    count INTEGER NOT NULL DEFAULT 1,
    last_seen INTEGER NOT NULL,
    PRIMARY KEY (entity_a, entity_b)
);

CREATE INDEX IF NOT EXISTS idx_cooccurrences_b ON cooccurrences(entity_b);
`

// NewSQLiteStore creates a new in-memory store. Used by tests.
func NewSQLiteStore() (*SQLiteStore, error) {
	return NewSQLiteStoreWithDSN(":memory:")
}

// NewSQLiteStoreWithDSN creates a store with a specific data source name.
// Use ":memory:" for in-memory or a file path for persistent storage.
func NewSQLiteStoreWithDSN(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: database/sql would otherwise hand ":memory:" callers
	// a fresh empty database per pooled connection.
	db.SetMaxOpenConns(1)

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode = wal").Scan(&mode); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	var timeout int
	if err := db.QueryRow(fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMillis)).Scan(&timeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// execer abstracts *sql.DB and *sql.Tx so entity/triple/co-occurrence
// writes run identically inside and outside WriteExchange's transaction.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

// =============================================================================
// Entity Registry
// =============================================================================

// UpsertEntity inserts the entity with mention_count=1 if absent; otherwise
// increments mention_count and refreshes last_seen. Returns the normalized id.
func (s *SQLiteStore) UpsertEntity(name, entityType, agentID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertEntity(s.db, name, entityType, agentID)
}

// ResolveEntity reports whether the entity existed before this call's
// implicit upsert. The existence check runs before the upsert side effect.
func (s *SQLiteStore) ResolveEntity(name, entityType, agentID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := NormalizeEntityID(name)
	if id == "" {
		return "", false, ErrNameRequired
	}
	if agentID == "" {
		agentID = DefaultAgentID
	}

	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM entities WHERE id = ? AND agent_id = ?`, id, agentID,
	).Scan(&one)
	exists := err == nil
	if err != nil && err != sql.ErrNoRows {
		return "", false, err
	}

	if _, err := upsertEntity(s.db, name, entityType, agentID); err != nil {
		return "", false, err
	}
	return id, !exists, nil
}

func upsertEntity(q execer, name, entityType, agentID string) (string, error) {
	id := NormalizeEntityID(name)
	if id == "" {
		return "", ErrNameRequired
	}
	if agentID == "" {
		agentID = DefaultAgentID
	}

	now := time.Now().UnixMilli()
	_, err := q.Exec(`
		INSERT INTO entities (id, agent_id, canonical_name, entity_type,
			first_seen, last_seen, mention_count, aliases)
		VALUES (?, ?, ?, ?, ?, ?, 1, '[]')
		ON CONFLICT(id, agent_id) DO UPDATE SET
			mention_count = mention_count + 1,
			last_seen = excluded.last_seen
	`, id, agentID, strings.TrimSpace(name), entityType, now, now)
	if err != nil {
		return "", fmt.Errorf("upsert entity %q: %w", id, err)
	}
	return id, nil
}

// GetEntity retrieves an entity by normalized id under the default agent.
func (s *SQLiteStore) GetEntity(id string) (*Entity, error) {
	return s.getEntity(id, DefaultAgentID)
}

// GetEntityByName normalizes the name and looks the entity up for one agent.
func (s *SQLiteStore) GetEntityByName(name, agentID string) (*Entity, error) {
	return s.getEntity(NormalizeEntityID(name), agentID)
}

func (s *SQLiteStore) getEntity(id, agentID string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if agentID == "" {
		agentID = DefaultAgentID
	}

	var e Entity
	var aliasesJSON, metadata sql.NullString
	err := s.db.QueryRow(`
		SELECT id, agent_id, canonical_name, entity_type, first_seen,
			last_seen, mention_count, aliases, metadata
		FROM entities WHERE id = ? AND agent_id = ?
	`, id, agentID).Scan(
		&e.ID, &e.AgentID, &e.CanonicalName, &e.EntityType, &e.FirstSeen,
		&e.LastSeen, &e.MentionCount, &aliasesJSON, &metadata,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if aliasesJSON.Valid && aliasesJSON.String != "" {
		if err := json.Unmarshal([]byte(aliasesJSON.String), &e.Aliases); err != nil {
			e.Aliases = []string{}
		}
	}
	if metadata.Valid {
		e.Metadata = metadata.String
	}
	return &e, nil
}

// FindEntitiesByPrefix returns entities whose stored canonical name starts
// with prefix (case-sensitive), capped at limit (default 10).
func (s *SQLiteStore) FindEntitiesByPrefix(prefix, agentID string, limit int) ([]*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if agentID == "" {
		agentID = DefaultAgentID
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.Query(`
		SELECT id, agent_id, canonical_name, entity_type, first_seen,
			last_seen, mention_count, aliases, metadata
		FROM entities
		WHERE agent_id = ? AND canonical_name GLOB ?
		ORDER BY mention_count DESC
		LIMIT ?
	`, agentID, globPrefix(prefix), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntities(rows)
}

// globPrefix builds a case-sensitive GLOB pattern matching the literal
// prefix. LIKE is case-insensitive for ASCII in SQLite; GLOB is not.
func globPrefix(prefix string) string {
	r := strings.NewReplacer("*", "[*]", "?", "[?]", "[", "[[]")
	return r.Replace(prefix) + "*"
}

func scanEntities(rows *sql.Rows) ([]*Entity, error) {
	var entities []*Entity
	for rows.Next() {
		var e Entity
		var aliasesJSON, metadata sql.NullString
		if err := rows.Scan(
			&e.ID, &e.AgentID, &e.CanonicalName, &e.EntityType, &e.FirstSeen,
			&e.LastSeen, &e.MentionCount, &aliasesJSON, &metadata,
		); err != nil {
			return nil, err
		}
		if aliasesJSON.Valid && aliasesJSON.String != "" {
			if err := json.Unmarshal([]byte(aliasesJSON.String), &e.Aliases); err != nil {
				e.Aliases = []string{}
			}
		}
		if metadata.Valid {
			e.Metadata = metadata.String
		}
		entities = append(entities, &e)
	}
	return entities, rows.Err()
}

// =============================================================================
// Triple Store
// =============================================================================

// AddTriple inserts a triple, or on an exact (subject, predicate, object,
// agent) match raises the existing row's confidence to max(old, new) and
// returns the existing id. Subject and object are normalized before lookup.
func (s *SQLiteStore) AddTriple(in TripleInput) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return addTriple(s.db, in)
}

func addTriple(q execer, in TripleInput) (string, error) {
	subject := NormalizeEntityID(in.Subject)
	object := NormalizeEntityID(in.Object)
	predicate := strings.TrimSpace(in.Predicate)
	if subject == "" || predicate == "" || object == "" {
		return "", ErrTripleIncomplete
	}

	agentID := in.AgentID
	if agentID == "" {
		agentID = DefaultAgentID
	}
	confidence := in.Confidence
	if confidence <= 0 {
		confidence = 1.0
	}
	sourceDate := in.SourceDate
	if sourceDate == "" {
		sourceDate = time.Now().UTC().Format("2006-01-02")
	}

	var existingID string
	var existingConfidence float64
	err := q.QueryRow(`
		SELECT id, confidence FROM triples
		WHERE subject = ? AND predicate = ? AND object = ? AND agent_id = ?
	`, subject, predicate, object, agentID).Scan(&existingID, &existingConfidence)
	if err != nil && err != sql.ErrNoRows {
		return "", err
	}

	now := time.Now().UnixMilli()
	if err == nil {
		if confidence < existingConfidence {
			confidence = existingConfidence
		}
		if _, err := q.Exec(`
			UPDATE triples SET confidence = ?, updated_at = ? WHERE id = ?
		`, confidence, now, existingID); err != nil {
			return "", fmt.Errorf("update triple %s: %w", existingID, err)
		}
		return existingID, nil
	}

	id := uuid.NewString()
	_, err = q.Exec(`
		INSERT INTO triples (id, subject, predicate, object, confidence,
			source_exchange_id, source_date, created_at, updated_at,
			agent_id, pending_resolution)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, subject, predicate, object, confidence,
		nullable(in.SourceExchangeID), sourceDate, now, now,
		agentID, boolToInt(in.PendingResolution))
	if err != nil {
		return "", fmt.Errorf("insert triple: %w", err)
	}
	return id, nil
}

// WriteExchange commits one exchange's entities, triples and co-occurrence
// increments in a single transaction: all-or-nothing visibility. Returns the
// triple ids in input order.
func (s *SQLiteStore) WriteExchange(payload ExchangePayload) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agentID := payload.AgentID
	if agentID == "" {
		agentID = DefaultAgentID
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin exchange write: %w", err)
	}
	defer tx.Rollback() // no-op after a successful Commit

	for _, ent := range payload.Entities {
		if _, err := upsertEntity(tx, ent.Name, ent.Type, agentID); err != nil {
			return nil, fmt.Errorf("exchange %s: %w", payload.SourceExchangeID, err)
		}
	}

	tripleIDs := make([]string, 0, len(payload.Triples))
	for _, in := range payload.Triples {
		if in.AgentID == "" {
			in.AgentID = agentID
		}
		if in.SourceExchangeID == "" {
			in.SourceExchangeID = payload.SourceExchangeID
		}
		if in.SourceDate == "" {
			in.SourceDate = payload.SourceDate
		}
		id, err := addTriple(tx, in)
		if err != nil {
			return nil, fmt.Errorf("exchange %s: %w", payload.SourceExchangeID, err)
		}
		tripleIDs = append(tripleIDs, id)
	}

	for _, pair := range payload.Cooccurrences {
		a, b := sortPair(NormalizeEntityID(pair[0]), NormalizeEntityID(pair[1]))
		if a == "" || a == b {
			continue
		}
		if err := upsertCooccurrence(tx, a, b); err != nil {
			return nil, fmt.Errorf("exchange %s: %w", payload.SourceExchangeID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit exchange write: %w", err)
	}
	return tripleIDs, nil
}

// GetTriplesFor returns triples where the entity appears as subject or
// object, deduplicated by triple id, most recently updated first. Each of
// the two underlying scans is capped at limit independently, so the result
// can exceed limit.
func (s *SQLiteStore) GetTriplesFor(entityName, agentID string, limit int) ([]*Triple, error) {
	return s.GetTriplesForID(NormalizeEntityID(entityName), agentID, limit)
}

// GetTriplesForID is GetTriplesFor for an already-normalized entity id.
func (s *SQLiteStore) GetTriplesForID(entityID, agentID string, limit int) ([]*Triple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if agentID == "" {
		agentID = DefaultAgentID
	}
	if limit <= 0 {
		limit = 50
	}

	const base = `
		SELECT id, subject, predicate, object, confidence, source_exchange_id,
			source_date, created_at, updated_at, agent_id, pending_resolution
		FROM triples WHERE %s = ? AND agent_id = ?
		ORDER BY updated_at DESC LIMIT ?`

	seen := make(map[string]bool)
	var merged []*Triple
	for _, column := range []string{"subject", "object"} {
		rows, err := s.db.Query(fmt.Sprintf(base, column), entityID, agentID, limit)
		if err != nil {
			return nil, err
		}
		triples, err := scanTriples(rows)
		if err != nil {
			return nil, err
		}
		for _, t := range triples {
			if seen[t.ID] {
				continue
			}
			seen[t.ID] = true
			merged = append(merged, t)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].UpdatedAt > merged[j].UpdatedAt
	})
	return merged, nil
}

// QueryTriples applies the filter's present fields conjunctively, most
// recently updated first. Subject and object are normalized before matching.
func (s *SQLiteStore) QueryTriples(filter TripleFilter) ([]*Triple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clauses := make([]string, 0, 4)
	args := make([]any, 0, 5)
	if filter.Subject != "" {
		clauses = append(clauses, "subject = ?")
		args = append(args, NormalizeEntityID(filter.Subject))
	}
	if filter.Predicate != "" {
		clauses = append(clauses, "predicate = ?")
		args = append(args, filter.Predicate)
	}
	if filter.Object != "" {
		clauses = append(clauses, "object = ?")
		args = append(args, NormalizeEntityID(filter.Object))
	}
	if filter.AgentID != "" {
		clauses = append(clauses, "agent_id = ?")
		args = append(args, filter.AgentID)
	}

	query := `
		SELECT id, subject, predicate, object, confidence, source_exchange_id,
			source_date, created_at, updated_at, agent_id, pending_resolution
		FROM triples`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY updated_at DESC LIMIT ?"

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	return scanTriples(rows)
}

// DeleteTriplesByExchange removes all triples attributed to the exchange.
// Entities and co-occurrence counts are left untouched.
func (s *SQLiteStore) DeleteTriplesByExchange(exchangeID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"DELETE FROM triples WHERE source_exchange_id = ?", exchangeID,
	)
	if err != nil {
		return 0, fmt.Errorf("delete triples for exchange %s: %w", exchangeID, err)
	}
	return res.RowsAffected()
}

func scanTriples(rows *sql.Rows) ([]*Triple, error) {
	defer rows.Close()

	var triples []*Triple
	for rows.Next() {
		var t Triple
		var sourceExchangeID sql.NullString
		var pending int
		if err := rows.Scan(
			&t.ID, &t.Subject, &t.Predicate, &t.Object, &t.Confidence,
			&sourceExchangeID, &t.SourceDate, &t.CreatedAt, &t.UpdatedAt,
			&t.AgentID, &pending,
		); err != nil {
			return nil, err
		}
		if sourceExchangeID.Valid {
			t.SourceExchangeID = sourceExchangeID.String
		}
		t.PendingResolution = pending != 0
		triples = append(triples, &t)
	}
	return triples, rows.Err()
}

// =============================================================================
// Co-occurrence Cache
// =============================================================================

// UpsertCooccurrence increments the count for a pair of normalized entity
// ids. The caller supplies the pair already sorted (a < b); the store does
// not self-correct ordering.
func (s *SQLiteStore) UpsertCooccurrence(a, b string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertCooccurrence(s.db, a, b)
}

func upsertCooccurrence(q execer, a, b string) error {
	_, err := q.Exec(`
		INSERT INTO cooccurrences (entity_a, entity_b, count, last_seen)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(entity_a, entity_b) DO UPDATE SET
			count = count + 1,
			last_seen = excluded.last_seen
	`, a, b, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert cooccurrence (%s, %s): %w", a, b, err)
	}
	return nil
}

// GetCooccurrences returns pair rows where the entity appears on either
// side, highest count first.
func (s *SQLiteStore) GetCooccurrences(entityName string, limit int) ([]*Cooccurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	id := NormalizeEntityID(entityName)

	rows, err := s.db.Query(`
		SELECT entity_a, entity_b, count, last_seen FROM cooccurrences
		WHERE entity_a = ? OR entity_b = ?
		ORDER BY count DESC LIMIT ?
	`, id, id, limit)
	if err != nil {
		return nil, err
	}
	return scanCooccurrences(rows)
}

func scanCooccurrences(rows *sql.Rows) ([]*Cooccurrence, error) {
	defer rows.Close()

	var pairs []*Cooccurrence
	for rows.Next() {
		var c Cooccurrence
		if err := rows.Scan(&c.EntityA, &c.EntityB, &c.Count, &c.LastSeen); err != nil {
			return nil, err
		}
		pairs = append(pairs, &c)
	}
	return pairs, rows.Err()
}

// =============================================================================
// Aggregates
// =============================================================================

// GetStats returns entity/triple counts for the agent plus the ten most
// recently seen entities and the ten highest co-occurrence pairs. The
// co-occurrence table carries no agent column, so topCooccurrences covers
// the whole database file.
func (s *SQLiteStore) GetStats(agentID string) (*AgentStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if agentID == "" {
		agentID = DefaultAgentID
	}

	stats := &AgentStats{}
	if err := s.db.QueryRow(
		"SELECT COUNT(*) FROM entities WHERE agent_id = ?", agentID,
	).Scan(&stats.EntityCount); err != nil {
		return nil, fmt.Errorf("count entities: %w", err)
	}
	if err := s.db.QueryRow(
		"SELECT COUNT(*) FROM triples WHERE agent_id = ?", agentID,
	).Scan(&stats.TripleCount); err != nil {
		return nil, fmt.Errorf("count triples: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT id, agent_id, canonical_name, entity_type, first_seen,
			last_seen, mention_count, aliases, metadata
		FROM entities WHERE agent_id = ?
		ORDER BY last_seen DESC LIMIT 10
	`, agentID)
	if err != nil {
		return nil, err
	}
	stats.RecentEntities, err = scanEntities(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	coocRows, err := s.db.Query(`
		SELECT entity_a, entity_b, count, last_seen FROM cooccurrences
		ORDER BY count DESC LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	stats.TopCooccurrences, err = scanCooccurrences(coocRows)
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// =============================================================================
// Helpers
// =============================================================================

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Compile-time interface check
var _ Storer = (*SQLiteStore)(nil)
