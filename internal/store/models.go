// Package store provides SQLite-backed persistence for the knowledge graph:
// entities, subject-predicate-object triples, and entity co-occurrence counts.
// Each agent owns an independent database file; see Registry.
package store

// DefaultAgentID is the agent scope used when callers pass none.
const DefaultAgentID = "main"

// Entity represents a registered entity, keyed by its normalized name.
type Entity struct {
	ID            string   `json:"id"`
	CanonicalName string   `json:"canonicalName"`
	EntityType    string   `json:"entityType"`
	FirstSeen     int64    `json:"firstSeen"`
	LastSeen      int64    `json:"lastSeen"`
	MentionCount  int      `json:"mentionCount"`
	Aliases       []string `json:"aliases,omitempty"`
	Metadata      string   `json:"metadata,omitempty"`
	AgentID       string   `json:"agentId"`
}

// Triple is a directed labeled fact between two entities.
// Subject and Object hold normalized entity IDs, not raw text.
type Triple struct {
	ID                string  `json:"id"`
	Subject           string  `json:"subject"`
	Predicate         string  `json:"predicate"`
	Object            string  `json:"object"`
	Confidence        float64 `json:"confidence"`
	SourceExchangeID  string  `json:"sourceExchangeId,omitempty"`
	SourceDate        string  `json:"sourceDate"`
	CreatedAt         int64   `json:"createdAt"`
	UpdatedAt         int64   `json:"updatedAt"`
	AgentID           string  `json:"agentId"`
	PendingResolution bool    `json:"pendingResolution"`
}

// TripleInput is the caller-facing shape for AddTriple and WriteExchange.
// Subject and Object are raw names; the store normalizes them.
type TripleInput struct {
	Subject           string  `json:"subject"`
	Predicate         string  `json:"predicate"`
	Object            string  `json:"object"`
	Confidence        float64 `json:"confidence,omitempty"`
	SourceExchangeID  string  `json:"sourceExchangeId,omitempty"`
	SourceDate        string  `json:"sourceDate,omitempty"`
	AgentID           string  `json:"agentId,omitempty"`
	PendingResolution bool    `json:"pendingResolution,omitempty"`
}

// EntityInput names an entity observed in an exchange.
type EntityInput struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Cooccurrence is a symmetric pairwise count of entities seen together.
// Rows are keyed with EntityA < EntityB lexicographically.
type Cooccurrence struct {
	EntityA  string `json:"entityA"`
	EntityB  string `json:"entityB"`
	Count    int    `json:"count"`
	LastSeen int64  `json:"lastSeen"`
}

// ExchangePayload is one exchange's worth of extracted facts, committed
// atomically by WriteExchange.
type ExchangePayload struct {
	Entities         []EntityInput `json:"entities"`
	Triples          []TripleInput `json:"triples"`
	Cooccurrences    [][2]string   `json:"cooccurrences"`
	AgentID          string        `json:"agentId"`
	SourceExchangeID string        `json:"sourceExchangeId"`
	SourceDate       string        `json:"sourceDate,omitempty"`
}

// TripleFilter selects triples by optional conjunctive criteria.
// Subject and Object match by normalized entity ID, Predicate verbatim.
type TripleFilter struct {
	Subject   string
	Predicate string
	Object    string
	AgentID   string
	Limit     int
}

// AgentStats summarizes one agent's graph.
type AgentStats struct {
	EntityCount      int             `json:"entityCount"`
	TripleCount      int             `json:"tripleCount"`
	RecentEntities   []*Entity       `json:"recentEntities"`
	TopCooccurrences []*Cooccurrence `json:"topCooccurrences"`
}

// Storer defines the persistence interface for one agent's graph.
// SQLiteStore is the sole implementation.
type Storer interface {
	// Entities
	UpsertEntity(name, entityType, agentID string) (string, error)
	ResolveEntity(name, entityType, agentID string) (string, bool, error)
	GetEntity(id string) (*Entity, error)
	GetEntityByName(name, agentID string) (*Entity, error)
	FindEntitiesByPrefix(prefix, agentID string, limit int) ([]*Entity, error)

	// Triples
	AddTriple(in TripleInput) (string, error)
	WriteExchange(payload ExchangePayload) ([]string, error)
	GetTriplesFor(entityName, agentID string, limit int) ([]*Triple, error)
	GetTriplesForID(entityID, agentID string, limit int) ([]*Triple, error)
	QueryTriples(filter TripleFilter) ([]*Triple, error)
	DeleteTriplesByExchange(exchangeID string) (int64, error)

	// Co-occurrences
	UpsertCooccurrence(a, b string) error
	GetCooccurrences(entityName string, limit int) ([]*Cooccurrence, error)

	// Aggregates
	GetStats(agentID string) (*AgentStats, error)

	// Lifecycle
	Close() error
}
