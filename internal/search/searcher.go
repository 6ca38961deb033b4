// Package search implements link-expansion retrieval over the knowledge
// graph: query entities are resolved to triples directly, then expanded one
// hop through the co-occurrence cache, and the touched exchanges are scored.
package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/recallgraph/recallgraph/internal/store"
	"github.com/recallgraph/recallgraph/pkg/extraction"
	"github.com/recallgraph/recallgraph/pkg/gazetteer"
)

const (
	// DefaultLimit caps the number of exchanges returned.
	DefaultLimit = 20
	// DefaultMinSharedEntities gates out exchanges reached only through
	// co-occurrence expansion.
	DefaultMinSharedEntities = 1
	// DefaultCooccurrenceBoost scales indirect evidence per co-occurrence count.
	DefaultCooccurrenceBoost = 0.1

	directTripleLimit   = 100
	neighborLimit       = 5
	neighborTripleLimit = 20
	contextTripleLimit  = 100
	contextCoocLimit    = 20
)

// Options tunes one search call. Zero values select the defaults above.
type Options struct {
	Limit             int
	KnownEntities     []string
	MinSharedEntities int
	CooccurrenceBoost float64
}

// ExchangeHit is one scored exchange in a search result.
type ExchangeHit struct {
	ExchangeID        string   `json:"exchangeId"`
	Score             float64  `json:"score"`
	SharedEntityCount int      `json:"sharedEntityCount"`
	SharedEntities    []string `json:"sharedEntities"`
	MaxConfidence     float64  `json:"maxConfidence"`
	MostRecentDate    string   `json:"mostRecentDate,omitempty"`
}

// Result carries the scored exchanges plus the full merged query-entity
// list; the entity list is never truncated by Limit.
type Result struct {
	Exchanges []*ExchangeHit               `json:"exchanges"`
	Entities  []extraction.ExtractedEntity `json:"entities"`
}

// Relationship is one edge of an entity seen from a context lookup.
type Relationship struct {
	Subject    string  `json:"subject"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence"`
	Date       string  `json:"date,omitempty"`
}

// CooccurringEntity is the other side of a co-occurrence pair with its count.
type CooccurringEntity struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// EntityContext is everything the graph knows about one entity.
type EntityContext struct {
	Entity        *store.Entity             `json:"entity"`
	Relationships map[string][]Relationship `json:"relationships"`
	Cooccurrences []CooccurringEntity       `json:"cooccurrences"`
	TripleCount   int                       `json:"tripleCount"`
}

// Searcher answers retrieval queries against one agent's store. The
// extractor is optional; with a nil extractor only gazetteer matches against
// KnownEntities produce query entities.
type Searcher struct {
	store     store.Storer
	extractor extraction.Extractor
}

// New creates a Searcher over the given store.
func New(st store.Storer, ex extraction.Extractor) *Searcher {
	return &Searcher{store: st, extractor: ex}
}

// exchangeAccumulator tracks one exchange's running score during a search.
type exchangeAccumulator struct {
	score          float64
	shared         map[string]bool
	maxConfidence  float64
	mostRecentDate string
}

// Search resolves the query's entity mentions and scores the exchanges they
// touch. An empty merged entity list is a normal outcome and yields an empty
// result, not an error.
func (s *Searcher) Search(ctx context.Context, queryText, agentID string, opts Options) (*Result, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	minShared := opts.MinSharedEntities
	if minShared <= 0 {
		minShared = DefaultMinSharedEntities
	}
	boost := opts.CooccurrenceBoost
	if boost <= 0 {
		boost = DefaultCooccurrenceBoost
	}

	entities, err := s.queryEntities(ctx, queryText, opts.KnownEntities)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return &Result{Exchanges: []*ExchangeHit{}}, nil
	}

	byExchange := make(map[string]*exchangeAccumulator)
	touch := func(exchangeID string) *exchangeAccumulator {
		acc, ok := byExchange[exchangeID]
		if !ok {
			acc = &exchangeAccumulator{shared: make(map[string]bool)}
			byExchange[exchangeID] = acc
		}
		return acc
	}

	// Direct pass: triples touching each query entity contribute their
	// confidence and mark the entity as shared evidence.
	for _, qe := range entities {
		triples, err := s.store.GetTriplesFor(qe.Name, agentID, directTripleLimit)
		if err != nil {
			return nil, fmt.Errorf("search: triples for %q: %w", qe.Name, err)
		}
		for _, t := range triples {
			if t.SourceExchangeID == "" {
				continue
			}
			acc := touch(t.SourceExchangeID)
			acc.score += t.Confidence
			acc.shared[strings.ToLower(qe.Name)] = true
			if t.Confidence > acc.maxConfidence {
				acc.maxConfidence = t.Confidence
			}
			// ISO dates order lexicographically.
			if t.SourceDate > acc.mostRecentDate {
				acc.mostRecentDate = t.SourceDate
			}
		}
	}

	// Expansion pass: one hop through the co-occurrence cache. Indirect
	// contributions raise the score but never count as shared evidence and
	// never update max confidence.
	for _, qe := range entities {
		id := store.NormalizeEntityID(qe.Name)
		coocs, err := s.store.GetCooccurrences(qe.Name, neighborLimit)
		if err != nil {
			return nil, fmt.Errorf("search: cooccurrences for %q: %w", qe.Name, err)
		}
		for _, c := range coocs {
			neighbor := c.EntityA
			if neighbor == id {
				neighbor = c.EntityB
			}
			triples, err := s.store.GetTriplesForID(neighbor, agentID, neighborTripleLimit)
			if err != nil {
				return nil, fmt.Errorf("search: triples for neighbor %q: %w", neighbor, err)
			}
			for _, t := range triples {
				if t.SourceExchangeID == "" {
					continue
				}
				touch(t.SourceExchangeID).score += boost * float64(c.Count)
			}
		}
	}

	hits := make([]*ExchangeHit, 0, len(byExchange))
	for exchangeID, acc := range byExchange {
		if len(acc.shared) < minShared {
			continue
		}
		shared := make([]string, 0, len(acc.shared))
		for name := range acc.shared {
			shared = append(shared, name)
		}
		sort.Strings(shared)
		hits = append(hits, &ExchangeHit{
			ExchangeID:        exchangeID,
			Score:             acc.score,
			SharedEntityCount: len(acc.shared),
			SharedEntities:    shared,
			MaxConfidence:     acc.maxConfidence,
			MostRecentDate:    acc.mostRecentDate,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ExchangeID < hits[j].ExchangeID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}

	return &Result{Exchanges: hits, Entities: entities}, nil
}

// queryEntities merges extractor mentions with gazetteer matches against the
// known-entities sample. Case-insensitive by name, first occurrence wins.
func (s *Searcher) queryEntities(ctx context.Context, queryText string, knownEntities []string) ([]extraction.ExtractedEntity, error) {
	var merged []extraction.ExtractedEntity
	seen := make(map[string]bool)

	add := func(name, entityType string) {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		merged = append(merged, extraction.ExtractedEntity{Name: strings.TrimSpace(name), Type: entityType})
	}

	if s.extractor != nil && strings.TrimSpace(queryText) != "" {
		extracted, err := s.extractor.ExtractQueryEntities(ctx, queryText, knownEntities)
		if err != nil {
			return nil, fmt.Errorf("search: query extraction: %w", err)
		}
		for _, e := range extracted {
			add(e.Name, e.Type)
		}
	}

	if len(knownEntities) > 0 {
		matcher, err := gazetteer.NewMatcher(knownEntities)
		if err != nil {
			return nil, fmt.Errorf("search: gazetteer compile: %w", err)
		}
		for _, name := range matcher.MatchNames(queryText) {
			add(name, "")
		}
	}

	return merged, nil
}

// EntityContext returns everything stored about one entity, or nil when the
// entity is unregistered.
func (s *Searcher) EntityContext(entityName, agentID string) (*EntityContext, error) {
	entity, err := s.store.GetEntityByName(entityName, agentID)
	if err != nil {
		return nil, fmt.Errorf("search: entity lookup: %w", err)
	}
	if entity == nil {
		return nil, nil
	}

	triples, err := s.store.GetTriplesFor(entityName, agentID, contextTripleLimit)
	if err != nil {
		return nil, fmt.Errorf("search: entity triples: %w", err)
	}

	relationships := make(map[string][]Relationship, len(triples))
	for _, t := range triples {
		relationships[t.Predicate] = append(relationships[t.Predicate], Relationship{
			Subject:    t.Subject,
			Object:     t.Object,
			Confidence: t.Confidence,
			Date:       t.SourceDate,
		})
	}

	coocs, err := s.store.GetCooccurrences(entityName, contextCoocLimit)
	if err != nil {
		return nil, fmt.Errorf("search: entity cooccurrences: %w", err)
	}
	cooccurring := make([]CooccurringEntity, 0, len(coocs))
	for _, c := range coocs {
		other := c.EntityA
		if other == entity.ID {
			other = c.EntityB
		}
		cooccurring = append(cooccurring, CooccurringEntity{Name: other, Count: c.Count})
	}

	return &EntityContext{
		Entity:        entity,
		Relationships: relationships,
		Cooccurrences: cooccurring,
		TripleCount:   len(triples),
	}, nil
}
