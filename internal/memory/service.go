// Package memory is the host-facing boundary of the knowledge graph: it
// coordinates extraction, storage, and retrieval per agent. One failed
// exchange is logged and reported without blocking later ones.
package memory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/recallgraph/recallgraph/internal/search"
	"github.com/recallgraph/recallgraph/internal/store"
	"github.com/recallgraph/recallgraph/pkg/extraction"
)

// Service wires the extractor to the per-agent stores.
type Service struct {
	registry  *store.Registry
	extractor extraction.Extractor
	log       *zap.Logger
}

// NewService creates the boundary service. The extractor may be nil, in
// which case ingestion is disabled and search runs gazetteer-only.
func NewService(registry *store.Registry, extractor extraction.Extractor, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{registry: registry, extractor: extractor, log: log}
}

// IngestExchange extracts facts from one completed exchange and commits them
// atomically. Re-ingesting an exchange id first removes its previous triples
// so stale facts do not accumulate. Returns the committed triple ids.
func (s *Service) IngestExchange(ctx context.Context, agentID, exchangeID, date string, messages []extraction.Message) ([]string, error) {
	if s.extractor == nil {
		return nil, fmt.Errorf("memory: ingestion requires an extractor")
	}

	st, err := s.registry.GetOrCreate(agentID)
	if err != nil {
		return nil, err
	}

	result, err := s.extractor.ExtractExchange(ctx, messages, s.recentEntityNames(st, agentID))
	if err != nil {
		s.log.Warn("exchange extraction failed",
			zap.String("agent", agentID),
			zap.String("exchange", exchangeID),
			zap.Error(err))
		return nil, err
	}
	if len(result.Entities) == 0 && len(result.Triples) == 0 {
		s.log.Debug("exchange produced no facts",
			zap.String("agent", agentID),
			zap.String("exchange", exchangeID))
		return nil, nil
	}

	if exchangeID != "" {
		if _, err := st.DeleteTriplesByExchange(exchangeID); err != nil {
			s.log.Warn("stale triple cleanup failed",
				zap.String("exchange", exchangeID),
				zap.Error(err))
			return nil, err
		}
	}

	payload := store.ExchangePayload{
		AgentID:          agentID,
		SourceExchangeID: exchangeID,
		SourceDate:       date,
		Cooccurrences:    result.Cooccurrences,
	}
	for _, e := range result.Entities {
		payload.Entities = append(payload.Entities, store.EntityInput{Name: e.Name, Type: e.Type})
	}
	for _, t := range result.Triples {
		payload.Triples = append(payload.Triples, store.TripleInput{
			Subject:    t.Subject,
			Predicate:  t.Predicate,
			Object:     t.Object,
			Confidence: t.Confidence,
		})
	}

	ids, err := st.WriteExchange(payload)
	if err != nil {
		s.log.Warn("exchange write failed",
			zap.String("agent", agentID),
			zap.String("exchange", exchangeID),
			zap.Error(err))
		return nil, err
	}

	s.log.Info("exchange ingested",
		zap.String("agent", agentID),
		zap.String("exchange", exchangeID),
		zap.Int("entities", len(payload.Entities)),
		zap.Int("triples", len(ids)))
	return ids, nil
}

// Search answers a retrieval query. When the caller supplies no known
// entities, a recent-entities sample primes extraction and the gazetteer.
func (s *Service) Search(ctx context.Context, queryText, agentID string, opts search.Options) (*search.Result, error) {
	st, err := s.registry.GetOrCreate(agentID)
	if err != nil {
		return nil, err
	}
	if len(opts.KnownEntities) == 0 {
		opts.KnownEntities = s.recentEntityNames(st, agentID)
	}
	return search.New(st, s.extractor).Search(ctx, queryText, agentID, opts)
}

// EntityContext returns everything stored about one entity, nil when the
// entity is unregistered.
func (s *Service) EntityContext(entityName, agentID string) (*search.EntityContext, error) {
	st, err := s.registry.GetOrCreate(agentID)
	if err != nil {
		return nil, err
	}
	return search.New(st, s.extractor).EntityContext(entityName, agentID)
}

// Stats reports aggregate counts for one agent.
func (s *Service) Stats(agentID string) (*store.AgentStats, error) {
	st, err := s.registry.GetOrCreate(agentID)
	if err != nil {
		return nil, err
	}
	return st.GetStats(agentID)
}

// Triples runs a conjunctive filter query against one agent's triples.
func (s *Service) Triples(agentID string, filter store.TripleFilter) ([]*store.Triple, error) {
	st, err := s.registry.GetOrCreate(agentID)
	if err != nil {
		return nil, err
	}
	filter.AgentID = agentID
	return st.QueryTriples(filter)
}

// FindEntities does a case-sensitive prefix search over canonical names.
func (s *Service) FindEntities(prefix, agentID string, limit int) ([]*store.Entity, error) {
	st, err := s.registry.GetOrCreate(agentID)
	if err != nil {
		return nil, err
	}
	return st.FindEntitiesByPrefix(prefix, agentID, limit)
}

// DeleteExchange removes all triples carried by one exchange id, for
// re-extraction. Entities and co-occurrence counts are left intact.
func (s *Service) DeleteExchange(agentID, exchangeID string) (int64, error) {
	st, err := s.registry.GetOrCreate(agentID)
	if err != nil {
		return 0, err
	}
	count, err := st.DeleteTriplesByExchange(exchangeID)
	if err != nil {
		return 0, err
	}
	s.log.Info("exchange triples deleted",
		zap.String("agent", agentID),
		zap.String("exchange", exchangeID),
		zap.Int64("count", count))
	return count, nil
}

// ListAgents reports every agent with a store on disk or in memory.
func (s *Service) ListAgents() ([]string, error) {
	return s.registry.ListAgents()
}

// Close releases every open store handle.
func (s *Service) Close() error {
	return s.registry.CloseAll()
}

// recentEntityNames samples recently seen entities to prime extraction and
// gazetteer matching. Failures degrade to an empty sample.
func (s *Service) recentEntityNames(st store.Storer, agentID string) []string {
	stats, err := st.GetStats(agentID)
	if err != nil {
		s.log.Debug("recent entity sample unavailable", zap.Error(err))
		return nil
	}
	names := make([]string, 0, len(stats.RecentEntities))
	for _, e := range stats.RecentEntities {
		names = append(names, e.CanonicalName)
	}
	return names
}
