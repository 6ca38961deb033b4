package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/recallgraph/recallgraph/internal/search"
	"github.com/recallgraph/recallgraph/internal/store"
	"github.com/recallgraph/recallgraph/pkg/extraction"
)

// scriptedExtractor serves canned extractions keyed by nothing in particular;
// every call returns the same result or error.
type scriptedExtractor struct {
	exchange *extraction.ExchangeExtraction
	query    []extraction.ExtractedEntity
	err      error
}

func (s *scriptedExtractor) ExtractExchange(context.Context, []extraction.Message, []string) (*extraction.ExchangeExtraction, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.exchange, nil
}

func (s *scriptedExtractor) ExtractQueryEntities(context.Context, string, []string) ([]extraction.ExtractedEntity, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.query, nil
}

func aliceParisExtraction() *extraction.ExchangeExtraction {
	return &extraction.ExchangeExtraction{
		Entities: []extraction.ExtractedEntity{
			{Name: "Alice", Type: "PERSON"},
			{Name: "Paris", Type: "PLACE"},
		},
		Triples: []extraction.ExtractedTriple{
			{Subject: "Alice", Predicate: "visited", Object: "Paris", Confidence: 0.8},
		},
		Cooccurrences: [][2]string{{"Alice", "Paris"}},
	}
}

func newTestService(t *testing.T, ex extraction.Extractor) *Service {
	t.Helper()
	svc := NewService(store.NewRegistry(t.TempDir()), ex, zap.NewNop())
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestIngestThenSearch(t *testing.T) {
	ex := &scriptedExtractor{
		exchange: aliceParisExtraction(),
		query:    []extraction.ExtractedEntity{{Name: "Alice", Type: "PERSON"}},
	}
	svc := newTestService(t, ex)

	ids, err := svc.IngestExchange(context.Background(), "main", "E1", "2026-08-01", []extraction.Message{
		{Role: "user", Content: "Alice visited Paris"},
	})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	result, err := svc.Search(context.Background(), "Tell me about Alice", "main", search.Options{})
	require.NoError(t, err)
	require.Len(t, result.Exchanges, 1)
	assert.Equal(t, "E1", result.Exchanges[0].ExchangeID)
	assert.Equal(t, 1, result.Exchanges[0].SharedEntityCount)

	stats, err := svc.Stats("main")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.EntityCount)
	assert.Equal(t, 1, stats.TripleCount)
}

func TestReingestReplacesTriples(t *testing.T) {
	ex := &scriptedExtractor{exchange: aliceParisExtraction()}
	svc := newTestService(t, ex)

	first, err := svc.IngestExchange(context.Background(), "main", "E1", "", nil)
	require.NoError(t, err)

	// Second pass over the same exchange extracts a different fact.
	ex.exchange = &extraction.ExchangeExtraction{
		Entities: []extraction.ExtractedEntity{{Name: "Alice", Type: "PERSON"}},
		Triples: []extraction.ExtractedTriple{
			{Subject: "Alice", Predicate: "moved_to", Object: "Berlin", Confidence: 0.9},
		},
	}
	second, err := svc.IngestExchange(context.Background(), "main", "E1", "", nil)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.NotEqual(t, first[0], second[0])

	triples, err := svc.Triples("main", store.TripleFilter{})
	require.NoError(t, err)
	require.Len(t, triples, 1)
	assert.Equal(t, "moved_to", triples[0].Predicate)
}

func TestIngestFailureIsIsolated(t *testing.T) {
	ex := &scriptedExtractor{err: errors.New("model unavailable")}
	svc := newTestService(t, ex)

	_, err := svc.IngestExchange(context.Background(), "main", "E1", "", nil)
	require.Error(t, err)

	// A later exchange proceeds normally.
	ex.err = nil
	ex.exchange = aliceParisExtraction()
	ids, err := svc.IngestExchange(context.Background(), "main", "E2", "", nil)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestIngestWithoutExtractor(t *testing.T) {
	svc := newTestService(t, nil)
	_, err := svc.IngestExchange(context.Background(), "main", "E1", "", nil)
	assert.Error(t, err)
}

func TestIngestEmptyExtraction(t *testing.T) {
	ex := &scriptedExtractor{exchange: &extraction.ExchangeExtraction{}}
	svc := newTestService(t, ex)

	ids, err := svc.IngestExchange(context.Background(), "main", "E1", "", nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDeleteExchangeKeepsEntities(t *testing.T) {
	ex := &scriptedExtractor{exchange: aliceParisExtraction()}
	svc := newTestService(t, ex)

	_, err := svc.IngestExchange(context.Background(), "main", "E1", "", nil)
	require.NoError(t, err)

	count, err := svc.DeleteExchange("main", "E1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	triples, err := svc.Triples("main", store.TripleFilter{})
	require.NoError(t, err)
	assert.Empty(t, triples)

	entities, err := svc.FindEntities("Ali", "main", 0)
	require.NoError(t, err)
	assert.Len(t, entities, 1)
}

func TestEntityContextBoundary(t *testing.T) {
	ex := &scriptedExtractor{exchange: aliceParisExtraction()}
	svc := newTestService(t, ex)

	_, err := svc.IngestExchange(context.Background(), "main", "E1", "", nil)
	require.NoError(t, err)

	ctx, err := svc.EntityContext("Alice", "main")
	require.NoError(t, err)
	require.NotNil(t, ctx)
	assert.Equal(t, 1, ctx.TripleCount)

	missing, err := svc.EntityContext("Nobody", "main")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAgentIsolation(t *testing.T) {
	ex := &scriptedExtractor{exchange: aliceParisExtraction()}
	svc := newTestService(t, ex)

	_, err := svc.IngestExchange(context.Background(), "agent-a", "E1", "", nil)
	require.NoError(t, err)

	stats, err := svc.Stats("agent-b")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.EntityCount)

	agents, err := svc.ListAgents()
	require.NoError(t, err)
	assert.Contains(t, agents, "agent-a")
	assert.Contains(t, agents, "agent-b")
}
