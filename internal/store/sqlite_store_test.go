package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore()
	require.NoError(t, err, "Failed to create store")
	t.Cleanup(func() { s.Close() })
	return s
}

// =============================================================================
// Normalization
// =============================================================================

func TestNormalizeEntityID(t *testing.T) {
	assert.Equal(t, "foo_bar", NormalizeEntityID(" Foo  Bar "))
	assert.Equal(t, NormalizeEntityID("foo bar"), NormalizeEntityID(" Foo  Bar "))
	assert.Equal(t, "alice", NormalizeEntityID("ALICE"))
	assert.Equal(t, "", NormalizeEntityID("   "))

	// Idempotent: normalizing an id changes nothing.
	id := NormalizeEntityID("Monkey D. Luffy")
	assert.Equal(t, id, NormalizeEntityID(id))
}

// =============================================================================
// Entity Registry
// =============================================================================

func TestUpsertEntityMentionCount(t *testing.T) {
	s := newTestStore(t)

	id, err := s.UpsertEntity("Alice", "PERSON", "main")
	require.NoError(t, err)
	assert.Equal(t, "alice", id)

	// Same name, different raw spelling: same row, count bumps.
	id2, err := s.UpsertEntity("  ALICE ", "PERSON", "main")
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	e, err := s.GetEntity("alice")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, 2, e.MentionCount)
	assert.Equal(t, "PERSON", e.EntityType)
	assert.GreaterOrEqual(t, e.LastSeen, e.FirstSeen)
}

func TestUpsertEntityEmptyName(t *testing.T) {
	s := newTestStore(t)

	_, err := s.UpsertEntity("   ", "PERSON", "main")
	assert.ErrorIs(t, err, ErrNameRequired)
}

func TestEntityAgentScoping(t *testing.T) {
	s := newTestStore(t)

	_, err := s.UpsertEntity("Alice", "PERSON", "main")
	require.NoError(t, err)
	_, err = s.UpsertEntity("Alice", "PERSON", "other")
	require.NoError(t, err)

	e, err := s.GetEntityByName("Alice", "main")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, 1, e.MentionCount, "agents must not share mention counts")

	other, err := s.GetEntityByName("Alice", "other")
	require.NoError(t, err)
	require.NotNil(t, other)
	assert.Equal(t, 1, other.MentionCount)
}

func TestResolveEntityIsNew(t *testing.T) {
	s := newTestStore(t)

	id, isNew, err := s.ResolveEntity("Paris", "PLACE", "main")
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, "paris", id)

	// Second resolve sees the row created by the first call's upsert.
	_, isNew, err = s.ResolveEntity("paris", "PLACE", "main")
	require.NoError(t, err)
	assert.False(t, isNew)

	e, err := s.GetEntity("paris")
	require.NoError(t, err)
	assert.Equal(t, 2, e.MentionCount, "each resolve counts as a mention")
}

func TestFindEntitiesByPrefix(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{"Alice", "Albert", "alphonse", "Bob"} {
		_, err := s.UpsertEntity(name, "PERSON", "main")
		require.NoError(t, err)
	}

	// Case-sensitive over the stored canonical name.
	matches, err := s.FindEntitiesByPrefix("Al", "main", 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	for _, m := range matches {
		assert.Contains(t, []string{"Alice", "Albert"}, m.CanonicalName)
	}

	limited, err := s.FindEntitiesByPrefix("Al", "main", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := s.FindEntitiesByPrefix("Zz", "main", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

// =============================================================================
// Triple Store
// =============================================================================

func TestAddTripleDedupMaxConfidence(t *testing.T) {
	s := newTestStore(t)

	id1, err := s.AddTriple(TripleInput{
		Subject: "Alice", Predicate: "visited", Object: "Paris", Confidence: 0.6,
	})
	require.NoError(t, err)

	id2, err := s.AddTriple(TripleInput{
		Subject: " alice ", Predicate: "visited", Object: "PARIS", Confidence: 0.9,
	})
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "dedup must return the existing id")

	triples, err := s.QueryTriples(TripleFilter{Subject: "Alice"})
	require.NoError(t, err)
	require.Len(t, triples, 1)
	assert.InDelta(t, 0.9, triples[0].Confidence, 1e-9)

	// Lower incoming confidence never overwrites downward.
	_, err = s.AddTriple(TripleInput{
		Subject: "Alice", Predicate: "visited", Object: "Paris", Confidence: 0.5,
	})
	require.NoError(t, err)
	triples, err = s.QueryTriples(TripleFilter{Subject: "Alice"})
	require.NoError(t, err)
	require.Len(t, triples, 1)
	assert.InDelta(t, 0.9, triples[0].Confidence, 1e-9)
}

func TestAddTripleDefaults(t *testing.T) {
	s := newTestStore(t)

	_, err := s.AddTriple(TripleInput{Subject: "a", Predicate: "knows", Object: "b"})
	require.NoError(t, err)

	triples, err := s.QueryTriples(TripleFilter{})
	require.NoError(t, err)
	require.Len(t, triples, 1)
	assert.InDelta(t, 1.0, triples[0].Confidence, 1e-9)
	assert.Equal(t, DefaultAgentID, triples[0].AgentID)
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}$`, triples[0].SourceDate)
}

func TestAddTripleIncomplete(t *testing.T) {
	s := newTestStore(t)

	_, err := s.AddTriple(TripleInput{Subject: "a", Predicate: "", Object: "b"})
	assert.ErrorIs(t, err, ErrTripleIncomplete)
}

func TestGetTriplesForSelfEdgeDedup(t *testing.T) {
	s := newTestStore(t)

	_, err := s.AddTriple(TripleInput{
		Subject: "Ouroboros", Predicate: "consumes", Object: "Ouroboros",
	})
	require.NoError(t, err)

	triples, err := s.GetTriplesFor("Ouroboros", "main", 50)
	require.NoError(t, err)
	assert.Len(t, triples, 1, "self-referential triple must appear once")
}

func TestGetTriplesForUnionCaps(t *testing.T) {
	s := newTestStore(t)

	// Two as subject, two as object.
	for _, in := range []TripleInput{
		{Subject: "Hub", Predicate: "links", Object: "a"},
		{Subject: "Hub", Predicate: "links", Object: "b"},
		{Subject: "c", Predicate: "links", Object: "Hub"},
		{Subject: "d", Predicate: "links", Object: "Hub"},
	} {
		_, err := s.AddTriple(in)
		require.NoError(t, err)
	}

	// Each scan capped at 1, so the union may return 2 rows: callers must
	// not assume an upper bound equal to limit.
	triples, err := s.GetTriplesFor("Hub", "main", 1)
	require.NoError(t, err)
	assert.Len(t, triples, 2)

	all, err := s.GetTriplesFor("Hub", "main", 50)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestQueryTriplesConjunctiveFilters(t *testing.T) {
	s := newTestStore(t)

	for _, in := range []TripleInput{
		{Subject: "Alice", Predicate: "visited", Object: "Paris"},
		{Subject: "Alice", Predicate: "visited", Object: "Rome"},
		{Subject: "Alice", Predicate: "likes", Object: "Paris"},
		{Subject: "Bob", Predicate: "visited", Object: "Paris"},
	} {
		_, err := s.AddTriple(in)
		require.NoError(t, err)
	}

	got, err := s.QueryTriples(TripleFilter{Subject: "Alice", Predicate: "visited"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.QueryTriples(TripleFilter{Subject: "Alice", Predicate: "visited", Object: "Paris"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "paris", got[0].Object)

	got, err = s.QueryTriples(TripleFilter{Object: "Paris"})
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = s.QueryTriples(TripleFilter{})
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestDeleteTriplesByExchange(t *testing.T) {
	s := newTestStore(t)

	_, err := s.WriteExchange(ExchangePayload{
		Entities: []EntityInput{{Name: "Alice", Type: "PERSON"}, {Name: "Paris", Type: "PLACE"}},
		Triples: []TripleInput{
			{Subject: "Alice", Predicate: "visited", Object: "Paris", Confidence: 0.8},
		},
		Cooccurrences:    [][2]string{{"Alice", "Paris"}},
		AgentID:          "main",
		SourceExchangeID: "ex-1",
		SourceDate:       "2026-08-01",
	})
	require.NoError(t, err)

	count, err := s.DeleteTriplesByExchange("ex-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	triples, err := s.QueryTriples(TripleFilter{})
	require.NoError(t, err)
	assert.Empty(t, triples)

	// Entities and their accumulated mention counts survive.
	e, err := s.GetEntity("alice")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, 1, e.MentionCount)

	// Co-occurrence counts are not rolled back either.
	pairs, err := s.GetCooccurrences("Alice", 20)
	require.NoError(t, err)
	assert.Len(t, pairs, 1)
}

// =============================================================================
// Batch write
// =============================================================================

func TestWriteExchangeReturnsIDsInOrder(t *testing.T) {
	s := newTestStore(t)

	ids, err := s.WriteExchange(ExchangePayload{
		Entities: []EntityInput{{Name: "a", Type: "X"}, {Name: "b", Type: "X"}, {Name: "c", Type: "X"}},
		Triples: []TripleInput{
			{Subject: "a", Predicate: "p", Object: "b"},
			{Subject: "b", Predicate: "p", Object: "c"},
		},
		SourceExchangeID: "ex-1",
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	first, err := s.QueryTriples(TripleFilter{Subject: "a"})
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, ids[0], first[0].ID)

	// Re-writing the same exchange dedups; the same ids come back.
	again, err := s.WriteExchange(ExchangePayload{
		Triples: []TripleInput{
			{Subject: "a", Predicate: "p", Object: "b"},
			{Subject: "b", Predicate: "p", Object: "c"},
		},
		SourceExchangeID: "ex-1",
	})
	require.NoError(t, err)
	assert.Equal(t, ids, again)
}

func TestWriteExchangeAtomicity(t *testing.T) {
	s := newTestStore(t)

	// The malformed triple fails after the entity upserts: nothing from the
	// batch may be visible afterwards.
	_, err := s.WriteExchange(ExchangePayload{
		Entities: []EntityInput{{Name: "Alice", Type: "PERSON"}, {Name: "Paris", Type: "PLACE"}},
		Triples: []TripleInput{
			{Subject: "Alice", Predicate: "", Object: "Paris"},
		},
		Cooccurrences:    [][2]string{{"Alice", "Paris"}},
		SourceExchangeID: "ex-bad",
	})
	require.Error(t, err)

	e, err := s.GetEntity("alice")
	require.NoError(t, err)
	assert.Nil(t, e, "rolled-back entity must not be visible")

	triples, err := s.QueryTriples(TripleFilter{})
	require.NoError(t, err)
	assert.Empty(t, triples)

	pairs, err := s.GetCooccurrences("Alice", 20)
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

// =============================================================================
// Co-occurrence Cache
// =============================================================================

func TestCooccurrenceSymmetry(t *testing.T) {
	s := newTestStore(t)

	a, b := NormalizeEntityID("Alice"), NormalizeEntityID("Bob")
	if a > b {
		a, b = b, a
	}
	require.NoError(t, s.UpsertCooccurrence(a, b))
	require.NoError(t, s.UpsertCooccurrence(a, b))

	// Queried from either side, the same row comes back.
	pairs, err := s.GetCooccurrences("Bob", 20)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, "alice", pairs[0].EntityA)
	assert.Equal(t, "bob", pairs[0].EntityB)
	assert.Equal(t, 2, pairs[0].Count)

	pairs, err = s.GetCooccurrences("Alice", 20)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, 2, pairs[0].Count)
}

func TestCooccurrenceOrderedByCount(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.UpsertCooccurrence("alice", "bob"))
	require.NoError(t, s.UpsertCooccurrence("alice", "carol"))
	require.NoError(t, s.UpsertCooccurrence("alice", "carol"))
	require.NoError(t, s.UpsertCooccurrence("alice", "carol"))

	pairs, err := s.GetCooccurrences("alice", 20)
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Equal(t, "carol", pairs[0].EntityB)
	assert.Equal(t, 3, pairs[0].Count)
}

// =============================================================================
// Stats
// =============================================================================

func TestGetStats(t *testing.T) {
	s := newTestStore(t)

	_, err := s.WriteExchange(ExchangePayload{
		Entities: []EntityInput{
			{Name: "Alice", Type: "PERSON"},
			{Name: "Bob", Type: "PERSON"},
			{Name: "Paris", Type: "PLACE"},
		},
		Triples: []TripleInput{
			{Subject: "Alice", Predicate: "knows", Object: "Bob"},
			{Subject: "Alice", Predicate: "visited", Object: "Paris"},
		},
		Cooccurrences:    [][2]string{{"Alice", "Bob"}, {"Alice", "Paris"}},
		SourceExchangeID: "ex-1",
	})
	require.NoError(t, err)

	stats, err := s.GetStats("main")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.EntityCount)
	assert.Equal(t, 2, stats.TripleCount)
	assert.Len(t, stats.RecentEntities, 3)
	assert.Len(t, stats.TopCooccurrences, 2)

	// Other agents see an empty scope.
	empty, err := s.GetStats("other")
	require.NoError(t, err)
	assert.Zero(t, empty.EntityCount)
	assert.Zero(t, empty.TripleCount)
}
