// Package extraction defines the contract between the knowledge-graph store
// and the entity/relation extractor: given the messages of one exchange it
// produces entities, subject-predicate-object triples, and co-occurrence
// pairs; given query text it produces entity mentions. It also ships an
// OpenAI-compatible implementation and a tolerant response parser.
package extraction

import "context"

// EntityType labels extracted entities.
type EntityType string

const (
	TypePerson       EntityType = "PERSON"
	TypePlace        EntityType = "PLACE"
	TypeOrganization EntityType = "ORGANIZATION"
	TypeProject      EntityType = "PROJECT"
	TypeEvent        EntityType = "EVENT"
	TypeConcept      EntityType = "CONCEPT"
	TypeThing        EntityType = "THING"
)

// AllEntityTypes lists every recognized entity type for prompt construction.
var AllEntityTypes = []string{
	string(TypePerson), string(TypePlace), string(TypeOrganization),
	string(TypeProject), string(TypeEvent), string(TypeConcept),
	string(TypeThing),
}

var validTypes = map[EntityType]bool{
	TypePerson:       true,
	TypePlace:        true,
	TypeOrganization: true,
	TypeProject:      true,
	TypeEvent:        true,
	TypeConcept:      true,
	TypeThing:        true,
}

// IsValidType checks if a string is a recognized EntityType.
func IsValidType(s string) bool {
	return validTypes[EntityType(s)]
}

// Message is one conversational message of an exchange.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ExtractedEntity is an entity mention produced by the extractor.
type ExtractedEntity struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ExtractedTriple is a fact produced by the extractor. Subject and Object
// are raw entity names; the store normalizes them on write.
type ExtractedTriple struct {
	Subject    string  `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence,omitempty"`
}

// ExchangeExtraction is the extractor's output for one exchange.
type ExchangeExtraction struct {
	Entities      []ExtractedEntity `json:"entities"`
	Triples       []ExtractedTriple `json:"triples"`
	Cooccurrences [][2]string       `json:"cooccurrences"`
}

// Extractor produces structured facts from conversation text. knownEntities
// primes the extractor with entity names already in the registry.
type Extractor interface {
	ExtractExchange(ctx context.Context, messages []Message, knownEntities []string) (*ExchangeExtraction, error)
	ExtractQueryEntities(ctx context.Context, text string, knownEntities []string) ([]ExtractedEntity, error)
}
