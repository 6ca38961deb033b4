package extraction

import (
	"fmt"
	"strings"
)

// MaxTextLength is the maximum number of characters sent to the LLM.
const MaxTextLength = 8000

// ExchangeSystemPrompt instructs the LLM to return structured JSON only.
const ExchangeSystemPrompt = `You are an entity and relationship extraction assistant for conversational memory.
Extract named entities AND subject-predicate-object facts from the given conversation.
Return ONLY a valid JSON object with arrays "entities", "triples" and "cooccurrences".
No markdown, no explanation. Start with { and end with }.`

// QuerySystemPrompt instructs the LLM to extract entity mentions from a query.
const QuerySystemPrompt = `You are an entity recognition assistant.
List the named entities mentioned in the given query text.
Return ONLY a valid JSON array of {"name", "type"} objects. No markdown, no explanation.`

// BuildExchangePrompt constructs the extraction prompt for one exchange.
// knownEntities primes the LLM with entity names already in the registry.
func BuildExchangePrompt(messages []Message, knownEntities []string) string {
	var sb strings.Builder
	sb.WriteString("Extract named entities AND facts from this conversation. ")
	sb.WriteString("Return a JSON object with arrays \"entities\", \"triples\" and \"cooccurrences\".\n\n")

	if len(knownEntities) > 0 {
		sb.WriteString("KNOWN ENTITIES (prioritize these):\n")
		sb.WriteString(strings.Join(knownEntities, ", "))
		sb.WriteString("\n\n")
	}

	sb.WriteString("=== ENTITIES ===\n")
	sb.WriteString("Each entity object:\n")
	sb.WriteString("- \"name\": Canonical name (string)\n")
	sb.WriteString(fmt.Sprintf("- \"type\": One of: %s\n\n", strings.Join(AllEntityTypes, ", ")))

	sb.WriteString("=== TRIPLES ===\n")
	sb.WriteString("Each triple object:\n")
	sb.WriteString("- \"subject\": Entity name (string)\n")
	sb.WriteString("- \"predicate\": Lowercase verb phrase, e.g. \"works at\" (string)\n")
	sb.WriteString("- \"object\": Entity name (string)\n")
	sb.WriteString("- \"confidence\": 0.0-1.0 (number)\n\n")

	sb.WriteString("=== COOCCURRENCES ===\n")
	sb.WriteString("Array of [nameA, nameB] pairs of entities mentioned together.\n\n")

	sb.WriteString("RULES:\n")
	sb.WriteString("1. Only proper nouns and concrete concepts — skip generic terms\n")
	sb.WriteString("2. Deduplicate entities\n")
	sb.WriteString("3. Subject and object of every triple must appear in the entities list\n")
	sb.WriteString("4. confidence >= 0.8 for explicit statements, 0.5-0.8 for implied\n\n")

	sb.WriteString("CONVERSATION:\n")
	sb.WriteString(truncateText(renderMessages(messages)))

	return sb.String()
}

// BuildQueryPrompt constructs the entity-mention prompt for a query.
func BuildQueryPrompt(text string, knownEntities []string) string {
	var sb strings.Builder
	sb.WriteString("List the named entities mentioned in this query as a JSON array of ")
	sb.WriteString("{\"name\", \"type\"} objects.\n\n")

	if len(knownEntities) > 0 {
		sb.WriteString("KNOWN ENTITIES (prioritize these):\n")
		sb.WriteString(strings.Join(knownEntities, ", "))
		sb.WriteString("\n\n")
	}

	sb.WriteString(fmt.Sprintf("TYPES: %s\n\n", strings.Join(AllEntityTypes, ", ")))
	sb.WriteString("QUERY:\n")
	sb.WriteString(truncateText(text))

	return sb.String()
}

func renderMessages(messages []Message) string {
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// truncateText limits text length to MaxTextLength.
func truncateText(text string) string {
	if len(text) > MaxTextLength {
		return text[:MaxTextLength]
	}
	return text
}
