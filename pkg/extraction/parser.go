package extraction

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ParseExchangeResponse parses the raw LLM response into an
// ExchangeExtraction. Handles markdown code fences and attempts repair on
// malformed JSON.
func ParseExchangeResponse(raw string) (*ExchangeExtraction, error) {
	cleaned := stripCodeFence(strings.TrimSpace(raw))
	if cleaned == "" {
		return &ExchangeExtraction{}, nil
	}

	var result ExchangeExtraction
	if err := json.Unmarshal([]byte(cleaned), &result); err == nil {
		return filterExtraction(&result), nil
	}

	// Last resort: regex repair of individual objects.
	entities := repairEntities(cleaned)
	triples := repairTriples(cleaned)
	if len(entities) == 0 && len(triples) == 0 {
		return nil, fmt.Errorf("extraction: failed to parse LLM response")
	}

	return filterExtraction(&ExchangeExtraction{
		Entities: entities,
		Triples:  triples,
	}), nil
}

// ParseEntityList parses a query-extraction response: either a bare JSON
// array of {name, type} objects or an object wrapping one under "entities".
func ParseEntityList(raw string) ([]ExtractedEntity, error) {
	cleaned := stripCodeFence(strings.TrimSpace(raw))
	if cleaned == "" {
		return nil, nil
	}

	var arr []ExtractedEntity
	if err := json.Unmarshal([]byte(cleaned), &arr); err == nil {
		return cleanEntities(arr), nil
	}

	var wrapped struct {
		Entities []ExtractedEntity `json:"entities"`
	}
	if err := json.Unmarshal([]byte(cleaned), &wrapped); err == nil {
		return cleanEntities(wrapped.Entities), nil
	}

	entities := repairEntities(cleaned)
	if len(entities) == 0 {
		return nil, fmt.Errorf("extraction: failed to parse entity list")
	}
	return entities, nil
}

// stripCodeFence removes markdown code block wrappers (```json ... ```).
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// filterExtraction validates and cleans parsed entities and triples, and
// derives co-occurrence pairs from the entity list when the response omits
// them.
func filterExtraction(r *ExchangeExtraction) *ExchangeExtraction {
	out := &ExchangeExtraction{
		Entities: cleanEntities(r.Entities),
		Triples:  make([]ExtractedTriple, 0, len(r.Triples)),
	}

	for _, t := range r.Triples {
		t.Subject = strings.TrimSpace(t.Subject)
		t.Predicate = strings.TrimSpace(t.Predicate)
		t.Object = strings.TrimSpace(t.Object)
		if t.Subject == "" || t.Predicate == "" || t.Object == "" {
			continue
		}
		if t.Confidence <= 0 {
			t.Confidence = 0.7
		}
		out.Triples = append(out.Triples, t)
	}

	for _, pair := range r.Cooccurrences {
		a := strings.TrimSpace(pair[0])
		b := strings.TrimSpace(pair[1])
		if a == "" || b == "" {
			continue
		}
		out.Cooccurrences = append(out.Cooccurrences, [2]string{a, b})
	}
	if len(out.Cooccurrences) == 0 {
		out.Cooccurrences = DeriveCooccurrences(out.Entities)
	}

	return out
}

// cleanEntities trims names, uppercases types, defaults an empty type to
// CONCEPT, and drops duplicates by case-insensitive name (first wins).
func cleanEntities(in []ExtractedEntity) []ExtractedEntity {
	out := make([]ExtractedEntity, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, e := range in {
		e.Name = strings.TrimSpace(e.Name)
		if e.Name == "" {
			continue
		}
		key := strings.ToLower(e.Name)
		if seen[key] {
			continue
		}
		seen[key] = true

		e.Type = strings.ToUpper(strings.TrimSpace(e.Type))
		if e.Type == "" {
			e.Type = string(TypeConcept)
		}
		out = append(out, e)
	}
	return out
}

// DeriveCooccurrences pairs every two distinct entities of one exchange.
func DeriveCooccurrences(entities []ExtractedEntity) [][2]string {
	if len(entities) < 2 {
		return nil
	}
	pairs := make([][2]string, 0, len(entities)*(len(entities)-1)/2)
	for i := 0; i < len(entities); i++ {
		for j := i + 1; j < len(entities); j++ {
			pairs = append(pairs, [2]string{entities[i].Name, entities[j].Name})
		}
	}
	return pairs
}

// Regex patterns for repair — match complete JSON objects.
var entityPattern = regexp.MustCompile(
	`\{\s*"name"\s*:\s*"[^"]+"\s*(?:,\s*"[^"]+"\s*:\s*(?:"[^"]*"|[\d.]+|\[[^\]]*\]|true|false|null))*\s*\}`,
)

var triplePattern = regexp.MustCompile(
	`\{\s*"subject"\s*:\s*"[^"]+"\s*,\s*"predicate"\s*:\s*"[^"]+"\s*,\s*"object"\s*:\s*"[^"]+"\s*(?:,\s*"[^"]+"\s*:\s*(?:"[^"]*"|[\d.]+|\[[^\]]*\]|true|false|null))*\s*\}`,
)

// repairEntities attempts to recover entity objects from malformed JSON.
func repairEntities(raw string) []ExtractedEntity {
	matches := entityPattern.FindAllString(raw, -1)
	entities := make([]ExtractedEntity, 0, len(matches))
	for _, m := range matches {
		var e ExtractedEntity
		if err := json.Unmarshal([]byte(m), &e); err != nil {
			continue
		}
		entities = append(entities, e)
	}
	return cleanEntities(entities)
}

// repairTriples attempts to recover triple objects from malformed JSON.
func repairTriples(raw string) []ExtractedTriple {
	matches := triplePattern.FindAllString(raw, -1)
	triples := make([]ExtractedTriple, 0, len(matches))
	for _, m := range matches {
		var t ExtractedTriple
		if err := json.Unmarshal([]byte(m), &t); err != nil {
			continue
		}
		triples = append(triples, t)
	}
	return triples
}
