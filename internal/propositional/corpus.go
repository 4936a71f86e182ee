package propositional

import (
	"strings"
	"unicode"
)

// Proposition is one atomic, self-contained statement the retriever can
// return.
type Proposition struct {
	ID   string
	Text string
}

// DefaultCorpus is served when no corpus is configured.
var DefaultCorpus = []Proposition{
	{ID: "p1", Text: "A proposition is an atomic expression that contains a single distinct factoid."},
	{ID: "p2", Text: "Propositional retrieval indexes propositions instead of passages or sentences."},
	{ID: "p3", Text: "Retrieval by proposition improves precision because each unit carries one fact."},
	{ID: "p4", Text: "A multi-vector index stores several propositions for every source document."},
	{ID: "p5", Text: "The generator answers the question using only the retrieved propositions as context."},
	{ID: "p6", Text: "Ranking orders retrieved propositions by their overlap with the question."},
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "by": {}, "does": {},
	"for": {}, "how": {}, "in": {}, "is": {}, "it": {}, "of": {}, "on": {},
	"or": {}, "the": {}, "to": {}, "what": {}, "which": {}, "why": {}, "with": {},
}

// terms returns the lower-cased content words of s.
func terms(s string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if _, stop := stopwords[w]; stop {
			continue
		}
		set[strings.TrimSuffix(w, "s")] = struct{}{}
	}
	return set
}

// overlap scores text against the question terms as the fraction of
// question terms it contains.
func overlap(question map[string]struct{}, text string) float64 {
	if len(question) == 0 {
		return 0
	}
	hits := 0
	for t := range terms(text) {
		if _, ok := question[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(question))
}
