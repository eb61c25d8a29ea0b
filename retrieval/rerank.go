package retrieval

import (
	"math"
	"strings"
	"unicode"

	"satlegal-backend/models"
)

// Reranker recomputes the similarity of one candidate
type Reranker interface {
	Rerank(q Query, result models.RetrievalResult, stored models.Embedding) float64
}

// ExactReranker recomputes exact cosine similarity in float64 against the
// stored embedding, optionally blended with query term overlap.
type ExactReranker struct {
	lexicalWeight float64
}

// NewExactReranker creates the default reranker. lexicalWeight is clamped to [0,1].
func NewExactReranker(lexicalWeight float64) *ExactReranker {
	return &ExactReranker{lexicalWeight: clamp01(lexicalWeight)}
}

// Rerank implements Reranker
func (r *ExactReranker) Rerank(q Query, result models.RetrievalResult, stored models.Embedding) float64 {
	score := result.Score
	if len(stored) > 0 && len(stored) == len(q.Embedding) {
		if c, ok := Cosine(q.Embedding, stored); ok {
			score = c
		}
	}
	if r.lexicalWeight == 0 || q.Text == "" {
		return score
	}
	lex := termOverlap(q.Text, result.Title()+" "+result.Excerpt())
	return (1-r.lexicalWeight)*score + r.lexicalWeight*lex
}

// Cosine returns the cosine similarity of a and b. ok is false for
// mismatched lengths or zero vectors.
func Cosine(a, b models.Embedding) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "was": true, "are": true, "not": true,
	"has": true, "have": true, "his": true, "her": true, "its": true,
}

func terms(s string) map[string]bool {
	out := make(map[string]bool)
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(f) < 3 || stopwords[f] {
			continue
		}
		out[f] = true
	}
	return out
}

// termOverlap is the fraction of query terms present in text
func termOverlap(query, text string) float64 {
	qt := terms(query)
	if len(qt) == 0 {
		return 0
	}
	tt := terms(text)
	hits := 0
	for t := range qt {
		if tt[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(qt))
}
