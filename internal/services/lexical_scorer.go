package services

import (
	"math"
	"strings"

	"support-agent/internal/models"
)

// lexicalScorer ranks candidate chunks by TF-IDF overlap with the query.
// It is rebuilt per retrieval over the candidate pool, so IDF reflects the
// pool rather than the whole knowledge base; that keeps the lexical leg
// cheap and deterministic for a given pool.
type lexicalScorer struct {
	idf      map[string]float64
	docFreqs []map[string]float64
}

// newLexicalScorer builds TF-IDF statistics over the candidate pool
func newLexicalScorer(chunks []*models.DocumentChunk) *lexicalScorer {
	s := &lexicalScorer{
		idf:      make(map[string]float64),
		docFreqs: make([]map[string]float64, len(chunks)),
	}

	docCount := make(map[string]int)
	for i, chunk := range chunks {
		words := contentWords(chunk.Content)
		tf := make(map[string]float64, len(words))
		for _, w := range words {
			tf[w]++
		}
		if len(words) > 0 {
			for w := range tf {
				tf[w] /= float64(len(words))
				docCount[w]++
			}
		}
		s.docFreqs[i] = tf
	}

	total := float64(len(chunks))
	for w, n := range docCount {
		s.idf[w] = math.Log(1 + total/float64(n))
	}

	return s
}

// score returns the normalized TF-IDF similarity between the query and the
// chunk at index i, in [0, 1]
func (s *lexicalScorer) score(query string, i int) float32 {
	if i < 0 || i >= len(s.docFreqs) {
		return 0
	}

	queryWords := contentWords(strings.ToLower(query))
	if len(queryWords) == 0 {
		return 0
	}

	var overlap, max float64
	seen := make(map[string]bool, len(queryWords))
	for _, w := range queryWords {
		if seen[w] {
			continue
		}
		seen[w] = true

		idf := s.idf[w]
		max += idf
		if tf, ok := s.docFreqs[i][w]; ok {
			// Dampen term frequency so one repeated word cannot dominate
			overlap += idf * math.Sqrt(tf)
		}
	}

	if max == 0 {
		return 0
	}

	ratio := overlap / max
	if ratio > 1 {
		ratio = 1
	}
	return float32(ratio)
}
