// Package embedding turns text into fixed-length vectors for similarity
// search. Two schemes exist: a TF-IDF embedder fitted on the conversation
// corpus, and a corpus-free feature embedder. Vectors from different schemes
// must never be compared; callers tag stored vectors with Scheme().
package embedding

import (
	"math"
	"regexp"
	"strings"
)

// Embedder generates a deterministic fixed-length vector for a text.
// The empty string embeds to the zero vector.
type Embedder interface {
	Embed(text string) []float32
	Dimension() int
	Scheme() string
}

// Cosine computes cosine similarity between two vectors. It returns 0 when
// the dimensions differ or either vector has zero norm; callers treat that
// as "no match", not an error.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var nonWord = regexp.MustCompile(`[^\w\s]`)

// tokenize lowercases, strips punctuation and splits on whitespace.
func tokenize(text string) []string {
	return strings.Fields(nonWord.ReplaceAllString(strings.ToLower(text), ""))
}
