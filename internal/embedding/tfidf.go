package embedding

import (
	"math"
	"sort"
	"sync"
)

// TFIDF is a vocabulary-based embedder. It must be fitted on a corpus before
// use; the vocabulary is frozen for the process lifetime afterwards. Until
// fitted (or when the corpus is empty) every text embeds to the zero vector,
// which Cosine treats as "no match".
type TFIDF struct {
	mu      sync.RWMutex
	cap     int
	dim     int
	vocab   map[string]int
	idf     map[string]float64
	fitted  bool
}

// NewTFIDF creates an unfitted TF-IDF embedder with the given dimension cap.
func NewTFIDF(dimensionCap int) *TFIDF {
	if dimensionCap <= 0 {
		dimensionCap = 100
	}
	return &TFIDF{
		cap:   dimensionCap,
		dim:   dimensionCap,
		vocab: make(map[string]int),
		idf:   make(map[string]float64),
	}
}

// Fit builds the vocabulary and IDF table from a corpus. Calling Fit a
// second time is a no-op: the vocabulary is frozen once built.
func (e *TFIDF) Fit(texts []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fitted || len(texts) == 0 {
		return
	}

	docCounts := make(map[string]int)
	var order []string
	seenOrder := make(map[string]bool)
	for _, text := range texts {
		tokens := tokenize(text)
		unique := make(map[string]bool, len(tokens))
		for _, tok := range tokens {
			if !seenOrder[tok] {
				seenOrder[tok] = true
				order = append(order, tok)
			}
			unique[tok] = true
		}
		for tok := range unique {
			docCounts[tok]++
		}
	}

	total := float64(len(texts))
	for word, count := range docCounts {
		e.idf[word] = math.Log(total / float64(1+count))
	}

	// Most document-frequent words claim the slots under the dimension cap
	// so the vector keeps the highest-signal vocabulary.
	sort.SliceStable(order, func(i, j int) bool {
		return docCounts[order[i]] > docCounts[order[j]]
	})
	for idx, word := range order {
		e.vocab[word] = idx
	}

	if len(e.vocab) < e.cap {
		e.dim = len(e.vocab)
	} else {
		e.dim = e.cap
	}
	if e.dim == 0 {
		e.dim = e.cap
	}
	e.fitted = true
}

// Fitted reports whether Fit has run with a non-empty corpus.
func (e *TFIDF) Fitted() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fitted
}

// Embed produces an L2-normalised tf-idf vector over the frozen vocabulary.
func (e *TFIDF) Embed(text string) []float32 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	vector := make([]float32, e.dim)
	tokens := tokenize(text)
	if len(tokens) == 0 || !e.fitted {
		return vector
	}

	counts := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		counts[tok]++
	}

	for tok, count := range counts {
		idx, ok := e.vocab[tok]
		if !ok || idx >= e.dim {
			continue
		}
		tf := float64(count) / float64(len(tokens))
		idf, ok := e.idf[tok]
		if !ok {
			idf = 1.0
		}
		vector[idx] = float32(tf * idf)
	}

	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vector {
			vector[i] *= scale
		}
	}
	return vector
}

func (e *TFIDF) Dimension() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dim
}

func (e *TFIDF) Scheme() string { return "tfidf" }
