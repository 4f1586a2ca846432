package embedding

import "strings"

// featureDim is fixed: 2 length features, 26 character frequencies,
// punctuation density, question and exclamation flags, zero-padded to 50.
const featureDim = 50

// Feature is a corpus-free embedder built from hand-engineered text
// features. Usable immediately, no fitting step.
type Feature struct{}

// NewFeature creates the feature embedder.
func NewFeature() *Feature { return &Feature{} }

// Embed produces the 50-dimensional feature vector.
func (e *Feature) Embed(text string) []float32 {
	vector := make([]float32, featureDim)
	if text == "" {
		return vector
	}

	lower := strings.ToLower(text)
	i := 0

	vector[i] = clamp01(float32(len(text)) / 100.0)
	i++
	vector[i] = clamp01(float32(len(strings.Fields(text))) / 50.0)
	i++

	var charCounts [26]int
	total := 0
	for _, r := range lower {
		if r >= 'a' && r <= 'z' {
			charCounts[r-'a']++
			total++
		}
	}
	if total == 0 {
		total = 1
	}
	for c := 0; c < 26; c++ {
		vector[i] = float32(charCounts[c]) / float32(total)
		i++
	}

	punct := 0
	for _, r := range text {
		if strings.ContainsRune(".,!?;:", r) {
			punct++
		}
	}
	vector[i] = clamp01(float32(punct) / float32(len(text)))
	i++

	if strings.ContainsRune(text, '?') {
		vector[i] = 1.0
	}
	i++
	if strings.ContainsRune(text, '!') {
		vector[i] = 1.0
	}

	return vector
}

func (e *Feature) Dimension() int { return featureDim }

func (e *Feature) Scheme() string { return "feature" }

func clamp01(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}
