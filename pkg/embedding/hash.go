package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashEmbedder is a deterministic in-process embedder built on feature
// hashing: word unigrams and bigrams are hashed into a fixed-width signed
// vector, which is then L2-normalized. The same text always produces the
// same vector, and texts sharing vocabulary land near each other, which is
// enough for demo mode and for tests that need stable similarity ordering
// without a network dependency.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a hash embedder with the given vector width.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashEmbedder{dims: dims}
}

// Dimensions returns the vector width.
func (e *HashEmbedder) Dimensions() int { return e.dims }

// Embed hashes each text into a vector. Never fails; a text with no tokens
// yields the zero vector.
func (e *HashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.embed(text)
	}
	return vectors, nil
}

func (e *HashEmbedder) embed(text string) []float32 {
	vec := make([]float32, e.dims)

	tokens := tokenize(text)
	for _, tok := range tokens {
		e.accumulate(vec, tok)
	}
	for i := 1; i < len(tokens); i++ {
		e.accumulate(vec, tokens[i-1]+" "+tokens[i])
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

// accumulate hashes a feature into a bucket, using one hash bit for sign so
// collisions tend to cancel rather than pile up.
func (e *HashEmbedder) accumulate(vec []float32, feature string) {
	h := fnv.New32a()
	h.Write([]byte(feature))
	sum := h.Sum32()

	idx := int(sum % uint32(e.dims))
	if sum&0x80000000 != 0 {
		vec[idx]--
	} else {
		vec[idx]++
	}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
