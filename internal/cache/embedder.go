// Package cache persists successful tool chains keyed by task-description
// similarity, so repeat tasks get cheaper over time.
package cache

import (
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultDimension matches the embedding width used by small sentence
// encoders, keeping stored vectors compatible if a real model is wired in.
const DefaultDimension = 384

// Embedder produces L2-normalised vectors so that dot product equals
// cosine similarity.
type Embedder interface {
	Embed(text string) []float32
	Dimension() int
}

// HashEmbedder is a deterministic bag-of-words embedder: each token is
// hashed into a bucket with a hash-derived sign. Identical texts always
// produce identical vectors, and lexically similar texts land close
// together. It needs no model download and no network.
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &HashEmbedder{dim: dim}
}

func (e *HashEmbedder) Dimension() int { return e.dim }

func (e *HashEmbedder) Embed(text string) []float32 {
	vec := make([]float32, e.dim)

	for _, token := range tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()

		idx := int(sum % uint64(e.dim))
		sign := float32(1)
		if sum&(1<<63) != 0 {
			sign = -1
		}
		vec[idx] += sign
	}

	normalize(vec)
	return vec
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}

func dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
