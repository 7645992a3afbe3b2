package embedding

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Vector
		expected float64
		delta    float64
	}{
		{"identical", Vector{1, 0, 0}, Vector{1, 0, 0}, 1.0, 0.001},
		{"orthogonal", Vector{1, 0, 0}, Vector{0, 1, 0}, 0.0, 0.001},
		{"opposite", Vector{1, 0, 0}, Vector{-1, 0, 0}, -1.0, 0.001},
		{"similar", Vector{1, 1, 0}, Vector{1, 0, 0}, 0.707, 0.01},
		{"empty", Vector{}, Vector{}, 0.0, 0.001},
		{"different lengths", Vector{1, 0}, Vector{1, 0, 0}, 0.0, 0.001},
		{"zero vector", Vector{0, 0, 0}, Vector{1, 0, 0}, 0.0, 0.001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			assert.LessOrEqual(t, math.Abs(got-tt.expected), tt.delta)
		})
	}
}

func TestNewFromConfig(t *testing.T) {
	e, err := NewFromConfig(Config{})
	require.NoError(t, err)
	assert.Nil(t, e, "embeddings disabled without a provider")

	e, err = NewFromConfig(Config{Provider: "ollama"})
	require.NoError(t, err)
	assert.Equal(t, 768, e.Dims())

	e, err = NewFromConfig(Config{Provider: "ollama", Model: "all-minilm"})
	require.NoError(t, err)
	assert.Equal(t, 384, e.Dims())

	e, err = NewFromConfig(Config{Provider: "openai", APIKey: "k", RatePerSecond: 5})
	require.NoError(t, err)
	assert.Equal(t, 1536, e.Dims())
	assert.NotNil(t, e.(*OpenAIEmbedder).limiter)

	_, err = NewFromConfig(Config{Provider: "word2vec"})
	assert.Error(t, err)
}
