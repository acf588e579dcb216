package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedDimensions(t *testing.T) {
	e := NewHashEmbedder()
	defer e.Close()

	vec, err := e.Embed(context.Background(), "func main() {}")
	require.NoError(t, err)
	assert.Len(t, vec, Dimensions)
	assert.Equal(t, Dimensions, e.Dimensions())
}

func TestEmbedDeterministic(t *testing.T) {
	e := NewHashEmbedder()
	defer e.Close()

	a, err := e.Embed(context.Background(), "parseConfig reads the YAML file")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "parseConfig reads the YAML file")
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestEmbedNormalized(t *testing.T) {
	e := NewHashEmbedder()
	defer e.Close()

	vec, err := e.Embed(context.Background(), "normalize this vector please")
	require.NoError(t, err)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestEmbedEmptyReturnsZeroVector(t *testing.T) {
	e := NewHashEmbedder()
	defer e.Close()

	vec, err := e.Embed(context.Background(), "   \n\t ")
	require.NoError(t, err)
	require.Len(t, vec, Dimensions)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func TestEmbedDifferentTextsDiffer(t *testing.T) {
	e := NewHashEmbedder()
	defer e.Close()

	a, err := e.Embed(context.Background(), "binary search tree traversal")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "http request handler middleware")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestEmbedBatch(t *testing.T) {
	e := NewHashEmbedder()
	defer e.Close()

	texts := []string{"one", "two", "three"}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	single, err := e.Embed(context.Background(), "two")
	require.NoError(t, err)
	assert.Equal(t, single, vecs[1])
}

func TestEmbedBatchEmpty(t *testing.T) {
	e := NewHashEmbedder()
	defer e.Close()

	vecs, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
}

func TestEmbedBatchCancelled(t *testing.T) {
	e := NewHashEmbedder()
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.EmbedBatch(ctx, []string{"a", "b"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEmbedAfterCloseFails(t *testing.T) {
	e := NewHashEmbedder()
	require.NoError(t, e.Close())

	_, err := e.Embed(context.Background(), "anything")
	assert.Error(t, err)
}

func TestSplitCamelCase(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"parseConfig", []string{"parse", "Config"}},
		{"HTTPServer", []string{"HTTP", "Server"}},
		{"simple", []string{"simple"}},
		{"", []string{}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, splitCamelCase(tt.input), tt.input)
	}
}

func TestTokenizeSnakeCase(t *testing.T) {
	tokens := tokenize("read_file_record")
	assert.Equal(t, []string{"read", "file", "record"}, tokens)
}

func TestSharedSingleton(t *testing.T) {
	a := Shared()
	b := Shared()
	assert.Same(t, a, b)
}
