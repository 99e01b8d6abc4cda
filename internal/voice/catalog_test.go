package voice_test

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/book-expert/speech-service/internal/voice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const barkVoices = `
default = "v2/en_speaker_6"

[[presets]]
name = "v2/en_speaker_0"
description = "English, male, calm"

[[presets]]
name = "v2/en_speaker_6"
description = "English, male, narrator"

[[presets]]
name = "v2/de_speaker_3"
description = "German, female"
`

func TestParse(t *testing.T) {
	t.Parallel()

	catalog, err := voice.Parse([]byte(barkVoices))
	require.NoError(t, err)

	assert.Equal(t, "v2/en_speaker_6", catalog.Default())
	assert.Equal(t, []string{"v2/en_speaker_0", "v2/en_speaker_6", "v2/de_speaker_3"}, catalog.Names())
	assert.True(t, catalog.Has("v2/de_speaker_3"))
	assert.False(t, catalog.Has("v2/fr_speaker_1"))
	assert.False(t, catalog.Empty())
	assert.Equal(t, "German, female", catalog.Presets()[2].Description)
}

func TestParse_DefaultFallsBackToFirstPreset(t *testing.T) {
	t.Parallel()

	catalog, err := voice.Parse([]byte(`
[[presets]]
name = "slt"

[[presets]]
name = "bdl"
`))
	require.NoError(t, err)
	assert.Equal(t, "slt", catalog.Default())
}

func TestParse_UnknownDefault(t *testing.T) {
	t.Parallel()

	_, err := voice.Parse([]byte(`
default = "missing"

[[presets]]
name = "slt"
`))
	require.ErrorIs(t, err, voice.ErrUnknownDefault)
}

func TestParse_WrongEmbeddingSize(t *testing.T) {
	t.Parallel()

	_, err := voice.Parse([]byte(`
[[presets]]
name = "slt"
embedding = [0.1, 0.2, 0.3]
`))
	require.ErrorIs(t, err, voice.ErrEmbeddingSize)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "voices.toml")
	require.NoError(t, os.WriteFile(path, []byte(barkVoices), 0o600))

	catalog, err := voice.Load(path)
	require.NoError(t, err)
	assert.Len(t, catalog.Names(), 3)

	empty, err := voice.Load("")
	require.NoError(t, err)
	assert.True(t, empty.Empty())
	assert.Empty(t, empty.Default())

	_, err = voice.Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestEmbedding_StoredValuesWin(t *testing.T) {
	t.Parallel()

	values := make([]string, voice.EmbeddingSize)
	for index := range values {
		values[index] = "0.25"
	}

	document := "[[presets]]\nname = \"slt\"\nembedding = [" + strings.Join(values, ", ") + "]\n"

	catalog, err := voice.Parse([]byte(document))
	require.NoError(t, err)

	embedding := catalog.Embedding("slt")
	require.Len(t, embedding, voice.EmbeddingSize)
	assert.InDelta(t, 0.25, embedding[0], 1e-6)
	assert.InDelta(t, 0.25, embedding[voice.EmbeddingSize-1], 1e-6)
}

func TestGenerateEmbedding(t *testing.T) {
	t.Parallel()

	first := voice.GenerateEmbedding("slt")
	second := voice.GenerateEmbedding("slt")
	other := voice.GenerateEmbedding("bdl")

	require.Len(t, first, voice.EmbeddingSize)
	assert.Equal(t, first, second, "the same name must yield the same embedding")
	assert.NotEqual(t, first, other)

	var sumSquares float64
	for _, value := range first {
		sumSquares += float64(value) * float64(value)
	}

	assert.InDelta(t, 1.0, math.Sqrt(sumSquares), 1e-4)
}
