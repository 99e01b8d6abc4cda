// Package voice holds the voice presets a model variant accepts and the
// speaker embeddings that some variants need.
package voice

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"os"
	"slices"

	"github.com/pelletier/go-toml/v2"
)

// EmbeddingSize is the length of a speaker embedding (x-vector).
const EmbeddingSize = 512

var (
	// ErrEmbeddingSize indicates a stored embedding of the wrong length.
	ErrEmbeddingSize = errors.New("speaker embedding has wrong size")
	// ErrUnknownDefault indicates a default preset missing from the catalog.
	ErrUnknownDefault = errors.New("default voice preset is not in the catalog")
)

// Preset is one selectable voice.
type Preset struct {
	Name        string    `toml:"name"`
	Description string    `toml:"description"`
	Embedding   []float32 `toml:"embedding"`
}

type catalogFile struct {
	Default string   `toml:"default"`
	Presets []Preset `toml:"presets"`
}

// Catalog is an immutable set of voice presets.
type Catalog struct {
	defaultPreset string
	presets       map[string]Preset
	names         []string
}

// NewCatalog builds a catalog from presets. An empty defaultPreset selects
// the first preset.
func NewCatalog(defaultPreset string, presets []Preset) (*Catalog, error) {
	catalog := &Catalog{
		defaultPreset: defaultPreset,
		presets:       make(map[string]Preset, len(presets)),
		names:         make([]string, 0, len(presets)),
	}

	for _, preset := range presets {
		if len(preset.Embedding) != 0 && len(preset.Embedding) != EmbeddingSize {
			return nil, fmt.Errorf("%w: preset %q has %d values, want %d",
				ErrEmbeddingSize, preset.Name, len(preset.Embedding), EmbeddingSize)
		}

		if _, exists := catalog.presets[preset.Name]; !exists {
			catalog.names = append(catalog.names, preset.Name)
		}

		catalog.presets[preset.Name] = preset
	}

	if catalog.defaultPreset == "" && len(catalog.names) > 0 {
		catalog.defaultPreset = catalog.names[0]
	}

	if catalog.defaultPreset != "" && len(catalog.names) > 0 && !catalog.Has(catalog.defaultPreset) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDefault, catalog.defaultPreset)
	}

	return catalog, nil
}

// Load reads a TOML catalog file. An empty path yields an empty catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return NewCatalog("", nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read voices file '%s': %w", path, err)
	}

	return Parse(data)
}

// Parse decodes a TOML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile

	err := toml.Unmarshal(data, &file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode voices file: %w", err)
	}

	return NewCatalog(file.Default, file.Presets)
}

// Has reports whether preset is in the catalog.
func (c *Catalog) Has(preset string) bool {
	_, ok := c.presets[preset]

	return ok
}

// Empty reports whether the catalog lists no presets. An empty catalog does
// not restrict preset names.
func (c *Catalog) Empty() bool {
	return len(c.names) == 0
}

// Names returns the preset names in file order.
func (c *Catalog) Names() []string {
	return slices.Clone(c.names)
}

// Default returns the default preset, or "" when none is known.
func (c *Catalog) Default() string {
	return c.defaultPreset
}

// Presets returns all presets in file order.
func (c *Catalog) Presets() []Preset {
	presets := make([]Preset, 0, len(c.names))
	for _, name := range c.names {
		presets = append(presets, c.presets[name])
	}

	return presets
}

// Embedding returns the stored speaker embedding for preset, or one generated
// from the preset name.
func (c *Catalog) Embedding(preset string) []float32 {
	if stored, ok := c.presets[preset]; ok && len(stored.Embedding) == EmbeddingSize {
		return slices.Clone(stored.Embedding)
	}

	return GenerateEmbedding(preset)
}

// GenerateEmbedding derives a unit-length speaker embedding from name. The
// same name always yields the same vector.
func GenerateEmbedding(name string) []float32 {
	hash := fnv.New64a()
	_, _ = hash.Write([]byte(name))
	seed := hash.Sum64()

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	values := make([]float64, EmbeddingSize)

	var sumSquares float64

	for index := range values {
		values[index] = rng.NormFloat64()
		sumSquares += values[index] * values[index]
	}

	norm := math.Sqrt(sumSquares)

	embedding := make([]float32, EmbeddingSize)
	for index, value := range values {
		embedding[index] = float32(value / norm)
	}

	return embedding
}
