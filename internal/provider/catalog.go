package provider

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/untoldecay/space/internal/types"
)

//go:embed models.toml
var modelsTOML []byte

// Catalog maps model names and aliases to providers.
type Catalog struct {
	Models []CatalogModel `toml:"models"`

	byName map[string]string
}

// CatalogModel is one entry of models.toml.
type CatalogModel struct {
	Name     string   `toml:"name"`
	Provider string   `toml:"provider"`
	Aliases  []string `toml:"aliases"`
}

// LoadCatalog parses the embedded models.toml.
func LoadCatalog() (Catalog, error) {
	var c Catalog
	if err := toml.Unmarshal(modelsTOML, &c); err != nil {
		return Catalog{}, fmt.Errorf("failed to parse model catalog: %w", err)
	}
	c.byName = make(map[string]string, len(c.Models)*2)
	for _, m := range c.Models {
		c.byName[strings.ToLower(m.Name)] = m.Provider
		for _, alias := range m.Aliases {
			c.byName[strings.ToLower(alias)] = m.Provider
		}
	}
	return c, nil
}

// ProviderFor resolves model to a provider name. Exact names and aliases
// win; unknown models fall back to prefix matching so a newly released
// model routes without a catalog update.
func (c Catalog) ProviderFor(model string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(model))
	if key == "" {
		return "", types.Validationf("model is required")
	}
	if p, ok := c.byName[key]; ok {
		return p, nil
	}
	switch {
	case strings.HasPrefix(key, "claude"):
		return types.ProviderClaude, nil
	case strings.HasPrefix(key, "gpt"), strings.HasPrefix(key, "o1"),
		strings.HasPrefix(key, "o3"), strings.HasPrefix(key, "o4"):
		return types.ProviderCodex, nil
	case strings.HasPrefix(key, "gemini"):
		return types.ProviderGemini, nil
	}
	return "", types.NotFoundf("no provider serves model %q", model)
}

// Known reports whether model resolves to some provider.
func (c Catalog) Known(model string) bool {
	_, err := c.ProviderFor(model)
	return err == nil
}
