// Package accessories is a ready-made catalog of building accessories:
// buildings, tools and materials sold through Basic, Premium and Gold
// boxes. lootboxd serves it when no catalog file is configured.
package accessories

import (
	_ "embed"

	"github.com/blockberries/lootbox/config"
	"github.com/blockberries/lootbox/types"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Option ids of the preset.
const (
	Basic   types.OptionID = 0
	Premium types.OptionID = 1
	Gold    types.OptionID = 2
)

// Class groups the item categories of the preset.
type Class int

const (
	Buildings Class = iota
	Tools
	Materials
)

func (c Class) String() string {
	switch c {
	case Buildings:
		return "buildings"
	case Tools:
		return "tools"
	case Materials:
		return "materials"
	default:
		return "unknown"
	}
}

// ClassOf returns the class of a preset category and false for ids
// outside 1..15.
func ClassOf(id types.CategoryID) (Class, bool) {
	if id < 1 || id > 15 {
		return 0, false
	}
	return Class((id - 1) / 5), true
}

// Load parses the embedded catalog. A non-zero owner replaces the
// placeholder owner of the preset.
func Load(owner types.Account) (config.Catalog, error) {
	c, err := config.ParseCatalog(catalogYAML)
	if err != nil {
		return config.Catalog{}, err
	}
	if !owner.IsZero() {
		c.Owner = owner
	}
	return c, nil
}

// YAML returns the embedded catalog document, for use as a template.
func YAML() []byte {
	return append([]byte(nil), catalogYAML...)
}
