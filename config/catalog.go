// Package config loads the catalog and process settings of a lootbox
// node.
//
// A catalog is a YAML document. It is checked in three passes: against
// the embedded JSON schema (shape and ranges), for referential
// consistency (unique ids, known categories, a non-zero owner), and by
// the allocator (every option must be able to fill its total).
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/blockberries/lootbox"
	"github.com/blockberries/lootbox/allocator"
	"github.com/blockberries/lootbox/types"
)

//go:embed catalog.schema.json
var catalogSchemaJSON string

const catalogSchemaURL = "catalog.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func catalogSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(catalogSchemaURL, strings.NewReader(catalogSchemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile(catalogSchemaURL)
	})
	return schema, schemaErr
}

// CatalogFile is the YAML form of a catalog.
type CatalogFile struct {
	Name       string         `yaml:"name"`
	Symbol     string         `yaml:"symbol"`
	Owner      string         `yaml:"owner"`
	Delegates  []string       `yaml:"delegates"`
	Categories []CategoryFile `yaml:"categories"`
	Options    []OptionFile   `yaml:"options"`
}

type CategoryFile struct {
	ID            uint32  `yaml:"id"`
	Name          string  `yaml:"name"`
	Cap           *uint64 `yaml:"cap"`
	InitialSupply uint64  `yaml:"initial_supply"`
}

type OptionFile struct {
	ID         uint32          `yaml:"id"`
	Name       string          `yaml:"name"`
	Total      uint64          `yaml:"total"`
	BoxCap     *uint64         `yaml:"box_cap"`
	Guarantees []GuaranteeFile `yaml:"guarantees"`
}

type GuaranteeFile struct {
	Category uint32  `yaml:"category"`
	Min      uint64  `yaml:"min"`
	Weight   uint64  `yaml:"weight"`
	MaxCap   *uint64 `yaml:"max_cap"`
}

// Catalog is a loaded, validated catalog plus the delegates to register
// for its owner.
type Catalog struct {
	types.Catalog
	Delegates []types.Account
}

// LoadCatalog reads and validates the catalog at path.
func LoadCatalog(path string) (Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, err
	}
	c, err := ParseCatalog(raw)
	if err != nil {
		return Catalog{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// ParseCatalog validates and converts a YAML catalog document.
func ParseCatalog(raw []byte) (Catalog, error) {
	if err := validateSchema(raw); err != nil {
		return Catalog{}, err
	}
	var f CatalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return Catalog{}, fmt.Errorf("catalog: %w", err)
	}
	return f.Build()
}

// validateSchema checks raw against the embedded schema. YAML is
// re-encoded as JSON first so the validator sees JSON types only.
func validateSchema(raw []byte) error {
	s, err := catalogSchema()
	if err != nil {
		return fmt.Errorf("catalog schema: %w", err)
	}
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	js, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(js))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return lootbox.Wrap(lootbox.CodeInvalidConfig, "catalog does not match schema", err)
	}
	return nil
}

// Build converts the file form into a validated catalog.
func (f CatalogFile) Build() (Catalog, error) {
	owner, err := types.ParseAccount(f.Owner)
	if err != nil {
		return Catalog{}, lootbox.Wrap(lootbox.CodeInvalidConfig, "owner", err)
	}
	out := Catalog{Catalog: types.Catalog{
		Name:   strings.TrimSpace(f.Name),
		Symbol: strings.TrimSpace(f.Symbol),
		Owner:  owner,
	}}
	for _, d := range f.Delegates {
		a, err := types.ParseAccount(d)
		if err != nil {
			return Catalog{}, lootbox.Wrap(lootbox.CodeInvalidConfig, "delegate", err)
		}
		out.Delegates = append(out.Delegates, a)
	}
	for _, c := range f.Categories {
		out.Categories = append(out.Categories, types.Category{
			ID:            types.CategoryID(c.ID),
			Name:          strings.TrimSpace(c.Name),
			Cap:           c.Cap,
			InitialSupply: c.InitialSupply,
		})
	}
	for _, o := range f.Options {
		opt := types.Option{
			ID:     types.OptionID(o.ID),
			Name:   strings.TrimSpace(o.Name),
			Total:  o.Total,
			BoxCap: o.BoxCap,
		}
		for _, g := range o.Guarantees {
			opt.Guarantees = append(opt.Guarantees, types.Guarantee{
				Category: types.CategoryID(g.Category),
				Minimum:  g.Min,
				Weight:   g.Weight,
				MaxCap:   g.MaxCap,
			})
		}
		out.Options = append(out.Options, opt)
	}
	if err := Validate(out.Catalog); err != nil {
		return Catalog{}, err
	}
	return out, nil
}

// Validate checks a catalog for consistency. It is also run by the
// engine constructor; here it reports configuration mistakes before
// any store is opened.
func Validate(c types.Catalog) error {
	if c.Owner.IsZero() {
		return lootbox.NewError(lootbox.CodeInvalidConfig, "owner must not be the zero address")
	}
	cats := make(map[types.CategoryID]bool, len(c.Categories))
	for _, cat := range c.Categories {
		if cats[cat.ID] {
			return lootbox.NewError(lootbox.CodeInvalidConfig, "category %d defined twice", cat.ID)
		}
		cats[cat.ID] = true
		if cat.Cap != nil && *cat.Cap == 0 {
			return lootbox.NewError(lootbox.CodeInvalidConfig, "category %d: cap of zero", cat.ID)
		}
	}
	opts := make(map[types.OptionID]bool, len(c.Options))
	for _, o := range c.Options {
		if opts[o.ID] {
			return lootbox.NewError(lootbox.CodeInvalidConfig, "option %d defined twice", o.ID)
		}
		opts[o.ID] = true
		if err := allocator.ValidateOption(o, c.Categories); err != nil {
			return err
		}
	}
	return nil
}
