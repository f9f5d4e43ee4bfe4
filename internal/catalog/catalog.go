// Package catalog loads, validates, and serves the read-only product catalog.
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/pricing"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

//go:embed plants.yaml
var defaultCatalog []byte

// Catalog is an immutable, validated set of categories. Entry names are
// unique across the whole catalog because the cart keys lines by name.
type Catalog struct {
	categories []domain.Category
	byName     map[string]domain.CatalogEntry
}

// New validates categories and builds a Catalog. Every cost must parse as a
// currency-prefixed price; all problems are reported together.
func New(categories []domain.Category) (*Catalog, error) {
	var errs []error
	byName := make(map[string]domain.CatalogEntry)

	for i, cat := range categories {
		if cat.Category == "" {
			errs = append(errs, fmt.Errorf("category %d: name is required", i))
		}
		for j, p := range cat.Plants {
			where := fmt.Sprintf("category %q entry %d", cat.Category, j)
			if p.Name == "" {
				errs = append(errs, fmt.Errorf("%s: name is required", where))
				continue
			}
			if _, dup := byName[p.Name]; dup {
				errs = append(errs, fmt.Errorf("%s: duplicate name %q", where, p.Name))
				continue
			}
			if _, err := pricing.ParsePrice(p.Cost); err != nil {
				errs = append(errs, fmt.Errorf("%s (%s): %w", where, p.Name, err))
				continue
			}
			byName[p.Name] = p
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid catalog: %w", errors.Join(errs...))
	}

	return &Catalog{categories: cloneCategories(categories), byName: byName}, nil
}

// Parse decodes YAML (or JSON, which YAML accepts) into categories. Unknown
// fields are rejected.
func Parse(r io.Reader) ([]domain.Category, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var categories []domain.Category
	if err := dec.Decode(&categories); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, apperrors.InvalidInput("catalog document is empty")
		}
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return categories, nil
}

// LoadDefault returns the embedded nursery catalog.
func LoadDefault() (*Catalog, error) {
	categories, err := Parse(bytes.NewReader(defaultCatalog))
	if err != nil {
		return nil, fmt.Errorf("embedded catalog: %w", err)
	}
	return New(categories)
}

// LoadFile reads and validates a catalog file.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	categories, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return New(categories)
}

// Categories returns a copy of the grouped catalog in source order.
func (c *Catalog) Categories() []domain.Category {
	return cloneCategories(c.categories)
}

// Lookup returns the entry with the given name.
func (c *Catalog) Lookup(name string) (domain.CatalogEntry, error) {
	entry, ok := c.byName[name]
	if !ok {
		return domain.CatalogEntry{}, apperrors.NotFound("plant", name)
	}
	return entry, nil
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	return len(c.byName)
}

func cloneCategories(in []domain.Category) []domain.Category {
	out := make([]domain.Category, len(in))
	for i, cat := range in {
		plants := make([]domain.CatalogEntry, len(cat.Plants))
		copy(plants, cat.Plants)
		out[i] = domain.Category{Category: cat.Category, Plants: plants}
	}
	return out
}
