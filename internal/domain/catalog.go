package domain

// CatalogEntry is a read-only product record supplied by the catalog. Cost
// carries the currency symbol, e.g. "$15.00".
type CatalogEntry struct {
	Name        string `json:"name" yaml:"name"`
	Image       string `json:"image" yaml:"image"`
	Description string `json:"description" yaml:"description"`
	Cost        string `json:"cost" yaml:"cost"`
}

// Category groups catalog entries under a display heading.
type Category struct {
	Category string         `json:"category" yaml:"category"`
	Plants   []CatalogEntry `json:"plants" yaml:"plants"`
}
