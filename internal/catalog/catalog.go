// Package catalog indexes the categories available for a run.
package catalog

import (
	"strings"

	"github.com/Veraticus/actual-autocat/internal/model"
)

// Catalog is a read-only index of categories by ID and by name.
type Catalog struct {
	byID       map[string]model.Category
	byName     map[string]model.Category
	categories []model.Category
}

// New builds a catalog. When two categories share a name (ignoring case),
// the first one wins name lookups.
func New(categories []model.Category) *Catalog {
	c := &Catalog{
		byID:       make(map[string]model.Category, len(categories)),
		byName:     make(map[string]model.Category, len(categories)),
		categories: make([]model.Category, 0, len(categories)),
	}

	for _, cat := range categories {
		if cat.ID == "" {
			continue
		}
		if _, exists := c.byID[cat.ID]; exists {
			continue
		}
		c.byID[cat.ID] = cat
		c.categories = append(c.categories, cat)

		key := normalize(cat.Name)
		if key == "" {
			continue
		}
		if _, exists := c.byName[key]; !exists {
			c.byName[key] = cat
		}
	}

	return c
}

// ByID looks up a category by its identifier.
func (c *Catalog) ByID(id string) (model.Category, bool) {
	cat, ok := c.byID[id]
	return cat, ok
}

// ByName looks up a category by name, case-insensitively.
func (c *Catalog) ByName(name string) (model.Category, bool) {
	key := normalize(name)
	if key == "" {
		return model.Category{}, false
	}
	cat, ok := c.byName[key]
	return cat, ok
}

// Names returns category names in the order they were supplied.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.categories))
	for _, cat := range c.categories {
		if cat.Name != "" {
			names = append(names, cat.Name)
		}
	}
	return names
}

// Len returns the number of indexed categories.
func (c *Catalog) Len() int {
	return len(c.categories)
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
