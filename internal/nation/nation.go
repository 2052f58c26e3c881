// Package nation holds the static catalog of playable nations.
package nation

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrUnknownNation = errors.New("unknown nation")
	ErrInvalidNation = errors.New("invalid nation definition")
)

// Nation is a playable faction. IDs match the names used on the wire.
type Nation struct {
	ID          string   `json:"id" mapstructure:"id"`
	DisplayName string   `json:"displayName" mapstructure:"displayName"`
	Color       string   `json:"color" mapstructure:"color"`
	Capital     string   `json:"capital" mapstructure:"capital"`
	Cities      []string `json:"cities" mapstructure:"cities"`
}

// Defaults is the built-in catalog.
var Defaults = []Nation{
	{ID: "USA", DisplayName: "USA", Color: "#090aff", Capital: "Washington", Cities: []string{"Washington", "New York", "Los Angeles", "Chicago"}},
	{ID: "Roman Empire", DisplayName: "Roman Empire", Color: "#7716b5", Capital: "Rome", Cities: []string{"Rome", "Milan", "Naples", "Venice"}},
	{ID: "United Kingdom", DisplayName: "United Kingdom", Color: "#bf0818", Capital: "London", Cities: []string{"London", "Manchester", "Edinburgh", "Birmingham"}},
	{ID: "France", DisplayName: "France", Color: "#4c8eff", Capital: "Paris", Cities: []string{"Paris", "Lyon", "Marseille", "Bordeaux"}},
	{ID: "Japan", DisplayName: "Japan", Color: "#fff8f8", Capital: "Tokyo", Cities: []string{"Tokyo", "Osaka", "Kyoto", "Sapporo"}},
	{ID: "India", DisplayName: "India", Color: "#973a00", Capital: "New Delhi", Cities: []string{"New Delhi", "Mumbai", "Kolkata", "Chennai"}},
	{ID: "Egypt", DisplayName: "Egypt", Color: "#c78700", Capital: "Cairo", Cities: []string{"Cairo", "Alexandria", "Giza", "Luxor"}},
	{ID: "China", DisplayName: "China", Color: "#119b00", Capital: "Beijing", Cities: []string{"Beijing", "Shanghai", "Guangzhou", "Chengdu"}},
}

// Catalog is an immutable, ordered set of nations.
type Catalog struct {
	order []string
	byID  map[string]Nation
}

// NewCatalog validates nations and builds a catalog preserving their order.
func NewCatalog(nations []Nation) (*Catalog, error) {
	if len(nations) == 0 {
		return nil, fmt.Errorf("%w: empty catalog", ErrInvalidNation)
	}
	c := &Catalog{byID: make(map[string]Nation, len(nations))}
	for i, n := range nations {
		if n.ID == "" {
			return nil, fmt.Errorf("%w: entry %d has no id", ErrInvalidNation, i)
		}
		if _, dup := c.byID[n.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidNation, n.ID)
		}
		if n.DisplayName == "" {
			n.DisplayName = n.ID
		}
		if n.Capital != "" && !contains(n.Cities, n.Capital) {
			n.Cities = append([]string{n.Capital}, n.Cities...)
		}
		n.Cities = append([]string(nil), n.Cities...)
		c.byID[n.ID] = n
		c.order = append(c.order, n.ID)
	}
	return c, nil
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := NewCatalog(Defaults)
	if err != nil {
		panic(err)
	}
	return c
}

// Get returns the nation with the given id.
func (c *Catalog) Get(id string) (Nation, error) {
	n, ok := c.byID[id]
	if !ok {
		return Nation{}, fmt.Errorf("%w: %q", ErrUnknownNation, id)
	}
	return n, nil
}

// All returns every nation in catalog order.
func (c *Catalog) All() []Nation {
	out := make([]Nation, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// Available returns the nations not present in taken, in catalog order.
func (c *Catalog) Available(taken []string) []Nation {
	t := make(map[string]struct{}, len(taken))
	for _, id := range taken {
		t[id] = struct{}{}
	}
	var out []Nation
	for _, id := range c.order {
		if _, ok := t[id]; !ok {
			out = append(out, c.byID[id])
		}
	}
	return out
}

// IDs returns the sorted nation ids.
func (c *Catalog) IDs() []string {
	ids := append([]string(nil), c.order...)
	sort.Strings(ids)
	return ids
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
