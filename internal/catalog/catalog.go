package catalog

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/resmoray/nomad-weather-map/internal/models"
)

// Catalog is the immutable region registry loaded at startup.
type Catalog struct {
	byID map[string]models.Region
	ids  []string
}

type catalogFile struct {
	Regions []models.Region `yaml:"regions"`
}

// Load reads a YAML region catalog:
//
//	regions:
//	  - id: vn-da-nang
//	    name: Da Nang
//	    latitude: 16.0544
//	    longitude: 108.2022
//	    coastal: true
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read region catalog: %w", err)
	}
	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse region catalog: %w", err)
	}
	if len(cf.Regions) == 0 {
		return nil, fmt.Errorf("region catalog %s contains no regions", path)
	}
	return New(cf.Regions)
}

// New builds a Catalog from a region list. IDs must be unique and non-empty.
func New(regions []models.Region) (*Catalog, error) {
	byID := make(map[string]models.Region, len(regions))
	ids := make([]string, 0, len(regions))
	for _, r := range regions {
		if r.ID == "" {
			return nil, fmt.Errorf("region with empty id (name %q)", r.Name)
		}
		if _, dup := byID[r.ID]; dup {
			return nil, fmt.Errorf("duplicate region id %q", r.ID)
		}
		if r.Latitude < -90 || r.Latitude > 90 || r.Longitude < -180 || r.Longitude > 180 {
			return nil, fmt.Errorf("region %s has invalid coordinates (%v, %v)", r.ID, r.Latitude, r.Longitude)
		}
		byID[r.ID] = r
		ids = append(ids, r.ID)
	}
	sort.Strings(ids)
	return &Catalog{byID: byID, ids: ids}, nil
}

// Get returns the region for id.
func (c *Catalog) Get(id string) (models.Region, bool) {
	r, ok := c.byID[id]
	return r, ok
}

// IDs returns the sorted region identifiers. The returned slice is a copy.
func (c *Catalog) IDs() []string {
	out := make([]string, len(c.ids))
	copy(out, c.ids)
	return out
}

// Len returns the number of regions.
func (c *Catalog) Len() int {
	return len(c.ids)
}
