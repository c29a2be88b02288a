package models

// Region is one entry of the region catalog. The catalog is read once at
// startup and immutable afterwards.
type Region struct {
	ID        string  `yaml:"id" json:"id"`
	Name      string  `yaml:"name" json:"name"`
	Latitude  float64 `yaml:"latitude" json:"latitude"`
	Longitude float64 `yaml:"longitude" json:"longitude"`
	Coastal   bool    `yaml:"coastal" json:"coastal"`
}
