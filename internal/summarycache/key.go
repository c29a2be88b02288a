// Package summarycache stores built monthly summaries under a
// content-addressed key: the file name is a pure function of the inputs that
// produced the summary, so a schema bump or a different baseline window never
// collides with older entries.
package summarycache

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// SchemaVersion is baked into every key. Bump it when the summary shape or
// aggregation semantics change; old files simply stop being addressable.
const SchemaVersion = 2

// KeyInput identifies one cached summary.
type KeyInput struct {
	Version       int    `json:"version"`
	RegionID      string `json:"regionId"`
	Month         int    `json:"month"`
	IncludeMarine bool   `json:"includeMarine"`
	BaselineYears []int  `json:"baselineYears"`
}

// NewKeyInput builds a KeyInput at the current schema version with the years
// sorted ascending.
func NewKeyInput(regionID string, month int, includeMarine bool, baselineYears []int) KeyInput {
	years := append([]int(nil), baselineYears...)
	sort.Ints(years)
	return KeyInput{
		Version:       SchemaVersion,
		RegionID:      regionID,
		Month:         month,
		IncludeMarine: includeMarine,
		BaselineYears: years,
	}
}

// Canonical returns the fixed-order serialization the hash is computed over.
// Field order and formatting must never change; they are part of the on-disk
// contract.
func (k KeyInput) Canonical() string {
	years := make([]string, len(k.BaselineYears))
	for i, y := range k.BaselineYears {
		years[i] = fmt.Sprintf("%d", y)
	}
	return fmt.Sprintf(`{"version":%d,"regionId":%q,"month":%d,"includeMarine":%t,"baselineYears":[%s]}`,
		k.Version, k.RegionID, k.Month, k.IncludeMarine, strings.Join(years, ","))
}

// Hash returns the hex SHA-1 of the canonical serialization. SHA-1 is an
// addressing scheme here, not an integrity guarantee.
func (k KeyInput) Hash() string {
	sum := sha1.Sum([]byte(k.Canonical()))
	return hex.EncodeToString(sum[:])
}

// Equal reports whether two key inputs address the same summary.
func (k KeyInput) Equal(other KeyInput) bool {
	if k.Version != other.Version || k.RegionID != other.RegionID ||
		k.Month != other.Month || k.IncludeMarine != other.IncludeMarine ||
		len(k.BaselineYears) != len(other.BaselineYears) {
		return false
	}
	for i := range k.BaselineYears {
		if k.BaselineYears[i] != other.BaselineYears[i] {
			return false
		}
	}
	return true
}
