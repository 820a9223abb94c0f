// Package stats models the per-player statistics documents written by the
// game server under <world>/stats/<uuid>.json.
package stats

import (
	"encoding/json"
	"fmt"
)

// Category names as they appear in the stats file.
const (
	CategoryCustom   = "minecraft:custom"
	CategoryMined    = "minecraft:mined"
	CategoryCrafted  = "minecraft:crafted"
	CategoryUsed     = "minecraft:used"
	CategoryBroken   = "minecraft:broken"
	CategoryPickedUp = "minecraft:picked_up"
	CategoryDropped  = "minecraft:dropped"
)

// Well-known keys of the custom category.
const (
	KeyJump     = "minecraft:jump"
	KeyDeaths   = "minecraft:deaths"
	KeyPlayTime = "minecraft:play_time"
)

// Categories lists the categories in lookup priority order. When a key is
// present in more than one category, the earliest category wins.
var Categories = []string{
	CategoryCustom,
	CategoryMined,
	CategoryCrafted,
	CategoryUsed,
	CategoryBroken,
	CategoryPickedUp,
	CategoryDropped,
}

// Document is one player's statistics: category -> statistic key -> counter.
// A Document must not be modified after it has been handed to the cache;
// refreshes replace it as a whole.
type Document struct {
	Stats       map[string]map[string]int64 `json:"stats,omitempty"`
	DataVersion int                         `json:"DataVersion,omitempty"`
}

// Empty returns a document without any categories. It encodes as {}.
func Empty() *Document {
	return &Document{}
}

// Parse decodes a stats file.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding stats document: %w", err)
	}

	return &doc, nil
}

// Statistic returns the counter for key from the first category, in
// Categories order, that contains it. Missing keys resolve to 0.
func (d *Document) Statistic(key string) int64 {
	if d == nil {
		return 0
	}

	for _, category := range Categories {
		section, ok := d.Stats[category]
		if !ok {
			continue
		}

		if v, ok := section[key]; ok {
			return v
		}
	}

	return 0
}

// Counter returns a single counter from a single category.
func (d *Document) Counter(category, key string) int64 {
	if d == nil {
		return 0
	}

	return d.Stats[category][key]
}

// CategoryTotal sums every counter in category.
func (d *Document) CategoryTotal(category string) int64 {
	if d == nil {
		return 0
	}

	var total int64
	for _, v := range d.Stats[category] {
		total += v
	}

	return total
}

// IsEmpty reports whether the document carries no counters at all.
func (d *Document) IsEmpty() bool {
	return d == nil || len(d.Stats) == 0
}
