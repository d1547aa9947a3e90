package main

import (
	"fmt"
	"strconv"

	"github.com/agleyzer/hlsgrab/internal/variant"
)

// selectVariant picks a variant from a master playlist. "highest" and
// "lowest" rank by bandwidth; a numeric value is an index into the
// playlist's source order.
func selectVariant(variants []variant.Variant, quality string) (variant.Variant, error) {
	if len(variants) == 0 {
		return variant.Variant{}, fmt.Errorf("master playlist has no variants")
	}

	switch quality {
	case "", "highest", "lowest":
		ranked := make([]variant.Variant, len(variants))
		copy(ranked, variants)
		variant.SortByBandwidth(ranked)
		if quality == "lowest" {
			return ranked[len(ranked)-1], nil
		}
		return ranked[0], nil
	default:
		idx, err := strconv.Atoi(quality)
		if err != nil {
			return variant.Variant{}, fmt.Errorf("invalid -quality %q: want 'highest', 'lowest', or an index", quality)
		}
		if idx < 0 || idx >= len(variants) {
			return variant.Variant{}, fmt.Errorf("-quality index %d out of range (0-%d)", idx, len(variants)-1)
		}
		return variants[idx], nil
	}
}
