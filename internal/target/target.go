package target

// #region imports
import (
	"fmt"
	"sort"
)

// #endregion

// #region target

// Target is one (location, product) pair under evaluation. Immutable.
type Target struct {
	LocationID int `json:"location_id"`
	ProductID  int `json:"product_id"`
}

func (t Target) String() string {
	return fmt.Sprintf("location=%d product=%d", t.LocationID, t.ProductID)
}

// #endregion

// #region build-list

// BuildList returns the ordered, deduplicated cross-product of the configured
// location and product sets. Order is stable across restarts: sorted by
// location first, then product.
func BuildList(locationIDs, productIDs []int) []Target {
	locs := dedupeSorted(locationIDs)
	prods := dedupeSorted(productIDs)

	targets := make([]Target, 0, len(locs)*len(prods))
	for _, loc := range locs {
		for _, prod := range prods {
			targets = append(targets, Target{LocationID: loc, ProductID: prod})
		}
	}
	return targets
}

func dedupeSorted(ids []int) []int {
	seen := make(map[int]bool, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// #endregion
