package chunk

import (
	"github.com/xtxerr/plclogger/internal/catalog"
	"github.com/xtxerr/plclogger/internal/storage/types"
)

// Router maps tag names to storage families. A Router is immutable once
// built; a catalog reload builds a new one.
type Router struct {
	families map[string]types.Family
}

// NewRouter builds the routing table. An explicit override wins, otherwise
// the family follows the tag's logging policy.
func NewRouter(tags []catalog.Tag, overrides map[string]types.Family) *Router {
	r := &Router{families: make(map[string]types.Family, len(tags)+len(overrides))}

	for _, t := range tags {
		r.families[t.Name] = familyOf(t.Policy)
	}
	for name, f := range overrides {
		r.families[name] = f
	}

	return r
}

func familyOf(p catalog.Policy) types.Family {
	switch p.(type) {
	case catalog.Interval:
		return types.FamilyContinuous
	case catalog.Conditional:
		return types.FamilyConditional
	default:
		return types.FamilyOnChange
	}
}

// Family returns the family rows of tag are written to. Unknown tags land
// in the onchange family.
func (r *Router) Family(tag string) types.Family {
	if f, ok := r.families[tag]; ok {
		return f
	}
	return types.FamilyOnChange
}

// Families returns the families a read for tag has to scan: the tag's own
// family when it is known, otherwise all of them in eviction order.
func (r *Router) Families(tag string) []types.Family {
	if f, ok := r.families[tag]; ok && tag != "" {
		return []types.Family{f}
	}
	return types.AllFamilies()
}

// Split partitions rows by family, keeping their order within a family.
func (r *Router) Split(rows []types.LogRow) map[types.Family][]types.LogRow {
	out := make(map[types.Family][]types.LogRow, 3)
	for _, row := range rows {
		f := r.Family(row.Tag)
		out[f] = append(out[f], row)
	}
	return out
}
