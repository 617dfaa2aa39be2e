package analyzer

import (
	"path"
	"sort"

	"github.com/bnema/xpinstall/internal/addons"
)

// Deduplicate drops every item nested inside another item's root, whatever
// their kinds: a compound package installs as one unit. Items sharing a root
// keep the one whose kind has the highest priority. Siblings are all kept
func Deduplicate(items []addons.DetectedItem) []addons.DetectedItem {
	type ranked struct {
		item  addons.DetectedItem
		parts []string
		key   string
		order int
	}

	byKey := make(map[string]int)
	var list []ranked
	for i, it := range items {
		parts := it.RootComponents()
		key := path.Join(parts...)
		if j, ok := byKey[key]; ok {
			if it.Kind.Priority() > list[j].item.Kind.Priority() {
				list[j].item = it
			}
			continue
		}
		byKey[key] = len(list)
		list = append(list, ranked{item: it, parts: parts, key: key, order: i})
	}

	sort.SliceStable(list, func(i, j int) bool {
		if len(list[i].parts) != len(list[j].parts) {
			return len(list[i].parts) < len(list[j].parts)
		}
		return list[i].key < list[j].key
	})

	accepted := make(map[string]bool, len(list))
	var kept []ranked
	for _, r := range list {
		if hasAcceptedAncestor(accepted, r.parts) {
			continue
		}
		accepted[r.key] = true
		kept = append(kept, r)
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].order < kept[j].order })
	out := make([]addons.DetectedItem, len(kept))
	for i, r := range kept {
		out[i] = r.item
	}
	return out
}

// hasAcceptedAncestor tests every proper prefix of parts against the set, so
// "Foo2" never counts as inside "Foo"
func hasAcceptedAncestor(accepted map[string]bool, parts []string) bool {
	for n := len(parts) - 1; n >= 0; n-- {
		if accepted[path.Join(parts[:n]...)] {
			return true
		}
	}
	return false
}
