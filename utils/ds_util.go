package utils

import (
	"github.com/emirpasic/gods/maps/treemap"
)

// GroupByString groups list by key into a treemap ordered by key. Each value is a []T
// that keeps the input order.
func GroupByString[T any](list []T, key func(T) string) *treemap.Map {
	groups := treemap.NewWithStringComparator()
	for _, item := range list {
		k := key(item)
		var group []T
		if v, ok := groups.Get(k); ok {
			group = v.([]T)
		}
		groups.Put(k, append(group, item))
	}
	return groups
}
