package repo

import (
	"iter"
	"slices"
)

// batchSize bounds the number of keys in one IN list.
const batchSize = 500

// keyFunc extracts a grouping key from a value. ok is false for values
// that belong to no group.
type keyFunc[K comparable, V any] func(V) (key K, ok bool)

// groupByKey groups values by key. Used for to-many relations, where many
// targets share the key of their owner.
func groupByKey[K comparable, V any](values []V, keyFn keyFunc[K, V]) map[K][]V {
	result := make(map[K][]V)
	for _, v := range values {
		if key, ok := keyFn(v); ok {
			result[key] = append(result[key], v)
		}
	}
	return result
}

// orderGroupsByKeys returns the group of each requested key, in key order.
// Keys without a group get a nil slice.
func orderGroupsByKeys[K comparable, V any](keys []K, groups map[K][]V) [][]V {
	result := make([][]V, len(keys))
	for i, key := range keys {
		result[i] = groups[key]
	}
	return result
}

// batches splits keys into IN lists of at most batchSize.
func batches[V any](keys []V) iter.Seq[[]V] {
	return slices.Chunk(keys, batchSize)
}
