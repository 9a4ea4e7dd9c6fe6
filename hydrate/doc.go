// Package hydrate converts between adapter rows and entity instances.
//
// Hydrate builds a new entity from a dialect.Row, coercing every column to
// the kind its descriptor declares. Dehydrate performs the inverse mapping
// and returns one dialect.Value per column, in column order; the unit of
// work keeps that slice as the entity's snapshot.
//
// Eager to-one relations are read from the same row. The joined columns of
// a relation are aliased with the relation name as prefix:
//
//	SELECT "posts"."id", "posts"."title", "Author"."id" AS "Author__id", ...
//
// A segment whose columns are all NULL (an outer join miss) leaves the
// relation nil.
//
// Lazy relations are declared with Lazy[T]:
//
//	type Post struct {
//	    ID     int64
//	    Author hydrate.Lazy[*User] `rel:"many-to-one" join:"author_id"`
//	}
//
//	author, err := post.Author.Load(ctx)
//
// Load runs through the Loader given to the Hydrator and fails with
// persist.DetachedEntityError when ctx is not bound to the unit of work that
// hydrated the owner, or when that unit of work has ended.
package hydrate
