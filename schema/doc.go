// Package schema holds the metadata registry of persist.
//
// An entity is a Go struct described by an EntityDescriptor: its table, its
// ordered columns, its primary key and its relations. Descriptors come from
// struct tags (Describe) or from a YAML manifest (ParseManifest).
//
// # Quick Start
//
//	type User struct {
//	    ID    int64  `persist:"id,pk,generated"`
//	    Email string `persist:",unique"`
//	    Posts []*Post `rel:"one-to-many" cascade:"insert,remove"`
//	}
//
//	type Post struct {
//	    ID       int64
//	    Title    string
//	    AuthorID int64
//	    Author   *User `rel:"many-to-one" join:"author_id" fetch:"eager"`
//	}
//
//	reg := schema.NewRegistry()
//	err := schema.Initialize(reg,
//	    schema.Entity[User](),
//	    schema.Entity[Post](),
//	)
//
// # Lifecycle
//
// A registry starts in the registration phase. Register (or a Producer
// through Initialize) adds descriptors and assigns each a TypeTag. Seal
// resolves relation targets and join columns, after which the registry is
// read-only. Lookups before Seal fail with persist.ErrRegistryNotSealed;
// registrations after it fail with persist.ErrRegistrySealed.
//
// # Naming
//
// Column names default to SnakeCase of the field name and table names to the
// pluralized snake case of the type name. Both are computed once, when the
// descriptor is built.
package schema
