// Package query holds the portable query tree and its renderer.
//
// Trees are built once and rendered for any dialect:
//
//	users := query.T("users").As("u")
//	s := query.SelectFrom(users, users.C("id"), users.C("name")).
//	    Where(query.AndOf(
//	        query.EQ(users.C("active"), query.Lit(dialect.KeywordTrue)),
//	        query.OrOf(
//	            query.GT(users.C("age"), query.Arg(dialect.Integer(18))),
//	            query.Null(users.C("age")),
//	        ),
//	    )).
//	    OrderBy(query.Desc(users.C("created_at"))).
//	    Limit(10)
//
//	text, args, err := query.Render(s, dialect.MustLookup(dialect.Postgres))
//	// SELECT "u"."id", "u"."name" FROM "users" AS "u"
//	//   WHERE "u"."active" = TRUE AND ("u"."age" > $1 OR "u"."age" IS NULL)
//	//   ORDER BY "u"."created_at" DESC LIMIT $2
//
// Nodes are immutable; Select, Insert, Update and Delete builder methods
// return copies.
package query
