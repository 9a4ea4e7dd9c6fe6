// Package uow implements the identity map and change tracker of persist.
//
// A UnitOfWork belongs to one owned transaction. It keeps at most one
// instance per (TypeTag, primary key) and a snapshot of the persisted column
// values of every managed instance, so that Flush can write only what
// changed:
//
//	u := uow.New(tx, d, reg)
//	v, err := u.GetOrRegister(ctx, key, load)
//	user := v.(*User)
//	user.Age = 2
//	err = u.Flush(ctx) // UPDATE "users" SET "age" = $1 WHERE "id" = $2
//
// Fields can also be flagged explicitly with MarkField, for instance after
// changing a value in place inside a JSON document.
package uow
