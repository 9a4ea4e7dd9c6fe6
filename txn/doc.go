// Package txn implements transactional scopes and their propagation.
//
// The transaction of a scope travels with its context.Context. A scope
// entered with a context that already carries a transaction decides from
// its Propagation whether to join it, suspend it, open a savepoint in it
// or refuse to run:
//
//	err := m.Do(ctx, txn.Options{}, func(ctx context.Context) error {
//		// REQUIRED: joins the outer transaction.
//		return m.Do(ctx, txn.Options{Propagation: txn.Nested}, func(ctx context.Context) error {
//			return repo.Add(ctx, post) // SAVEPOINT persist_sp_1
//		})
//	})
//
// Goroutines started inside a scope must not share its connection. Give
// them Detach(ctx); they run without a transaction or begin their own.
package txn
