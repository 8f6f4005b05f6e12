// Package sqlite implements store.Backend on SQLite via database/sql
// and mattn/go-sqlite3. Suitable for embedded deployments, CLI tools,
// and standalone applications.
//
// Open owns the connection it creates; New wraps a caller-owned handle:
//
//	store, err := sqlite.Open("hoist.db")
//	if err != nil { ... }
//	defer store.Close()
//	store.Migrate(ctx)
package sqlite
