// Package bunstore implements store.Backend using the Bun ORM with
// PostgreSQL dialect. The recommended backend for clustered
// deployments: claims use FOR UPDATE SKIP LOCKED and leadership is a
// single-row lease.
//
// The caller owns the *bun.DB lifecycle — bunstore never closes it.
// Pass the db handle through the constructor:
//
//	import (
//	    "github.com/uptrace/bun"
//	    "github.com/uptrace/bun/dialect/pgdialect"
//	    "github.com/uptrace/bun/driver/pgdriver"
//	    bunstore "github.com/hoistq/hoist/store/bun"
//	)
//
//	sqldb := sql.OpenDB(pgdriver.NewConnector(...))
//	db := bun.NewDB(sqldb, pgdialect.New())
//	store := bunstore.New(db)
//	store.Migrate(ctx)
package bunstore
