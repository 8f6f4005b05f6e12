// Package redis implements store.Backend on Redis for high-throughput
// deployments. Each queue holds one List per priority tier (FIFO, with
// a Lua claim script popping the tail and starting the job in one atomic
// step) and one Sorted Set of deferred jobs scored by due time. Job
// records are Hashes written field-wise; cron and worker records are
// msgpack-encoded values; locks and leadership are SET NX keys with
// TTLs.
//
// The caller owns the client lifecycle -- the store never closes it.
// Pass any redis.Cmdable through the constructor:
//
//	import (
//	    goredis "github.com/redis/go-redis/v9"
//	    "github.com/hoistq/hoist/store/redis"
//	)
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	store := redis.New(client)
//	if err := store.Ping(ctx); err != nil { ... }
package redis
