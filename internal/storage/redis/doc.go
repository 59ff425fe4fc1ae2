// Package redis builds the shared go-redis client used by the checkpoint
// store and the Redis job queue.
package redis
