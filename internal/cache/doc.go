// Package cache provides the Redis-backed cache used for oracle response
// caching: string and JSON operations with TTLs, a background health check
// and pool statistics for the health endpoint.
package cache
