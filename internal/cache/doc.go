// Package cache provides bounded, time-expiring in-memory caches.
//
// TTL is the generic building block: entries expire after a fixed lifetime
// and, once the capacity cap is reached, the oldest-added entry is evicted.
// Staleness up to the TTL is the accepted consistency model.
//
// Built on it:
//
//   - MessageCache: recently sent message bodies, served back to the engine
//     when a peer asks for a retry (60s, 1000 entries by default).
//   - RetryCounters: per-message retry counts owned by the engine (600s, 1000).
//   - GroupMetadataCache: group metadata keyed by group address, filled on
//     miss through a fetcher with concurrent fetches collapsed (3600s, 10000).
package cache
