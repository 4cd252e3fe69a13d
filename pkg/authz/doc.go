// Package authz answers "does external identity X currently hold role R"
// from a time-bounded cache over the account store.
//
// The cache is a sliding-window / explicit-invalidation hybrid: an entry is
// fresh for a window (default 5 minutes) since its last read, and the two
// known mutation points (account linking and role assignment) evict the
// affected key immediately. The window bounds worst-case staleness when an
// invalidation is missed; the explicit eviction makes the common "role just
// changed" case instantly consistent.
//
// Two backends are provided: a Redis cache for multi-node deployments and an
// in-process expirable LRU for single-node ones. Both collapse concurrent
// misses for the same key into a single source-of-truth resolution.
//
// An identity with no linked account resolves to an empty role set, which the
// Guard treats as "not authorized", never as an error.
package authz
