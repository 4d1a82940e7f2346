// Package lock implements a distributed mutual-exclusion lock shared by all
// tradepost instances.
//
// A lock is one store key holding an opaque owner token with a TTL equal to
// the lease. At most one live token exists per lock name; an unreleased lock
// is reclaimed silently when its lease expires. Release is owner-checked in
// the store: a caller can never delete a lock it does not hold.
//
// # Keyspace
//
//	tradepost:lock:{name}  - owner token, PX-expired at lease end
//
// Acquire retries at a fixed interval until the acquire timeout elapses;
// AcquireTimeout is an expected, recoverable outcome and the caller decides
// whether to retry. Prefer WithLock, which releases on every exit path.
package lock
