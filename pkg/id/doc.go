// Package id generates the opaque identifiers used across tradepost: owner
// tokens that prove which acquisition holds a lock or semaphore slot, and
// task ids that act as the dedup key for queued tasks.
//
// Identifiers are random UUIDs. Nothing in the system orders by id, so no
// timestamp component is encoded; identity and unguessability are the only
// requirements.
package id
