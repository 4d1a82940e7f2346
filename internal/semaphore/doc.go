// Package semaphore implements a fair, bounded-concurrency permit pool
// shared by all tradepost instances.
//
// Each named semaphore is three store structures: an owner zset mapping every
// holder's token to its absolute expiry, a sequence zset mapping tokens to a
// monotonically increasing admission counter, and the counter itself. The
// acquire script purges expired owners, assigns the caller the next counter
// value, and admits it iff its rank among contenders is below the limit.
// Contenders are therefore admitted in the order their acquire attempts
// reach the store, and a freed slot goes to the earliest outstanding bid.
//
// # Keyspace
//
//	tradepost:sem:{name}:owners   - owner zset (token -> expiry seconds)
//	tradepost:sem:{name}:seq      - sequence zset (token -> counter)
//	tradepost:sem:{name}:counter  - admission counter
//
// Slots self-expire after their lease; release is idempotent.
package semaphore
