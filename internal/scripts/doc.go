// Package scripts is the catalog of atomic Lua operations that tradepost
// runs server-side in Redis. Scripts are the only mutation path for shared
// coordination state: each one declares its full key set up front and runs
// without interleaving from other scripts touching the same keys.
//
// Sources are embedded and addressed by a two-level namespace:
//
//	lua/acquire/lock_acquire.lua     -> Load(CategoryAcquire, "lock_acquire")
//	lua/semaphore/acquire.lua        -> Load(CategorySemaphore, "acquire")
//	lua/queue/promote.lua            -> Load(CategoryQueue, "promote")
//	lua/market/purchase.lua          -> Load(CategoryMarket, "purchase")
//
// Every script returns a single string result code (possibly as the first
// element of an array reply). Callers branch on the code through a closed
// switch; a code the caller does not recognize is a programming fault
// (script/catalog version skew) and must surface as ErrUnknownReply, never
// be mapped to success.
package scripts
