// Package redisstore wraps the shared Redis instance that holds all of
// tradepost's coordination state. Every mutation of shared state goes through
// an atomic Lua script (see internal/scripts); this package only provides the
// client handle, connection lifecycle, the server-clock read used for delay
// scoring and expiry, and error classification helpers.
package redisstore
