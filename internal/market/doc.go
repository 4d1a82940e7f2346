// Package market executes item-for-funds exchanges between users.
//
// Keyspace:
//
//	tradepost:market:user:{userId}   hash  user record; "funds" field holds balance
//	tradepost:market:inv:{userId}    list  item names owned by the user
//	tradepost:market:item:{itemId}   hash  listed item; "name" and "sellerId" fields
//	tradepost:market:prices          zset  item id -> asking price (whole funds units)
//
// A listed item appears in the price index if and only if its item hash
// exists. Listing writes both in one transaction; purchase deletes both in
// one script. Purchase moves funds, inventory, and listing state in a single
// script run, so a concurrent purchase of the same item sees either the full
// listing or none of it: exactly one buyer wins, the rest observe
// ErrItemNotFound.
package market
