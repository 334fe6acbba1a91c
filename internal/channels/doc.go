// Package channels owns the channel key cache.
//
// Ownership boundary:
// - validation of stored channel entries into usable keys
// - the ordered, atomically replaced key snapshot and its TTL
// - the Store contract the config store implements
package channels
