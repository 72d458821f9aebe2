// Package reconciler implements the periodic sweep that drains a fallback
// ledger: expired entries are dropped, live entries are replayed and
// removed once the replay lands.
package reconciler
