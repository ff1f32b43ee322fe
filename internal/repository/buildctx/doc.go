// Package buildctx keeps staged Build Contexts keyed by device.
//
// The MemoryRepository expires entries after a TTL and reports every removed
// context to an eviction hook, which is where staged roots are cleaned up.
package buildctx
