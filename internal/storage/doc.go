// Package storage persists per-guild bot state.
//
// Drivers:
//   - "sqlite": modernc.org/sqlite with versioned migrations
//   - "file":   a JSON state snapshot plus append-only audit and dedup journals
//   - "memory" (or empty): in-memory only, lost on restart
package storage
