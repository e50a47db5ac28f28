// Package kit holds small helpers shared by plugins: namespaced schedules,
// per-key locking and mention parsing.
package kit
