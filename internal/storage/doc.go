// Package storage persists the monitoring configuration and dedup
// cursors so the bot survives restarts.
//
// The in-memory registries are the source of truth at runtime; storage
// is a write-through backing layer hydrated once at boot.
package storage
