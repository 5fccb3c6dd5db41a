// Package persistence provides runtime state persistence for Anchors and Tags.
//
// This package handles the JSON serialization of runtime state (the lock
// snapshot and counters of an Anchor, the last known Anchor addresses of a
// Tag) that should survive a restart. Key material is stored separately by
// the keystore package.
package persistence
