// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics, configuration control, and debug introspection layer for
// the SM transport plugin.
//
// Provides concurrent-safe state handling primitives including:
//   - Immutable snapshot config reads and atomic updates
//   - Runtime observers for hot-reload
//   - Metrics telemetry contracts
//   - State export, debug hooks, and probe registration
//
// This package is cross-platform and build-tag-partitioned as needed.
package control
