// Package types defines the core data types used throughout the storage system.
//
// Key types:
//   - Snapshot: One validated CPU/memory sample, immutable after construction
//   - Series: A chronologically ordered run of snapshots
//   - Summary: Statistics for a window of snapshots
//   - Clock: Injectable time source in Unix seconds
package types
