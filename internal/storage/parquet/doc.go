// Package parquet implements Parquet file reading and writing for the archive.
//
// The package provides:
//   - SnapshotWriter/SnapshotReader for raw snapshots
//   - BucketWriter/BucketReader for rolled-up bucket summaries
//   - Support for multiple compression algorithms (snappy, zstd, lz4, gzip)
//   - Conversion between storage types and Parquet rows
//
// Writers stage into a temporary file and rename on Close, so a reader
// globbing the archive directory never sees a partial file.
package parquet
