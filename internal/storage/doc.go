// Package storage archives snapshot history beyond the retention window.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│  Retention  │────▶│   Export    │────▶│   Parquet   │
//	│    Store    │     │   (cron)    │     │   Archive   │
//	└─────────────┘     └─────────────┘     └─────────────┘
//	       │                   │                   │
//	       │                   ▼                   ▼
//	       │            ┌─────────────┐     ┌─────────────┐
//	       │            │  Aggregate  │     │   DuckDB    │
//	       │            │   Rollups   │     │    Query    │
//	       │            └─────────────┘     └─────────────┘
//	       └──────────────── hot rows ─────────────▲
//
// Subpackages:
//   - types: Snapshot, Summary and the seconds-based Clock
//   - downsample: LTTB reduction and QueryRange
//   - aggregate: DDSketch window summaries and bucket rollups
//   - parquet: archive file writers and readers
//   - query: DuckDB range, summary and SQL queries over the archive
//   - retention: expiry of archive files
//   - buffer: in-memory ring of recent snapshots
//   - config: YAML configuration of the archive side
package storage
