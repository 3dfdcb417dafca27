// Package store provides persistent storage for metric points and batch
// records using SQLite.
//
// # Architecture
//
// Store is the single interface the rest of the gateway depends on. It
// covers the write path (InsertMetrics, InsertBatchRecord), the read path
// (QueryMetrics, Aggregate, MetricHistory, AgentMetrics, DashboardSummary,
// ListBatchRecords), and retention (Cleanup).
//
// SQLiteStore is the production implementation. MockStore is an in-memory
// implementation with the same query and aggregation semantics, used by
// unit tests that should not touch disk.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as RFC 3339 UTC strings so strftime-based
// aggregation buckets line up across writers.
//
// # Testing
//
// Use NewMockStore() for unit tests:
//
//	st := store.NewMockStore()
//
// Use NewSQLiteStore(":memory:") for integration tests with real SQLite.
package store
