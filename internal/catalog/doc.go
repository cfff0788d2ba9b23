// Package catalog persists characters and their enrichment records in SQLite
// and exposes the narrow operations the rest of the system is allowed to use.
//
// The Store manages database connections, schema initialization, character
// import, record lifecycle, and the optimistic revision check that guards
// concurrent saves. Enrichment records are created lazily on first use and
// carry status, attempt counters, curator protection, and the merged
// enrichment fields as a JSON column.
//
// Treat this package as the single source of truth for record semantics; when
// you add new statuses or fields, update schema.sql and bump schemaVersion.
package catalog
