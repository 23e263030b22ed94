// Package core provides the business logic for emissions ingestion and analytics.
//
// It has no transport dependencies: web handlers, the ghgctl CLI and tests
// all drive the same [Service].
//
// # Ingestion
//
// An [Upload] is a parsed file. [DetectAdapter] picks the format from the
// header row and [Service.Commit] runs two passes over the rows:
//
//  1. Validate every row with [Adapter.Validate]; failures become [RowError]s.
//  2. Fold candidates into buckets when the adapter is an [Aggregator], then
//     write each bucket (or each candidate) through [Adapter.Upsert].
//
// Observations are deduplicated on (facility, year, month, source). An
// existing observation is replaced only under [PolicyReplaceIfNewer] and only
// when the incoming dataset version compares greater byte-wise, so "v9" is
// considered newer than "v10".
//
// Every commit is recorded as an [ImportJob] that moves from pending to
// completed or failed exactly once.
//
// # Analytics
//
// [Service.Reconcile] compares reported and observed totals per year and
// [Service.Explain] splits one year's gap into heuristic buckets.
// [DetectAnomalies] flags points using the median and scaled MAD.
//
// # Error Handling
//
// Row problems are reported with Reason constants and never fail a commit.
// Store errors fail the commit. [MapError] turns technical errors into
// coded user messages:
//
//   - DB001-DB007: storage conflicts and connectivity
//   - VAL001-VAL005: request validation
//   - FILE001-FILE007: file size, format and encoding
//   - IMP001-IMP005: capacity, cancellation and lookups
package core
