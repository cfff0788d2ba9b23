// Package batch runs enrichment over a worklist of characters with bounded
// concurrency.
//
// The Runner validates the request up front, fans the worklist out to a fixed
// pool of workers, and folds each unit's terminal disposition into shared
// progress counters. One character's failure never aborts the run; cancelling
// the context stops dequeueing and reports the remainder as not processed.
// Run blocks until the job is terminal; Start returns a Job handle that can be
// polled for progress and waited on.
//
// Jobs live in memory only. The final Summary is returned to the caller and
// optionally published through the notification service.
package batch
