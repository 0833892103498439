// Moderation state machine: drives one classification cycle for a post and applies the verdict.
//
// Each evaluation is a per-invocation state machine (SCHEDULED, CLASSIFYING, then one of APPLIED, SKIPPED or FAILED). The persisted truth is the post's status: verdicts are only ever applied through a conditional write which requires the post to still be ACTIVE, so duplicate or stale evaluations become no-ops instead of double redactions.
//
// Scheduler runs evaluations out-of-band from the request that triggered them, on a bounded worker pool.
package engine
