// Cache of classifier verdicts for identical content.
//
// Entries are keyed by a digest of the payload kind, verdict schema and content, so a change of schema never serves a verdict parsed under another one. Only successful verdicts are stored; classifier failures always reach the next caller.
//
// Includes a VerdictStore interface with redis and in-process implementations, and CachedClassifier, which puts a store in front of any classifier.Classifier.
package cachestore
