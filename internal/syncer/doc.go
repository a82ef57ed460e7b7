// Package syncer keeps local documents and the remote server
// eventually consistent.
//
// A Detector observes the document store and stages changed documents
// into a deduplicating Queue (at most one pending item per entity and
// operation; re-staging replaces in place and resets retries). The
// Engine drains the queue sequentially against the server, classifying
// each outcome: success advances the confirmed sync version, a version
// conflict is recorded for explicit resolution, transient failures
// retry with exponential backoff up to a cap, and transport failures
// flip the engine offline until connectivity returns.
//
// Queue contents and server mirrors persist across restarts through a
// key-value store, so pending work survives a crash and is retried on
// the next run. Delivery is at least once; server writes are keyed by
// entity id and version, so a duplicated retry is idempotent.
package syncer
