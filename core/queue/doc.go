// Package queue implements the persistent task queue that backs long-running
// library operations: directory scans, media analysis, metadata refresh, and
// watch-history sync.
//
// A task owns an ordered list of items. Tasks are created through the Service,
// persisted via the Store interface, and drained by a single background Worker
// that processes items strictly in index order. Progress is fanned out to
// streaming clients through the EventBus, which never blocks the producer.
//
// Cancellation is cooperative: CancelTask marks the task deleted and its
// pending items canceled; the worker observes the change at item boundaries
// and the in-flight handler receives a context cancellation.
package queue
