// Package notifications pushes cycle and recorder events to an ntfy topic.
//
// Completed cycles are announced when they ingested or failed something;
// clean cycles only when notify_on_success is set. Without a topic every
// call is a no-op.
package notifications
