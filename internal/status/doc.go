// Package status publishes the orchestrator's progress for presentation
// layers. The orchestrator is the only writer; readers load an immutable
// snapshot and never wait on a running cycle.
package status
