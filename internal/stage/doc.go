// Package stage defines the contract between the pipeline runner and the
// individual processing stages, plus the naming rules stages share for their
// artifacts.
package stage
