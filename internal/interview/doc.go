// Package interview contains the consultation engine: the answer pipeline
// that turns a finalized capture into a stored answer, and the orchestrator
// that drives the speak/listen/process cycle across the question sequence.
package interview
