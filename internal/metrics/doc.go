// Package metrics defines the Prometheus metrics exported by the
// consultation service.
package metrics
