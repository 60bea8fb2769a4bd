// Package server provides the HTTP monitoring API: health, interview
// status, client statistics, sanitized configuration and Prometheus
// metrics.
package server
