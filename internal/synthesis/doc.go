// Package synthesis provides an HTTP client for the text-to-speech backend,
// turning question text into playable audio bytes.
package synthesis
