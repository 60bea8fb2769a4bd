// Package transcription provides an HTTP client for the speech-to-text
// backend: multipart audio upload with retries, a payload size ceiling,
// bounded concurrency and request statistics.
package transcription
