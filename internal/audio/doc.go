// Package audio provides microphone capture primitives for the consultation
// service: a Device abstraction over audio input sources, a capture Session
// that buffers incoming chunks and finalizes on silence or an explicit stop,
// and WAV container helpers for handing captures to the transcriber.
package audio
