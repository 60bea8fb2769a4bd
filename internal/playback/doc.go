// Package playback turns text into audible speech and plays it to
// completion. Interrupting a playback is a normal outcome, not an error:
// a new utterance or an abort silences whatever is currently playing.
package playback
