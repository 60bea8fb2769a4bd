// Package extraction turns a raw answer transcript into a structured field
// value using an LLM chat-completions backend. The model is asked for a
// strictly single-key JSON object; anything else counts as malformed and
// the caller falls back to the raw transcript.
package extraction
