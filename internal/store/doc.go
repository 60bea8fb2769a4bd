// Package store persists consultation records. Appending an answer is
// idempotent per (record ID, question index): replaying a turn overwrites
// the stored answer instead of duplicating it.
package store
