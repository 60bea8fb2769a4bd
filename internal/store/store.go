package store

import (
	"context"
	"time"
)

// Record is a consultation record. Fields holds the merged extracted
// values accumulated across answered questions.
type Record struct {
	ID             string            `json:"id"`
	SessionID      string            `json:"session_id"`
	UserID         string            `json:"user_id"`
	Status         string            `json:"status"`
	CurrentQuestion int              `json:"current_question"`
	TotalQuestions int               `json:"total_questions"`
	Fields         map[string]string `json:"fields"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
}

// Record statuses.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Answer is one stored answer, keyed by (record ID, question index).
type Answer struct {
	QuestionIndex int       `json:"question_index"`
	QuestionText  string    `json:"question_text"`
	RawTranscript string    `json:"raw_transcript"`
	FieldKey      string    `json:"field_key"`
	FieldValue    string    `json:"field_value"`
	CapturedAt    time.Time `json:"captured_at"`
}

// Completion carries the final record metadata written when an interview
// finishes.
type Completion struct {
	CompletedAt    time.Time
	TotalQuestions int
	UserID         string
}

// RecordStore persists consultation records. All operations are safe to
// retry: creation ignores an existing record, appends upsert by
// (record ID, question index), and completion is a plain overwrite.
type RecordStore interface {
	CreateRecord(ctx context.Context, record *Record) (string, error)
	AppendAnswer(ctx context.Context, recordID string, answer *Answer, mergedFields map[string]string) error
	MarkCompleted(ctx context.Context, recordID string, completion *Completion) error
	GetRecord(ctx context.Context, recordID string) (*Record, []Answer, error)
	Close() error
}
