package interview

import "time"

// Question is one entry in the interview script.
type Question struct {
	Index    int    `json:"index"`
	Text     string `json:"text"`
	FieldKey string `json:"field_key"`
}

// AnsweredQuestion is a completed turn: the transcript of what the
// respondent said and the field value extracted from it.
type AnsweredQuestion struct {
	Index          int       `json:"index"`
	QuestionText   string    `json:"question_text"`
	FieldKey       string    `json:"field_key"`
	RawTranscript  string    `json:"raw_transcript"`
	ExtractedValue string    `json:"extracted_value"`
	UsedFallback   bool      `json:"used_fallback"`
	CapturedAt     time.Time `json:"captured_at"`
}

// State is the orchestrator's position in the interview lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateSpeaking   State = "speaking"
	StateListening  State = "listening"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateAborted    State = "aborted"
)

// terminal reports whether no further transitions can happen from s.
func (s State) terminal() bool {
	return s == StateCompleted || s == StateAborted
}

// Snapshot is a point-in-time view of the interview for observers and the
// monitoring API.
type Snapshot struct {
	State          State     `json:"state"`
	SessionID      string    `json:"session_id"`
	RecordID       string    `json:"record_id,omitempty"`
	QuestionIndex  int       `json:"question_index"`
	TotalQuestions int       `json:"total_questions"`
	Answered       int       `json:"answered"`
	StartedAt      time.Time `json:"started_at,omitempty"`
}
