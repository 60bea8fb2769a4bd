package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := OpenSQLite(path, "ai_consultations", logger)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s
}

func TestOpenSQLiteRejectsUnsafeCollection(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []string{"bad;drop", "1table", "", "a b", "x-y"}
	for _, collection := range tests {
		if _, err := OpenSQLite(":memory:", collection, logger); err == nil {
			t.Errorf("expected error for collection %q", collection)
		}
	}
}

func TestCreateAndGetRecord(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, err := s.CreateRecord(ctx, &Record{
		SessionID:      "session-1",
		TotalQuestions: 5,
	})
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}

	if id == "" {
		t.Fatal("expected generated record ID")
	}

	record, answers, err := s.GetRecord(ctx, id)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}

	if record.SessionID != "session-1" {
		t.Errorf("unexpected session ID: %s", record.SessionID)
	}

	if record.UserID != "anonymous" {
		t.Errorf("expected anonymous user, got %s", record.UserID)
	}

	if record.Status != StatusInProgress {
		t.Errorf("expected status %s, got %s", StatusInProgress, record.Status)
	}

	if len(answers) != 0 {
		t.Errorf("expected no answers yet, got %d", len(answers))
	}
}

func TestCreateRecordIsRetrySafe(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	record := &Record{ID: "fixed-id", SessionID: "session-1"}

	for i := 0; i < 3; i++ {
		id, err := s.CreateRecord(ctx, record)
		if err != nil {
			t.Fatalf("CreateRecord attempt %d failed: %v", i, err)
		}
		if id != "fixed-id" {
			t.Errorf("expected fixed-id, got %s", id)
		}
	}
}

func TestAppendAnswerUpserts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, err := s.CreateRecord(ctx, &Record{SessionID: "session-1"})
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}

	answer := &Answer{
		QuestionIndex: 0,
		QuestionText:  "What industry are you in?",
		RawTranscript: "we build software for hospitals",
		FieldKey:      "industry",
		FieldValue:    "healthcare software",
		CapturedAt:    time.Now(),
	}

	fields := map[string]string{"industry": "healthcare software"}
	if err := s.AppendAnswer(ctx, id, answer, fields); err != nil {
		t.Fatalf("AppendAnswer failed: %v", err)
	}

	// Replay the same turn with a revised value; must overwrite, not duplicate.
	answer.FieldValue = "healthcare"
	fields["industry"] = "healthcare"
	if err := s.AppendAnswer(ctx, id, answer, fields); err != nil {
		t.Fatalf("AppendAnswer replay failed: %v", err)
	}

	record, answers, err := s.GetRecord(ctx, id)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}

	if len(answers) != 1 {
		t.Fatalf("expected 1 answer after replay, got %d", len(answers))
	}

	if answers[0].FieldValue != "healthcare" {
		t.Errorf("expected overwritten value, got %q", answers[0].FieldValue)
	}

	if record.Fields["industry"] != "healthcare" {
		t.Errorf("expected merged field updated, got %q", record.Fields["industry"])
	}

	if record.CurrentQuestion != 1 {
		t.Errorf("expected question cursor 1, got %d", record.CurrentQuestion)
	}
}

func TestAppendAnswerOrdering(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, err := s.CreateRecord(ctx, &Record{SessionID: "session-1"})
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}

	fields := map[string]string{}
	for i := 0; i < 5; i++ {
		fields["key"+string(rune('a'+i))] = "value"
		answer := &Answer{
			QuestionIndex: i,
			QuestionText:  "question",
			RawTranscript: "transcript",
			FieldKey:      "key" + string(rune('a'+i)),
			FieldValue:    "value",
			CapturedAt:    time.Now(),
		}
		if err := s.AppendAnswer(ctx, id, answer, fields); err != nil {
			t.Fatalf("AppendAnswer %d failed: %v", i, err)
		}
	}

	record, answers, err := s.GetRecord(ctx, id)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}

	if len(answers) != 5 {
		t.Fatalf("expected 5 answers, got %d", len(answers))
	}

	for i, answer := range answers {
		if answer.QuestionIndex != i {
			t.Errorf("answer %d has index %d", i, answer.QuestionIndex)
		}
	}

	if len(record.Fields) != 5 {
		t.Errorf("expected 5 merged fields, got %d", len(record.Fields))
	}
}

func TestAppendAnswerUnknownRecord(t *testing.T) {
	s := testStore(t)

	err := s.AppendAnswer(context.Background(), "no-such-record", &Answer{
		QuestionIndex: 0,
		QuestionText:  "q",
		RawTranscript: "t",
		FieldKey:      "k",
		FieldValue:    "v",
		CapturedAt:    time.Now(),
	}, nil)
	if err == nil {
		t.Error("expected error for unknown record")
	}
}

func TestMarkCompleted(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, err := s.CreateRecord(ctx, &Record{SessionID: "session-1"})
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}

	completion := &Completion{
		CompletedAt:    time.Now(),
		TotalQuestions: 5,
		UserID:         "user-7",
	}

	if err := s.MarkCompleted(ctx, id, completion); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	// Retry must succeed with the same outcome.
	if err := s.MarkCompleted(ctx, id, completion); err != nil {
		t.Fatalf("MarkCompleted retry failed: %v", err)
	}

	record, _, err := s.GetRecord(ctx, id)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}

	if record.Status != StatusCompleted {
		t.Errorf("expected status %s, got %s", StatusCompleted, record.Status)
	}

	if record.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}

	if record.TotalQuestions != 5 {
		t.Errorf("expected total questions 5, got %d", record.TotalQuestions)
	}

	if record.UserID != "user-7" {
		t.Errorf("expected user-7, got %s", record.UserID)
	}
}

func TestGetRecordNotFound(t *testing.T) {
	s := testStore(t)

	if _, _, err := s.GetRecord(context.Background(), "missing"); err == nil {
		t.Error("expected error for missing record")
	}
}
