package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements RecordStore on an embedded SQLite database.
// The configured collection name becomes the table prefix, mirroring a
// document-store collection.
type SQLiteStore struct {
	db         *sql.DB
	collection string
	logger     *slog.Logger
}

var _ RecordStore = (*SQLiteStore)(nil)

// collectionPattern guards the collection name before it is spliced into
// table names.
var collectionPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// OpenSQLite opens (creating if needed) the record database at path.
func OpenSQLite(path, collection string, logger *slog.Logger) (*SQLiteStore, error) {
	if !collectionPattern.MatchString(collection) {
		return nil, fmt.Errorf("invalid collection name %q", collection)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	// Single writer; WAL keeps reads cheap during appends.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{
		db:         db,
		collection: collection,
		logger:     logger,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("Record store opened",
		slog.String("path", path),
		slog.String("collection", collection),
	)

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT 'anonymous',
			status TEXT NOT NULL DEFAULT 'in_progress',
			current_question INTEGER NOT NULL DEFAULT 0,
			total_questions INTEGER NOT NULL DEFAULT 0,
			fields_json TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP
		)`, s.collection),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_answers (
			record_id TEXT NOT NULL,
			question_index INTEGER NOT NULL,
			question_text TEXT NOT NULL,
			raw_transcript TEXT NOT NULL,
			field_key TEXT NOT NULL,
			field_value TEXT NOT NULL,
			captured_at TIMESTAMP NOT NULL,
			PRIMARY KEY (record_id, question_index),
			FOREIGN KEY (record_id) REFERENCES %s(id)
		)`, s.collection, s.collection),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_session
			ON %s(session_id)`, s.collection, s.collection),
	}

	for _, statement := range statements {
		if _, err := s.db.Exec(statement); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}

	return nil
}

// CreateRecord inserts a new record and returns its ID. If the record
// carries an ID that already exists the call is a no-op, so a retried
// create never duplicates.
func (s *SQLiteStore) CreateRecord(ctx context.Context, record *Record) (string, error) {
	id := record.ID
	if id == "" {
		id = uuid.New().String()
	}

	userID := record.UserID
	if userID == "" {
		userID = "anonymous"
	}

	status := record.Status
	if status == "" {
		status = StatusInProgress
	}

	fieldsJSON, err := marshalFields(record.Fields)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	query := fmt.Sprintf(`INSERT INTO %s
		(id, session_id, user_id, status, current_question, total_questions, fields_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`, s.collection)

	if _, err := s.db.ExecContext(ctx, query,
		id, record.SessionID, userID, status,
		record.CurrentQuestion, record.TotalQuestions, fieldsJSON, now, now,
	); err != nil {
		return "", fmt.Errorf("failed to create record: %w", err)
	}

	s.logger.Debug("Record created",
		slog.String("record_id", id),
		slog.String("session_id", record.SessionID),
	)

	return id, nil
}

// AppendAnswer upserts one answer and refreshes the record's merged fields
// and question cursor. Replaying the same question index overwrites the
// previous row.
func (s *SQLiteStore) AppendAnswer(ctx context.Context, recordID string, answer *Answer, mergedFields map[string]string) error {
	fieldsJSON, err := marshalFields(mergedFields)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	answerQuery := fmt.Sprintf(`INSERT INTO %s_answers
		(record_id, question_index, question_text, raw_transcript, field_key, field_value, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(record_id, question_index) DO UPDATE SET
			question_text = excluded.question_text,
			raw_transcript = excluded.raw_transcript,
			field_key = excluded.field_key,
			field_value = excluded.field_value,
			captured_at = excluded.captured_at`, s.collection)

	if _, err := tx.ExecContext(ctx, answerQuery,
		recordID, answer.QuestionIndex, answer.QuestionText,
		answer.RawTranscript, answer.FieldKey, answer.FieldValue, answer.CapturedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to upsert answer: %w", err)
	}

	recordQuery := fmt.Sprintf(`UPDATE %s SET
		fields_json = ?,
		current_question = ?,
		updated_at = ?
		WHERE id = ?`, s.collection)

	result, err := tx.ExecContext(ctx, recordQuery,
		fieldsJSON, answer.QuestionIndex+1, time.Now().UTC(), recordID,
	)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		return fmt.Errorf("record %s not found", recordID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit answer: %w", err)
	}

	s.logger.Debug("Answer stored",
		slog.String("record_id", recordID),
		slog.Int("question_index", answer.QuestionIndex),
		slog.String("field_key", answer.FieldKey),
	)

	return nil
}

// MarkCompleted finalizes a record. Safe to retry.
func (s *SQLiteStore) MarkCompleted(ctx context.Context, recordID string, completion *Completion) error {
	userID := completion.UserID
	if userID == "" {
		userID = "anonymous"
	}

	completedAt := completion.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now()
	}

	query := fmt.Sprintf(`UPDATE %s SET
		status = ?,
		completed_at = ?,
		total_questions = ?,
		user_id = ?,
		updated_at = ?
		WHERE id = ?`, s.collection)

	result, err := s.db.ExecContext(ctx, query,
		StatusCompleted, completedAt.UTC(), completion.TotalQuestions, userID,
		time.Now().UTC(), recordID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark record completed: %w", err)
	}

	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		return fmt.Errorf("record %s not found", recordID)
	}

	s.logger.Info("Record completed",
		slog.String("record_id", recordID),
		slog.Int("total_questions", completion.TotalQuestions),
	)

	return nil
}

// GetRecord loads a record and its answers ordered by question index.
func (s *SQLiteStore) GetRecord(ctx context.Context, recordID string) (*Record, []Answer, error) {
	recordQuery := fmt.Sprintf(`SELECT id, session_id, user_id, status,
		current_question, total_questions, fields_json, created_at, updated_at, completed_at
		FROM %s WHERE id = ?`, s.collection)

	var record Record
	var fieldsJSON string
	var completedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, recordQuery, recordID).Scan(
		&record.ID, &record.SessionID, &record.UserID, &record.Status,
		&record.CurrentQuestion, &record.TotalQuestions, &fieldsJSON,
		&record.CreatedAt, &record.UpdatedAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("record %s not found", recordID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load record: %w", err)
	}

	if err := json.Unmarshal([]byte(fieldsJSON), &record.Fields); err != nil {
		return nil, nil, fmt.Errorf("failed to parse stored fields: %w", err)
	}

	if completedAt.Valid {
		t := completedAt.Time
		record.CompletedAt = &t
	}

	answersQuery := fmt.Sprintf(`SELECT question_index, question_text,
		raw_transcript, field_key, field_value, captured_at
		FROM %s_answers WHERE record_id = ? ORDER BY question_index`, s.collection)

	rows, err := s.db.QueryContext(ctx, answersQuery, recordID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load answers: %w", err)
	}
	defer rows.Close()

	var answers []Answer
	for rows.Next() {
		var answer Answer
		if err := rows.Scan(
			&answer.QuestionIndex, &answer.QuestionText,
			&answer.RawTranscript, &answer.FieldKey, &answer.FieldValue, &answer.CapturedAt,
		); err != nil {
			return nil, nil, fmt.Errorf("failed to scan answer: %w", err)
		}
		answers = append(answers, answer)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate answers: %w", err)
	}

	return &record, answers, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func marshalFields(fields map[string]string) (string, error) {
	if fields == nil {
		return "{}", nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to marshal fields: %w", err)
	}
	return string(data), nil
}
