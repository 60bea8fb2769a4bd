package interview

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/CHris23132/voice-consult-service/internal/audio"
	"github.com/CHris23132/voice-consult-service/internal/store"
	"github.com/CHris23132/voice-consult-service/internal/transcription"
)

// Transcriber converts a capture artifact into text.
type Transcriber interface {
	Transcribe(ctx context.Context, request *transcription.Request) (*transcription.Response, error)
}

// FieldExtractor distills a field value from a transcript.
type FieldExtractor interface {
	Extract(ctx context.Context, questionText, fieldKey, transcript string) (string, error)
}

// StageMetrics receives pipeline stage observations. Implemented by the
// metrics package; a no-op is used when nil is passed.
type StageMetrics interface {
	ObserveStageDuration(stage string, duration time.Duration)
	RecordFailure(kind string)
	RecordTurn(success bool)
}

type nopMetrics struct{}

func (nopMetrics) ObserveStageDuration(string, time.Duration) {}
func (nopMetrics) RecordFailure(string)                       {}
func (nopMetrics) RecordTurn(bool)                            {}

// TurnResult is the outcome of processing one answered question.
// PersistErr, when set, reports a persistence failure that did not block
// the turn from advancing.
type TurnResult struct {
	Answer     AnsweredQuestion
	PersistErr error
}

// AnswerPipeline runs the three sequential stages of a turn: transcription,
// extraction, persistence. The first successful turn creates the record;
// later turns append to it. Merged fields accumulate across turns.
type AnswerPipeline struct {
	transcriber Transcriber
	extractor   FieldExtractor
	records     store.RecordStore
	logger      *slog.Logger
	metrics     StageMetrics

	mu             sync.Mutex
	sessionID      string
	userID         string
	totalQuestions int
	recordID       string
	mergedFields   map[string]string
}

// NewAnswerPipeline creates a pipeline. metrics may be nil.
func NewAnswerPipeline(transcriber Transcriber, extractor FieldExtractor, records store.RecordStore, logger *slog.Logger, metrics StageMetrics) *AnswerPipeline {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &AnswerPipeline{
		transcriber:  transcriber,
		extractor:    extractor,
		records:      records,
		logger:       logger,
		metrics:      metrics,
		mergedFields: make(map[string]string),
	}
}

// Reset prepares the pipeline for a new interview run.
func (p *AnswerPipeline) Reset(sessionID, userID string, totalQuestions int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionID = sessionID
	p.userID = userID
	p.totalQuestions = totalQuestions
	p.recordID = ""
	p.mergedFields = make(map[string]string)
}

// RecordID returns the record created by the first successful turn, or ""
// if no turn has persisted yet.
func (p *AnswerPipeline) RecordID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recordID
}

// Process runs one answered question through the pipeline. A transcription
// failure abandons the turn and returns a KindTranscriptionFailed failure:
// no partial record is written and the caller retries the question. An
// extraction failure falls back to the raw transcript and the turn
// continues. A persistence failure is reported in the result but does not
// fail the turn.
func (p *AnswerPipeline) Process(ctx context.Context, question Question, artifact *audio.Artifact) (*TurnResult, error) {
	// Stage 1: transcription.
	transcribeStart := time.Now()
	response, err := p.transcriber.Transcribe(ctx, &transcription.Request{
		Audio:    artifact.Bytes,
		MIMEType: artifact.MIMEType,
		Filename: fmt.Sprintf("question_%d.wav", question.Index),
	})
	p.metrics.ObserveStageDuration("transcription", time.Since(transcribeStart))
	if err != nil {
		p.metrics.RecordFailure(string(KindTranscriptionFailed))
		p.metrics.RecordTurn(false)
		return nil, NewFailure(KindTranscriptionFailed, err)
	}

	transcript := response.Text

	// Stage 2: extraction, with the transcript itself as the fallback
	// value when the model's output is unusable.
	extractStart := time.Now()
	value, err := p.extractor.Extract(ctx, question.Text, question.FieldKey, transcript)
	p.metrics.ObserveStageDuration("extraction", time.Since(extractStart))
	usedFallback := false
	if err != nil {
		p.metrics.RecordFailure(string(KindExtractionMalformed))
		p.logger.Warn("Extraction failed, storing raw transcript",
			slog.Int("question_index", question.Index),
			slog.String("field_key", question.FieldKey),
			slog.String("error", err.Error()),
		)
		value = transcript
		usedFallback = true
	}

	answer := AnsweredQuestion{
		Index:          question.Index,
		QuestionText:   question.Text,
		FieldKey:       question.FieldKey,
		RawTranscript:  transcript,
		ExtractedValue: value,
		UsedFallback:   usedFallback,
		CapturedAt:     time.Now(),
	}

	// Stage 3: persistence. Failure is surfaced but never blocks the
	// interview from advancing.
	persistStart := time.Now()
	persistErr := p.persist(ctx, &answer)
	p.metrics.ObserveStageDuration("persistence", time.Since(persistStart))
	if persistErr != nil {
		p.metrics.RecordFailure(string(KindPersistFailed))
		p.logger.Error("Failed to persist answer",
			slog.Int("question_index", question.Index),
			slog.String("error", persistErr.Error()),
		)
		persistErr = NewFailure(KindPersistFailed, persistErr)
	}

	p.metrics.RecordTurn(true)

	p.logger.Info("Turn processed",
		slog.Int("question_index", question.Index),
		slog.String("field_key", question.FieldKey),
		slog.Bool("used_fallback", usedFallback),
		slog.Bool("persisted", persistErr == nil),
		slog.Int("transcript_length", len(transcript)),
	)

	return &TurnResult{Answer: answer, PersistErr: persistErr}, nil
}

// persist writes the answer, creating the record on the first turn.
func (p *AnswerPipeline) persist(ctx context.Context, answer *AnsweredQuestion) error {
	p.mu.Lock()
	p.mergedFields[answer.FieldKey] = answer.ExtractedValue
	merged := make(map[string]string, len(p.mergedFields))
	for k, v := range p.mergedFields {
		merged[k] = v
	}
	recordID := p.recordID
	sessionID := p.sessionID
	userID := p.userID
	totalQuestions := p.totalQuestions
	p.mu.Unlock()

	if recordID == "" {
		id, err := p.records.CreateRecord(ctx, &store.Record{
			SessionID:      sessionID,
			UserID:         userID,
			TotalQuestions: totalQuestions,
		})
		if err != nil {
			return fmt.Errorf("failed to create record: %w", err)
		}

		p.mu.Lock()
		p.recordID = id
		p.mu.Unlock()
		recordID = id
	}

	return p.records.AppendAnswer(ctx, recordID, &store.Answer{
		QuestionIndex: answer.Index,
		QuestionText:  answer.QuestionText,
		RawTranscript: answer.RawTranscript,
		FieldKey:      answer.FieldKey,
		FieldValue:    answer.ExtractedValue,
		CapturedAt:    answer.CapturedAt,
	}, merged)
}

// Complete marks the record finished. Called once after the last turn; a
// failure is reported but the interview still completes.
func (p *AnswerPipeline) Complete(ctx context.Context) error {
	p.mu.Lock()
	recordID := p.recordID
	userID := p.userID
	totalQuestions := p.totalQuestions
	p.mu.Unlock()

	if recordID == "" {
		return NewFailure(KindPersistFailed, fmt.Errorf("no record to complete"))
	}

	err := p.records.MarkCompleted(ctx, recordID, &store.Completion{
		CompletedAt:    time.Now(),
		TotalQuestions: totalQuestions,
		UserID:         userID,
	})
	if err != nil {
		p.metrics.RecordFailure(string(KindPersistFailed))
		return NewFailure(KindPersistFailed, err)
	}

	return nil
}
