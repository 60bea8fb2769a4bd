package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CHris23132/voice-consult-service/internal/audio"
	"github.com/CHris23132/voice-consult-service/internal/playback"
)

// ErrInterviewActive indicates Start was called while a run is in progress.
var ErrInterviewActive = errors.New("interview already running")

// SpeechPlayer speaks one utterance at a time and can be silenced.
type SpeechPlayer interface {
	Speak(ctx context.Context, text string) (playback.Outcome, error)
	Stop()
}

// CaptureSession is one microphone turn.
type CaptureSession interface {
	Start(ctx context.Context) error
	Stop()
	Cancel()
	Done() <-chan audio.Result
}

// SessionFactory creates capture sessions.
type SessionFactory interface {
	Begin() (CaptureSession, error)
}

// PermissionChecker confirms microphone access before the first question.
type PermissionChecker interface {
	Confirm(ctx context.Context) error
}

// Observer receives a snapshot on every state transition and answered turn.
type Observer func(Snapshot)

// Config carries the interview script and identity.
type Config struct {
	Questions         []Question
	CompletionMessage string
	UserID            string
}

// Orchestrator drives the interview: for each question it speaks, listens
// until the capture finalizes, runs the answer pipeline, and advances.
// A transcription failure re-asks the same question; extraction and
// persistence failures never stall the run. Abort ends the run from any
// non-terminal state.
type Orchestrator struct {
	config     Config
	player     SpeechPlayer
	sessions   SessionFactory
	pipeline   *AnswerPipeline
	permission PermissionChecker
	logger     *slog.Logger
	metrics    StageMetrics

	mu            sync.Mutex
	state         State
	sessionID     string
	questionIndex int
	answers       []AnsweredQuestion
	active        bool
	aborted       bool
	current       CaptureSession
	cancel        context.CancelFunc
	startedAt     time.Time
	observers     []Observer
}

// NewOrchestrator creates an orchestrator in the Idle state. metrics may
// be nil.
func NewOrchestrator(config Config, player SpeechPlayer, sessions SessionFactory, pipeline *AnswerPipeline, permission PermissionChecker, logger *slog.Logger, metrics StageMetrics) *Orchestrator {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Orchestrator{
		config:     config,
		player:     player,
		sessions:   sessions,
		pipeline:   pipeline,
		permission: permission,
		logger:     logger,
		metrics:    metrics,
		state:      StateIdle,
	}
}

// AddObserver registers a transition observer. Must be called before Start.
func (o *Orchestrator) AddObserver(observer Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, observer)
}

// Snapshot returns the current interview state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	return Snapshot{
		State:          o.state,
		SessionID:      o.sessionID,
		RecordID:       o.pipeline.RecordID(),
		QuestionIndex:  o.questionIndex,
		TotalQuestions: len(o.config.Questions),
		Answered:       len(o.answers),
		StartedAt:      o.startedAt,
	}
}

// Answers returns the turns answered so far, in question order.
func (o *Orchestrator) Answers() []AnsweredQuestion {
	o.mu.Lock()
	defer o.mu.Unlock()
	answers := make([]AnsweredQuestion, len(o.answers))
	copy(answers, o.answers)
	return answers
}

// Start runs the interview to completion or abort. It is non-reentrant:
// a second call while a run is active fails with ErrInterviewActive.
// Microphone permission is confirmed before the first question is spoken;
// refusal leaves the orchestrator Idle.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.active {
		o.mu.Unlock()
		return ErrInterviewActive
	}
	o.active = true
	o.aborted = false
	o.state = StateIdle
	o.sessionID = uuid.New().String()
	o.questionIndex = 0
	o.answers = nil
	o.startedAt = time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.mu.Unlock()

	defer func() {
		cancel()
		o.mu.Lock()
		o.active = false
		o.cancel = nil
		o.mu.Unlock()
	}()

	if err := o.permission.Confirm(runCtx); err != nil {
		o.logger.Warn("Microphone permission refused",
			slog.String("session_id", o.sessionID),
			slog.String("error", err.Error()),
		)
		o.metrics.RecordFailure(string(KindDeviceUnavailable))
		return NewFailure(KindDeviceUnavailable, fmt.Errorf("microphone permission refused: %w", err))
	}

	o.pipeline.Reset(o.sessionID, o.config.UserID, len(o.config.Questions))

	o.logger.Info("Interview started",
		slog.String("session_id", o.sessionID),
		slog.Int("total_questions", len(o.config.Questions)),
	)

	for {
		o.mu.Lock()
		if o.aborted {
			o.mu.Unlock()
			return nil
		}
		if o.questionIndex >= len(o.config.Questions) {
			o.mu.Unlock()
			break
		}
		question := o.config.Questions[o.questionIndex]
		question.Index = o.questionIndex
		o.mu.Unlock()

		if done := o.runTurn(runCtx, question); done {
			return nil
		}
	}

	return o.finish(runCtx)
}

// runTurn executes one speak/listen/process cycle. It returns true when
// the run ended (abort or unrecoverable device failure handled inside).
func (o *Orchestrator) runTurn(ctx context.Context, question Question) bool {
	o.setState(StateSpeaking)

	speakStart := time.Now()
	_, err := o.player.Speak(ctx, question.Text)
	o.metrics.ObserveStageDuration("playback", time.Since(speakStart))
	if ctx.Err() != nil {
		o.markAborted()
		return true
	}
	if err != nil {
		// The respondent may not have heard the question, but the turn
		// still proceeds; a silent capture just re-asks later.
		o.metrics.RecordFailure(string(KindPlaybackFailed))
		o.logger.Warn("Question playback failed, listening anyway",
			slog.Int("question_index", question.Index),
			slog.String("error", err.Error()),
		)
	}

	session, err := o.sessions.Begin()
	if err == nil {
		err = session.Start(ctx)
	}
	if err != nil {
		o.metrics.RecordFailure(string(KindDeviceUnavailable))
		o.logger.Error("Capture could not start, returning to idle",
			slog.Int("question_index", question.Index),
			slog.String("error", err.Error()),
		)
		o.setState(StateIdle)
		return true
	}

	o.mu.Lock()
	o.current = session
	o.mu.Unlock()

	o.setState(StateListening)

	captureStart := time.Now()
	var result audio.Result
	select {
	case result = <-session.Done():
	case <-ctx.Done():
		session.Cancel()
		<-session.Done()
		o.clearCurrent()
		o.markAborted()
		return true
	}
	o.metrics.ObserveStageDuration("capture", time.Since(captureStart))
	o.clearCurrent()

	if result.Cancelled {
		o.markAborted()
		return true
	}

	o.setState(StateProcessing)

	turn, err := o.pipeline.Process(ctx, question, result.Artifact)
	if ctx.Err() != nil {
		o.markAborted()
		return true
	}
	if err != nil {
		// Transcription failed: nothing was stored, re-ask the same
		// question at the same index.
		o.logger.Warn("Turn abandoned, repeating question",
			slog.Int("question_index", question.Index),
			slog.String("error", err.Error()),
		)
		return false
	}

	o.mu.Lock()
	o.answers = append(o.answers, turn.Answer)
	o.questionIndex++
	snapshot := o.snapshotLocked()
	observers := o.observers
	o.mu.Unlock()

	for _, observer := range observers {
		observer(snapshot)
	}

	return false
}

// finish speaks the completion message, finalizes the record, and enters
// Completed. Neither a playback nor a persistence failure blocks
// completion.
func (o *Orchestrator) finish(ctx context.Context) error {
	o.setState(StateSpeaking)

	if _, err := o.player.Speak(ctx, o.config.CompletionMessage); err != nil && ctx.Err() == nil {
		o.metrics.RecordFailure(string(KindPlaybackFailed))
		o.logger.Warn("Completion message playback failed",
			slog.String("error", err.Error()),
		)
	}
	if ctx.Err() != nil {
		o.markAborted()
		return nil
	}

	if err := o.pipeline.Complete(ctx); err != nil {
		o.logger.Error("Failed to finalize record",
			slog.String("session_id", o.sessionID),
			slog.String("error", err.Error()),
		)
	}

	o.setState(StateCompleted)

	o.logger.Info("Interview completed",
		slog.String("session_id", o.sessionID),
		slog.String("record_id", o.pipeline.RecordID()),
		slog.Int("answered", len(o.Answers())),
		slog.Duration("duration", time.Since(o.startedAt)),
	)

	return nil
}

// Abort ends the run from any non-terminal state: it synchronously silences
// playback, cancels any in-flight capture, and transitions to Aborted.
// Safe to call when nothing is running.
func (o *Orchestrator) Abort() {
	o.mu.Lock()
	if !o.active || o.state.terminal() {
		o.mu.Unlock()
		return
	}
	o.aborted = true
	cancel := o.cancel
	current := o.current
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	o.player.Stop()
	if current != nil {
		current.Cancel()
	}

	o.setState(StateAborted)

	o.logger.Info("Interview aborted",
		slog.String("session_id", o.sessionID),
	)
}

func (o *Orchestrator) markAborted() {
	o.setState(StateAborted)
}

func (o *Orchestrator) clearCurrent() {
	o.mu.Lock()
	o.current = nil
	o.mu.Unlock()
}

// setState transitions and notifies observers. Transitions out of a
// terminal state are ignored.
func (o *Orchestrator) setState(state State) {
	o.mu.Lock()
	if o.state.terminal() || o.state == state {
		o.mu.Unlock()
		return
	}
	o.state = state
	snapshot := o.snapshotLocked()
	observers := o.observers
	o.mu.Unlock()

	o.logger.Debug("Interview state changed",
		slog.String("session_id", o.sessionID),
		slog.String("state", string(state)),
		slog.Int("question_index", snapshot.QuestionIndex),
	)

	for _, observer := range observers {
		observer(snapshot)
	}
}
