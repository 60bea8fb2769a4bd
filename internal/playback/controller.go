package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/CHris23132/voice-consult-service/internal/synthesis"
)

// Outcome describes how a playback ended.
type Outcome string

const (
	// OutcomeCompleted means the utterance played to its natural end.
	OutcomeCompleted Outcome = "completed"

	// OutcomeInterrupted means the playback was cut off by Stop, a newer
	// utterance, or cancellation. Not an error.
	OutcomeInterrupted Outcome = "interrupted"
)

// Synthesizer converts text into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*synthesis.Speech, error)
}

// Output plays audio bytes. Play blocks until the audio finishes or the
// context is cancelled.
type Output interface {
	Play(ctx context.Context, audio []byte, mimeType string) error
}

// Controller speaks one utterance at a time. Starting a new utterance
// silences the current one first, so at most one playback is ever audible.
type Controller struct {
	synthesizer Synthesizer
	output      Output
	logger      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	gen    uint64
}

// NewController creates a playback controller.
func NewController(synthesizer Synthesizer, output Output, logger *slog.Logger) *Controller {
	return &Controller{
		synthesizer: synthesizer,
		output:      output,
		logger:      logger,
	}
}

// Speak synthesizes text and plays it to completion. It returns
// OutcomeInterrupted without error when the playback was silenced by Stop,
// a newer Speak, or context cancellation. Synthesis or output failures are
// returned as errors.
func (c *Controller) Speak(ctx context.Context, text string) (Outcome, error) {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	playCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.gen++
	myGen := c.gen
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		// Only clear the slot if a newer Speak has not replaced it.
		if c.gen == myGen {
			c.cancel = nil
		}
		c.mu.Unlock()
		cancel()
	}()

	startTime := time.Now()

	speech, err := c.synthesizer.Synthesize(playCtx, text)
	if err != nil {
		if playCtx.Err() != nil {
			return OutcomeInterrupted, nil
		}
		return "", fmt.Errorf("speech synthesis failed: %w", err)
	}

	err = c.output.Play(playCtx, speech.Audio, speech.MIMEType)
	if playCtx.Err() != nil {
		c.logger.Debug("Playback interrupted",
			slog.Int("text_length", len(text)),
			slog.Duration("elapsed", time.Since(startTime)),
		)
		return OutcomeInterrupted, nil
	}
	if err != nil {
		return "", fmt.Errorf("audio playback failed: %w", err)
	}

	c.logger.Debug("Playback completed",
		slog.Int("text_length", len(text)),
		slog.Int("audio_bytes", len(speech.Audio)),
		slog.Duration("elapsed", time.Since(startTime)),
	)

	return OutcomeCompleted, nil
}

// Stop silences any current playback. Safe to call when nothing is playing.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()
}
