package playback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/CHris23132/voice-consult-service/internal/synthesis"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSynthesizer struct {
	err   error
	delay time.Duration
}

func (s *fakeSynthesizer) Synthesize(ctx context.Context, text string) (*synthesis.Speech, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return &synthesis.Speech{Audio: []byte("audio:" + text), MIMEType: "audio/mpeg"}, nil
}

// fakeOutput blocks each Play until released or cancelled.
type fakeOutput struct {
	blockFor time.Duration
	playErr  error

	mu     sync.Mutex
	plays  []string
	active int
}

func (o *fakeOutput) Play(ctx context.Context, audio []byte, mimeType string) error {
	o.mu.Lock()
	o.plays = append(o.plays, string(audio))
	o.active++
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.active--
		o.mu.Unlock()
	}()

	if o.blockFor > 0 {
		select {
		case <-time.After(o.blockFor):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return o.playErr
}

func (o *fakeOutput) playCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.plays)
}

func TestSpeakCompletes(t *testing.T) {
	output := &fakeOutput{}
	controller := NewController(&fakeSynthesizer{}, output, testLogger())

	outcome, err := controller.Speak(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Speak failed: %v", err)
	}

	if outcome != OutcomeCompleted {
		t.Errorf("expected %q, got %q", OutcomeCompleted, outcome)
	}

	if output.playCount() != 1 {
		t.Errorf("expected 1 play, got %d", output.playCount())
	}
}

func TestStopInterruptsPlayback(t *testing.T) {
	output := &fakeOutput{blockFor: 5 * time.Second}
	controller := NewController(&fakeSynthesizer{}, output, testLogger())

	results := make(chan Outcome, 1)
	go func() {
		outcome, err := controller.Speak(context.Background(), "long speech")
		if err != nil {
			t.Errorf("interrupted Speak must not error: %v", err)
		}
		results <- outcome
	}()

	// Let playback begin, then silence it.
	waitFor(t, func() bool { return output.playCount() == 1 })
	controller.Stop()

	select {
	case outcome := <-results:
		if outcome != OutcomeInterrupted {
			t.Errorf("expected %q, got %q", OutcomeInterrupted, outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Speak did not return after Stop")
	}
}

func TestNewSpeakInterruptsPrevious(t *testing.T) {
	output := &fakeOutput{blockFor: 5 * time.Second}
	controller := NewController(&fakeSynthesizer{}, output, testLogger())

	first := make(chan Outcome, 1)
	go func() {
		outcome, err := controller.Speak(context.Background(), "first")
		if err != nil {
			t.Errorf("interrupted Speak must not error: %v", err)
		}
		first <- outcome
	}()

	waitFor(t, func() bool { return output.playCount() == 1 })

	second := make(chan Outcome, 1)
	go func() {
		outcome, err := controller.Speak(context.Background(), "second")
		if err != nil {
			t.Errorf("second Speak failed: %v", err)
		}
		second <- outcome
	}()

	select {
	case outcome := <-first:
		if outcome != OutcomeInterrupted {
			t.Errorf("expected first playback interrupted, got %q", outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first Speak did not return after being superseded")
	}

	// Release the second playback.
	controller.Stop()
	select {
	case <-second:
	case <-time.After(2 * time.Second):
		t.Fatal("second Speak did not return")
	}
}

func TestSpeakSynthesisFailure(t *testing.T) {
	controller := NewController(
		&fakeSynthesizer{err: errors.New("tts down")},
		&fakeOutput{},
		testLogger(),
	)

	_, err := controller.Speak(context.Background(), "hello")
	if err == nil {
		t.Error("expected error for synthesis failure")
	}
}

func TestSpeakOutputFailure(t *testing.T) {
	controller := NewController(
		&fakeSynthesizer{},
		&fakeOutput{playErr: errors.New("no audio device")},
		testLogger(),
	)

	_, err := controller.Speak(context.Background(), "hello")
	if err == nil {
		t.Error("expected error for playback failure")
	}
}

func TestSpeakContextCancellation(t *testing.T) {
	output := &fakeOutput{blockFor: 5 * time.Second}
	controller := NewController(&fakeSynthesizer{}, output, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	results := make(chan Outcome, 1)
	go func() {
		outcome, err := controller.Speak(ctx, "hello")
		if err != nil {
			t.Errorf("cancelled Speak must not error: %v", err)
		}
		results <- outcome
	}()

	waitFor(t, func() bool { return output.playCount() == 1 })
	cancel()

	select {
	case outcome := <-results:
		if outcome != OutcomeInterrupted {
			t.Errorf("expected %q, got %q", OutcomeInterrupted, outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Speak did not return after context cancellation")
	}
}

func TestStopWithNothingPlaying(t *testing.T) {
	controller := NewController(&fakeSynthesizer{}, &fakeOutput{}, testLogger())
	controller.Stop()
	controller.Stop()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
