package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrCaptureActive indicates a capture session is already running.
// Starting a second one fails fast instead of queueing.
var ErrCaptureActive = errors.New("capture session already active")

// voicedThreshold is the peak PCM-16 amplitude above which a chunk counts
// as voice activity and re-arms the silence timer.
const voicedThreshold = 500

// CaptureConfig contains capture session parameters.
type CaptureConfig struct {
	SampleRate         int
	ChunkSize          int
	SilenceTimeout     time.Duration
	MaxCaptureDuration time.Duration
}

// Artifact is a finalized capture: the complete audio of one respondent turn.
type Artifact struct {
	Bytes    []byte
	MIMEType string
	Duration time.Duration
}

// Result is delivered on a session's Done channel exactly once.
// Either Artifact is set, or Cancelled is true.
type Result struct {
	Artifact  *Artifact
	Cancelled bool
	Reason    string
}

// Finalization reasons reported in Result.Reason.
const (
	ReasonStopped     = "stopped"
	ReasonSilence     = "silence_timeout"
	ReasonMaxDuration = "max_duration"
	ReasonCancelled   = "cancelled"
)

// Recorder creates capture sessions against a device, enforcing that at
// most one session is active at any time.
type Recorder struct {
	device Device
	config CaptureConfig
	logger *slog.Logger

	mu     sync.Mutex
	active *Session
}

// NewRecorder creates a recorder for the given device.
func NewRecorder(device Device, config CaptureConfig, logger *slog.Logger) *Recorder {
	return &Recorder{
		device: device,
		config: config,
		logger: logger,
	}
}

// Begin creates a new capture session. It fails with ErrCaptureActive if a
// previous session has not finished yet.
func (r *Recorder) Begin() (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil && !r.active.Finished() {
		return nil, ErrCaptureActive
	}

	session := newSession(r.device, r.config, r.logger)
	session.release = func() {
		r.mu.Lock()
		if r.active == session {
			r.active = nil
		}
		r.mu.Unlock()
	}

	r.active = session
	return session, nil
}

// Active reports whether a capture session is currently running.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil && !r.active.Finished()
}

// Session is a single microphone capture. It buffers device chunks in
// arrival order and finalizes into one Artifact when stopped, when the
// silence timer elapses, or when the maximum capture duration is reached.
// Cancel releases the device without producing an artifact.
type Session struct {
	ID     string
	config CaptureConfig
	device Device
	logger *slog.Logger

	mu        sync.Mutex
	started   bool
	finished  bool
	buf       bytes.Buffer
	stream    InputStream
	startTime time.Time

	silenceTimer *time.Timer
	maxTimer     *time.Timer

	readCancel context.CancelFunc
	done       chan Result

	// release returns the recorder slot; set by Recorder.Begin.
	release func()
}

func newSession(device Device, config CaptureConfig, logger *slog.Logger) *Session {
	return &Session{
		ID:     uuid.New().String(),
		config: config,
		device: device,
		logger: logger,
		done:   make(chan Result, 1),
	}
}

// Start opens the device and begins buffering audio. The silence timer is
// armed immediately; a turn with no voice activity at all finalizes after
// the silence timeout with whatever was buffered.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("session %s already started", s.ID)
	}
	if s.finished {
		s.mu.Unlock()
		return fmt.Errorf("session %s already finished", s.ID)
	}

	readCtx, cancel := context.WithCancel(ctx)
	stream, err := s.device.Open(readCtx)
	if err != nil {
		cancel()
		s.finished = true
		s.mu.Unlock()
		if s.release != nil {
			s.release()
		}
		if errors.Is(err, ErrDeviceUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	s.started = true
	s.stream = stream
	s.startTime = time.Now()
	s.readCancel = cancel
	s.silenceTimer = time.AfterFunc(s.config.SilenceTimeout, func() {
		s.finalize(ReasonSilence)
	})
	s.maxTimer = time.AfterFunc(s.config.MaxCaptureDuration, func() {
		s.finalize(ReasonMaxDuration)
	})
	s.mu.Unlock()

	go s.readLoop(readCtx, stream)

	s.logger.Debug("Capture session started",
		slog.String("session_id", s.ID),
		slog.Duration("silence_timeout", s.config.SilenceTimeout),
		slog.Duration("max_duration", s.config.MaxCaptureDuration),
	)

	return nil
}

// readLoop buffers chunks in arrival order until the stream closes.
func (s *Session) readLoop(ctx context.Context, stream InputStream) {
	chunk := make([]byte, s.config.ChunkSize)

	for {
		n, err := stream.ReadChunk(chunk)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Debug("Capture stream read ended",
					slog.String("session_id", s.ID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		if n == 0 {
			continue
		}

		s.mu.Lock()
		if s.finished {
			s.mu.Unlock()
			return
		}
		s.buf.Write(chunk[:n])
		voiced := isVoiced(chunk[:n])
		if voiced && s.silenceTimer != nil {
			s.silenceTimer.Reset(s.config.SilenceTimeout)
		}
		s.mu.Unlock()
	}
}

// Stop finalizes the session into an artifact. Idempotent: the second and
// later calls are no-ops.
func (s *Session) Stop() {
	s.finalize(ReasonStopped)
}

// Cancel releases the device without producing an artifact. Idempotent,
// also with respect to a prior Stop.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.stopLocked()
	s.mu.Unlock()

	if s.release != nil {
		s.release()
	}

	s.done <- Result{Cancelled: true, Reason: ReasonCancelled}

	s.logger.Debug("Capture session cancelled", slog.String("session_id", s.ID))
}

// Done delivers the session result exactly once: an artifact for a stopped
// or timed-out capture, or a cancelled marker.
func (s *Session) Done() <-chan Result {
	return s.done
}

// Finished reports whether the session has been finalized or cancelled.
func (s *Session) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// finalize stops capture and emits the artifact. Safe to call from Stop,
// the silence timer, and the max-duration timer concurrently; exactly one
// caller wins.
func (s *Session) finalize(reason string) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.stopLocked()

	pcm := make([]byte, s.buf.Len())
	copy(pcm, s.buf.Bytes())
	s.mu.Unlock()

	if s.release != nil {
		s.release()
	}

	artifact := s.buildArtifact(pcm)

	s.logger.Info("Capture session finalized",
		slog.String("session_id", s.ID),
		slog.String("reason", reason),
		slog.Int("pcm_bytes", len(pcm)),
		slog.Duration("audio_duration", artifact.Duration),
	)

	s.done <- Result{Artifact: artifact, Reason: reason}
}

// stopLocked halts timers and the read loop. Caller holds s.mu.
func (s *Session) stopLocked() {
	if s.silenceTimer != nil {
		s.silenceTimer.Stop()
	}
	if s.maxTimer != nil {
		s.maxTimer.Stop()
	}
	if s.readCancel != nil {
		s.readCancel()
	}
	if s.stream != nil {
		s.stream.Close()
	}
}

// buildArtifact wraps the buffered PCM in a WAV container. An empty buffer
// still produces a (zero-duration) artifact so the turn can complete.
func (s *Session) buildArtifact(pcm []byte) *Artifact {
	wav, err := EncodeWAV(pcm, s.config.SampleRate)
	if err != nil {
		// Encoding raw PCM only fails on a bad sample rate, which config
		// validation rules out; fall back to the bare payload.
		s.logger.Warn("Failed to encode capture as WAV",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()),
		)
		return &Artifact{Bytes: pcm, MIMEType: "application/octet-stream"}
	}

	duration := PCMDuration(len(pcm), s.config.SampleRate)
	return &Artifact{
		Bytes:    wav,
		MIMEType: "audio/wav",
		Duration: duration,
	}
}

// isVoiced reports whether a PCM-16 chunk has peak amplitude above the
// activity threshold.
func isVoiced(chunk []byte) bool {
	for i := 0; i+1 < len(chunk); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(chunk[i : i+2]))
		if sample < 0 {
			sample = -sample
		}
		if sample > voicedThreshold {
			return true
		}
	}
	return false
}
