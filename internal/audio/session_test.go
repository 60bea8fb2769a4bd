package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() CaptureConfig {
	return CaptureConfig{
		SampleRate:         16000,
		ChunkSize:          4096,
		SilenceTimeout:     100 * time.Millisecond,
		MaxCaptureDuration: 2 * time.Second,
	}
}

// fakeStream delivers scripted chunks pushed via push() and fails reads
// once closed.
type fakeStream struct {
	chunks    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		chunks: make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (s *fakeStream) push(chunk []byte) {
	select {
	case s.chunks <- chunk:
	case <-s.closed:
	}
}

func (s *fakeStream) ReadChunk(buf []byte) (int, error) {
	select {
	case chunk := <-s.chunks:
		return copy(buf, chunk), nil
	case <-s.closed:
		return 0, errors.New("stream closed")
	}
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type fakeDevice struct {
	stream  *fakeStream
	openErr error

	mu    sync.Mutex
	opens int
}

func (d *fakeDevice) Open(ctx context.Context) (InputStream, error) {
	d.mu.Lock()
	d.opens++
	d.mu.Unlock()

	if d.openErr != nil {
		return nil, d.openErr
	}
	return d.stream, nil
}

// voicedChunk returns PCM-16 samples loud enough to count as voice activity.
func voicedChunk(numSamples int) []byte {
	chunk := make([]byte, numSamples*2)
	for i := 0; i < numSamples; i++ {
		binary.LittleEndian.PutUint16(chunk[2*i:], uint16(int16(4000)))
	}
	return chunk
}

func silentChunk(numSamples int) []byte {
	return make([]byte, numSamples*2)
}

func awaitResult(t *testing.T, s *Session) Result {
	t.Helper()
	select {
	case result := <-s.Done():
		return result
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session result")
		return Result{}
	}
}

func TestSessionSilenceTimeoutFinalizes(t *testing.T) {
	stream := newFakeStream()
	device := &fakeDevice{stream: stream}
	recorder := NewRecorder(device, testConfig(), testLogger())

	session, err := recorder.Begin()
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	stream.push(voicedChunk(160))
	stream.push(voicedChunk(160))

	result := awaitResult(t, session)

	if result.Cancelled {
		t.Error("expected artifact, got cancelled result")
	}

	if result.Reason != ReasonSilence {
		t.Errorf("expected reason %q, got %q", ReasonSilence, result.Reason)
	}

	if result.Artifact == nil {
		t.Fatal("expected artifact")
	}

	if result.Artifact.MIMEType != "audio/wav" {
		t.Errorf("expected audio/wav artifact, got %s", result.Artifact.MIMEType)
	}

	pcm, _, err := DecodeWAV(result.Artifact.Bytes)
	if err != nil {
		t.Fatalf("artifact is not valid WAV: %v", err)
	}

	if len(pcm) != 2*160*2 {
		t.Errorf("expected %d PCM bytes, got %d", 2*160*2, len(pcm))
	}

	if !stream.isClosed() {
		t.Error("expected stream to be released after finalization")
	}
}

func TestSessionStopIsIdempotent(t *testing.T) {
	stream := newFakeStream()
	device := &fakeDevice{stream: stream}
	recorder := NewRecorder(device, testConfig(), testLogger())

	session, err := recorder.Begin()
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	stream.push(voicedChunk(160))
	time.Sleep(20 * time.Millisecond)

	session.Stop()
	session.Stop()
	session.Stop()

	result := awaitResult(t, session)
	if result.Reason != ReasonStopped {
		t.Errorf("expected reason %q, got %q", ReasonStopped, result.Reason)
	}

	// Exactly one result was delivered.
	select {
	case extra := <-session.Done():
		t.Errorf("unexpected second result: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSessionCancelReleasesWithoutArtifact(t *testing.T) {
	stream := newFakeStream()
	device := &fakeDevice{stream: stream}
	recorder := NewRecorder(device, testConfig(), testLogger())

	session, err := recorder.Begin()
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	stream.push(voicedChunk(160))
	session.Cancel()

	result := awaitResult(t, session)
	if !result.Cancelled {
		t.Error("expected cancelled result")
	}

	if result.Artifact != nil {
		t.Error("cancelled session must not produce an artifact")
	}

	if !stream.isClosed() {
		t.Error("expected stream to be released on cancel")
	}

	// A later Stop is a no-op.
	session.Stop()
}

func TestSessionEmptyCaptureStillFinalizes(t *testing.T) {
	stream := newFakeStream()
	device := &fakeDevice{stream: stream}
	recorder := NewRecorder(device, testConfig(), testLogger())

	session, err := recorder.Begin()
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	result := awaitResult(t, session)

	if result.Artifact == nil {
		t.Fatal("expected artifact even for an empty capture")
	}

	pcm, _, err := DecodeWAV(result.Artifact.Bytes)
	if err != nil {
		t.Fatalf("empty artifact is not valid WAV: %v", err)
	}

	if len(pcm) != 0 {
		t.Errorf("expected empty PCM payload, got %d bytes", len(pcm))
	}

	if result.Artifact.Duration != 0 {
		t.Errorf("expected zero duration, got %v", result.Artifact.Duration)
	}
}

func TestSessionMaxDurationCap(t *testing.T) {
	config := testConfig()
	config.SilenceTimeout = 100 * time.Millisecond
	config.MaxCaptureDuration = 250 * time.Millisecond

	stream := newFakeStream()
	device := &fakeDevice{stream: stream}
	recorder := NewRecorder(device, config, testLogger())

	session, err := recorder.Begin()
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	// Keep resetting the silence timer so only the cap can fire.
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(30 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				stream.push(voicedChunk(160))
			}
		}
	}()
	defer close(stop)

	result := awaitResult(t, session)
	if result.Reason != ReasonMaxDuration {
		t.Errorf("expected reason %q, got %q", ReasonMaxDuration, result.Reason)
	}

	if result.Artifact == nil {
		t.Error("expected artifact from capped capture")
	}
}

func TestSessionSilentChunksDoNotResetTimer(t *testing.T) {
	stream := newFakeStream()
	device := &fakeDevice{stream: stream}
	recorder := NewRecorder(device, testConfig(), testLogger())

	session, err := recorder.Begin()
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	// Feed only silence; the session must finalize roughly at the silence
	// timeout despite continuous input.
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				stream.push(silentChunk(160))
			}
		}
	}()
	defer close(stop)

	start := time.Now()
	result := awaitResult(t, session)
	elapsed := time.Since(start)

	if result.Reason != ReasonSilence {
		t.Errorf("expected reason %q, got %q", ReasonSilence, result.Reason)
	}

	if elapsed > time.Second {
		t.Errorf("silence finalization took too long: %v", elapsed)
	}
}

func TestRecorderEnforcesSingleActiveSession(t *testing.T) {
	stream := newFakeStream()
	device := &fakeDevice{stream: stream}
	recorder := NewRecorder(device, testConfig(), testLogger())

	first, err := recorder.Begin()
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}

	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	if _, err := recorder.Begin(); !errors.Is(err, ErrCaptureActive) {
		t.Errorf("expected ErrCaptureActive, got %v", err)
	}

	first.Stop()
	awaitResult(t, first)

	device.stream = newFakeStream()
	second, err := recorder.Begin()
	if err != nil {
		t.Errorf("expected Begin() to succeed after previous session finished, got %v", err)
	}

	if second != nil {
		second.Cancel()
	}
}

func TestSessionDeviceUnavailable(t *testing.T) {
	device := &fakeDevice{openErr: errors.New("no such device")}
	recorder := NewRecorder(device, testConfig(), testLogger())

	session, err := recorder.Begin()
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}

	err = session.Start(context.Background())
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("expected ErrDeviceUnavailable, got %v", err)
	}

	// The recorder slot must be released so a retry can begin.
	if _, err := recorder.Begin(); err != nil {
		t.Errorf("expected Begin() to succeed after open failure, got %v", err)
	}
}

func TestConcurrentStopAndTimerRace(t *testing.T) {
	for i := 0; i < 20; i++ {
		config := testConfig()
		config.SilenceTimeout = 10 * time.Millisecond

		stream := newFakeStream()
		device := &fakeDevice{stream: stream}
		recorder := NewRecorder(device, config, testLogger())

		session, err := recorder.Begin()
		if err != nil {
			t.Fatalf("Begin() failed: %v", err)
		}

		if err := session.Start(context.Background()); err != nil {
			t.Fatalf("Start() failed: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			time.Sleep(10 * time.Millisecond)
			session.Stop()
		}()
		go func() {
			defer wg.Done()
			time.Sleep(10 * time.Millisecond)
			session.Stop()
		}()
		wg.Wait()

		awaitResult(t, session)

		// No second result regardless of who won the race.
		select {
		case extra := <-session.Done():
			t.Fatalf("unexpected second result: %+v", extra)
		default:
		}
	}
}
