package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrDeviceUnavailable indicates the capture device could not be opened.
// Callers decide whether to re-prompt or abandon; there is no automatic retry.
var ErrDeviceUnavailable = errors.New("audio device unavailable")

// InputStream is an open audio input delivering raw PCM-16 mono chunks.
type InputStream interface {
	// ReadChunk fills buf with captured audio and returns the number of
	// bytes written. It blocks until data is available or the stream is
	// closed.
	ReadChunk(buf []byte) (int, error)

	// Close releases the underlying input. Safe to call more than once.
	Close() error
}

// Device is an audio input source that can be opened for capture.
type Device interface {
	Open(ctx context.Context) (InputStream, error)
}

// ToneDevice is a synthetic capture device producing a continuous sine tone.
// It paces reads in real time so capture sessions behave as they would
// against a live microphone. Used for local runs and tests.
type ToneDevice struct {
	SampleRate int
	Frequency  float64
	Amplitude  float64
}

// NewToneDevice creates a tone device with the given sample rate and pitch.
func NewToneDevice(sampleRate int, frequency float64) *ToneDevice {
	return &ToneDevice{
		SampleRate: sampleRate,
		Frequency:  frequency,
		Amplitude:  0.3,
	}
}

// Open starts a new tone stream.
func (d *ToneDevice) Open(ctx context.Context) (InputStream, error) {
	if d.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: invalid sample rate %d", ErrDeviceUnavailable, d.SampleRate)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	return &toneStream{
		device: d,
		ctx:    streamCtx,
		cancel: cancel,
	}, nil
}

type toneStream struct {
	device *ToneDevice
	ctx    context.Context
	cancel context.CancelFunc
	phase  float64
}

func (s *toneStream) ReadChunk(buf []byte) (int, error) {
	numSamples := len(buf) / 2
	if numSamples == 0 {
		return 0, fmt.Errorf("chunk buffer too small: %d bytes", len(buf))
	}

	// Pace the read to match real-time capture of this many samples.
	chunkDuration := time.Duration(numSamples) * time.Second / time.Duration(s.device.SampleRate)
	select {
	case <-s.ctx.Done():
		return 0, s.ctx.Err()
	case <-time.After(chunkDuration):
	}

	step := 2 * math.Pi * s.device.Frequency / float64(s.device.SampleRate)
	for i := 0; i < numSamples; i++ {
		sample := int16(s.device.Amplitude * math.MaxInt16 * math.Sin(s.phase))
		buf[2*i] = byte(sample)
		buf[2*i+1] = byte(sample >> 8)
		s.phase += step
	}

	return numSamples * 2, nil
}

func (s *toneStream) Close() error {
	s.cancel()
	return nil
}
