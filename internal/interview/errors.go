package interview

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by which stage of the interview produced it.
// The orchestrator only ever sees these kinds; raw transport errors stay
// inside the stage that raised them.
type Kind string

const (
	KindDeviceUnavailable   Kind = "device_unavailable"
	KindPlaybackFailed      Kind = "playback_failed"
	KindTranscriptionFailed Kind = "transcription_failed"
	KindExtractionMalformed Kind = "extraction_malformed"
	KindPersistFailed       Kind = "persist_failed"
)

// Failure wraps a stage error with its classification.
type Failure struct {
	Kind Kind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// NewFailure classifies err under kind.
func NewFailure(kind Kind, err error) *Failure {
	return &Failure{Kind: kind, Err: err}
}

// FailureKind extracts the classification from an error chain.
func FailureKind(err error) (Kind, bool) {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure.Kind, true
	}
	return "", false
}
