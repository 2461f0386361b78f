// Package transcribe defines the interface for speech-to-text and provides a
// Whisper-backed implementation. The recognizer itself is an opaque external
// service: this package only knows how to hand it an audio file and read back
// text, confidence, and duration.
package transcribe

import (
	"context"
	"errors"
)

// ErrUnreadableAudio marks a transcription failure caused by the audio itself
// (corrupt file, unsupported format, silence) rather than by the recognizer
// being unavailable. The worker treats both the same way — the check-in is
// marked errored — but the distinction matters for the error message a human
// later reads.
var ErrUnreadableAudio = errors.New("transcribe: audio is unreadable or empty")

// Transcription is the structured output of a successful call.
type Transcription struct {
	Text            string
	Confidence      float64 // [0,1]; 0 when the provider reports none
	DurationSeconds float64
}

// Transcriber converts an audio file into text. Implementations must be safe
// for concurrent use.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (Transcription, error)
}
