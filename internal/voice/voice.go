// Package voice defines the speech boundaries of the harness. Real speech
// recognition and synthesis run as external collaborators; the harness only
// needs the two interfaces and a console fallback speaker.
package voice

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
)

// MinTranscriptWords is the shortest transcript worth reacting to; anything
// shorter is treated as recognition noise.
const MinTranscriptWords = 2

// Transcriber converts captured audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Speaker voices a response.
type Speaker interface {
	Speak(ctx context.Context, text string) error
	IsSpeaking() bool
	Stop()
}

// Usable reports whether a transcript is substantial enough to act on.
func Usable(transcript string) bool {
	return len(strings.Fields(transcript)) >= MinTranscriptWords
}

// ConsoleSpeaker is the fallback Speaker: it logs the line instead of
// voicing it, so the harness works without a TTS backend.
type ConsoleSpeaker struct {
	logger   *slog.Logger
	speaking atomic.Bool
}

// NewConsoleSpeaker creates the logging speaker.
func NewConsoleSpeaker(logger *slog.Logger) *ConsoleSpeaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleSpeaker{logger: logger}
}

func (s *ConsoleSpeaker) Speak(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.speaking.Store(true)
	defer s.speaking.Store(false)
	s.logger.Info("speaking", "text", text)
	return nil
}

func (s *ConsoleSpeaker) IsSpeaking() bool { return s.speaking.Load() }

func (s *ConsoleSpeaker) Stop() {}
