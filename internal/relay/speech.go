package relay

import (
	"context"
	"unicode/utf8"

	"github.com/router-for-me/chatrelay/internal/api/middleware"
	"github.com/router-for-me/chatrelay/internal/config"
	"github.com/router-for-me/chatrelay/internal/events"
	"github.com/router-for-me/chatrelay/internal/textunit"
	"github.com/router-for-me/chatrelay/internal/upstream"
	log "github.com/sirupsen/logrus"
)

const (
	loadingMessage       = "Generating audio..."
	synthesisFailMessage = "Audio generation failed"
)

// Speech turns finished prose into audio events.
type Speech struct {
	Synthesizer upstream.Synthesizer
	// Mode is config.TTSModeChunked or config.TTSModeSingle.
	Mode           string
	MaxChunkLength int
}

// NewSpeech builds a speech relay from the tts config section.
func NewSpeech(s upstream.Synthesizer, cfg *config.TTSConfig) *Speech {
	return &Speech{Synthesizer: s, Mode: cfg.GetMode(), MaxChunkLength: cfg.GetMaxChunkLength()}
}

// Run emits ttsLoading and then either one audio event (single mode) or, in chunked
// mode, an optional ttsChunkInfo followed by one audioChunk per synthesized unit in
// unit order. Failed units are skipped; ttsError is emitted only when no audio was
// produced. The returned error is non-nil only when the sink or ctx failed.
func (s *Speech) Run(ctx context.Context, prose, voice string, sink events.Sink) error {
	plain := textunit.Sanitize(prose)
	if plain == "" {
		return nil
	}
	if err := sink.Emit(events.TTSLoading{Content: loadingMessage}); err != nil {
		return err
	}
	if s.Mode == config.TTSModeSingle {
		return s.single(ctx, plain, voice, sink)
	}
	return s.chunked(ctx, plain, voice, sink)
}

func (s *Speech) single(ctx context.Context, plain, voice string, sink events.Sink) error {
	audio, err := s.Synthesizer.Synthesize(ctx, plain, voice)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		middleware.RecordSpeechUnit("error")
		log.WithFields(log.Fields{"length": utf8.RuneCountInString(plain)}).Warnf("speech synthesis failed: %v", err)
		return sink.Emit(events.TTSError{Content: synthesisFailMessage})
	}
	middleware.RecordSpeechUnit("ok")
	return sink.Emit(events.Audio{AudioData: audio.Data})
}

func (s *Speech) chunked(ctx context.Context, plain, voice string, sink events.Sink) error {
	units := textunit.Segment(plain, s.MaxChunkLength)
	if len(units) > 1 {
		info := events.TTSChunkInfo{TotalChunks: len(units), TotalLength: utf8.RuneCountInString(plain)}
		if err := sink.Emit(info); err != nil {
			return err
		}
	}

	produced := 0
	for _, unit := range units {
		if err := ctx.Err(); err != nil {
			return err
		}
		audio, err := s.Synthesizer.Synthesize(ctx, unit.Text, voice)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			middleware.RecordSpeechUnit("error")
			log.WithFields(log.Fields{
				"chunk":  unit.Index,
				"total":  unit.Total,
				"length": unit.Len(),
			}).Warnf("speech synthesis failed for chunk, skipping: %v", err)
			continue
		}
		middleware.RecordSpeechUnit("ok")
		produced++
		chunk := events.AudioChunk{
			AudioData:   audio.Data,
			ChunkIndex:  unit.Index,
			TotalChunks: unit.Total,
			IsLastChunk: unit.Index == unit.Total-1,
		}
		if err = sink.Emit(chunk); err != nil {
			return err
		}
	}
	if produced == 0 {
		return sink.Emit(events.TTSError{Content: synthesisFailMessage})
	}
	return nil
}
