// Package relay drives one chat turn against the upstream provider and translates
// its output into ordered stream events.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/chatrelay/internal/convo"
	"github.com/router-for-me/chatrelay/internal/events"
	"github.com/router-for-me/chatrelay/internal/upstream"
	log "github.com/sirupsen/logrus"
)

// Input is one user turn together with the context built from history.
type Input struct {
	Context []upstream.Turn
	Message string
	Audio   *upstream.Blob
	TTS     bool
	Voice   string
}

// Result is what the turn produced, for persistence.
type Result struct {
	// UserContent is the message text, or the labeled transcription of a voice message.
	UserContent string
	// Prose is the accumulated model text.
	Prose string
}

// Generation relays one streaming generation call.
type Generation struct {
	Generator   upstream.Generator
	Transcriber upstream.Transcriber
	Speech      *Speech
	// StrictTranscription ends the turn with an error event when transcription fails.
	StrictTranscription bool
}

// Run transcribes audio input if present, streams the generation as events, runs
// speech synthesis when requested and finally emits complete. On an upstream
// failure an error event is emitted, complete is not, and the error is returned
// along with whatever prose was accumulated.
func (g *Generation) Run(ctx context.Context, in Input, sink events.Sink) (Result, error) {
	var res Result
	newTurn := convo.UserTurn(in.Message)
	if in.Audio != nil && len(in.Audio.Data) > 0 {
		text, err := g.transcribe(ctx, *in.Audio)
		if err != nil {
			if errEmit := sink.Emit(events.Error{Content: "Voice message transcription failed"}); errEmit != nil {
				return res, errEmit
			}
			return res, err
		}
		newTurn = convo.VoiceTurn(text)
	}
	res.UserContent = newTurn.Text

	turns := make([]upstream.Turn, 0, len(in.Context)+1)
	turns = append(turns, in.Context...)
	turns = append(turns, newTurn)

	prose, err := g.stream(ctx, turns, sink)
	res.Prose = prose
	if err != nil {
		return res, err
	}

	if in.TTS && g.Speech != nil {
		if err = g.Speech.Run(ctx, prose, in.Voice, sink); err != nil {
			return res, err
		}
	}
	return res, sink.Emit(events.Complete{})
}

// transcribe returns the transcription of audio. Failures yield an empty
// transcription unless StrictTranscription is set.
func (g *Generation) transcribe(ctx context.Context, audio upstream.Blob) (string, error) {
	if g.Transcriber == nil {
		return "", nil
	}
	start := time.Now()
	text, err := g.Transcriber.Transcribe(ctx, audio)
	if err != nil {
		log.WithFields(log.Fields{
			"mime":     audio.MIMEType,
			"bytes":    len(audio.Data),
			"duration": time.Since(start).String(),
		}).Warnf("voice transcription failed: %v", err)
		if g.StrictTranscription || ctx.Err() != nil {
			return "", fmt.Errorf("transcription: %w", err)
		}
		return "", nil
	}
	log.Debugf("voice transcription done in %s (%d chars)", time.Since(start), len(text))
	return text, nil
}

// stream emits one event per upstream fragment in arrival order and returns the
// accumulated prose.
func (g *Generation) stream(ctx context.Context, turns []upstream.Turn, sink events.Sink) (string, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := g.Generator.GenerateStream(streamCtx, upstream.GenerateRequest{
		Turns:           turns,
		IncludeThoughts: true,
		CodeExecution:   true,
		Search:          true,
	})
	if err != nil {
		return "", g.fail(sink, err)
	}

	var prose strings.Builder
	for chunk := range ch {
		if chunk.Err != nil {
			return prose.String(), g.fail(sink, chunk.Err)
		}
		ev, ok := fragmentEvent(chunk.Fragment)
		if !ok {
			continue
		}
		if chunk.Fragment.Kind == upstream.FragmentText {
			prose.WriteString(chunk.Fragment.Text)
		}
		if err = sink.Emit(ev); err != nil {
			return prose.String(), err
		}
	}
	if err = ctx.Err(); err != nil {
		return prose.String(), err
	}
	return prose.String(), nil
}

func (g *Generation) fail(sink events.Sink, err error) error {
	log.Errorf("generation stream failed: %v", err)
	if errEmit := sink.Emit(events.Error{Content: errorMessage(err)}); errEmit != nil {
		log.Debugf("error event not delivered: %v", errEmit)
	}
	return err
}

func fragmentEvent(f upstream.Fragment) (events.Event, bool) {
	switch f.Kind {
	case upstream.FragmentThought:
		return events.Thinking{Content: f.Text}, true
	case upstream.FragmentCode:
		return events.Code{Content: f.Text, Language: upstream.NormalizeLanguage(f.Language)}, true
	case upstream.FragmentCodeResult:
		return events.CodeResult{Content: f.Text}, true
	case upstream.FragmentText:
		return events.Text{Content: f.Text}, true
	case upstream.FragmentSearch:
		if len(f.Queries) == 0 {
			return nil, false
		}
		return events.Search{Content: SearchSummary(f.Queries)}, true
	default:
		return nil, false
	}
}

// SearchSummary renders search queries for display.
func SearchSummary(queries []string) string {
	return "Searching: " + strings.Join(queries, ", ")
}

func errorMessage(err error) string {
	var se upstream.StatusError
	if errors.As(err, &se) && se.Msg != "" {
		return se.Msg
	}
	return err.Error()
}
