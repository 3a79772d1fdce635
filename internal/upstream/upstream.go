// Package upstream defines the model-provider capabilities the relay consumes:
// streaming generation, audio transcription and speech synthesis.
package upstream

import (
	"context"
	"fmt"
	"strings"
)

const (
	RoleUser  = "user"
	RoleModel = "model"
)

// DefaultCodeLanguage is reported for executable code without a language tag.
const DefaultCodeLanguage = "python"

// Blob is inline binary content such as recorded audio.
type Blob struct {
	MIMEType string
	Data     []byte
}

// Turn is one entry of the conversation sent upstream.
type Turn struct {
	Role  string
	Text  string
	Audio *Blob
}

// UserText returns a user turn carrying text.
func UserText(text string) Turn { return Turn{Role: RoleUser, Text: text} }

// ModelText returns a model turn carrying text.
func ModelText(text string) Turn { return Turn{Role: RoleModel, Text: text} }

// FragmentKind classifies one incremental piece of generated output.
type FragmentKind int

const (
	FragmentThought FragmentKind = iota + 1
	FragmentCode
	FragmentCodeResult
	FragmentText
	FragmentSearch
)

func (k FragmentKind) String() string {
	switch k {
	case FragmentThought:
		return "thought"
	case FragmentCode:
		return "code"
	case FragmentCodeResult:
		return "code_result"
	case FragmentText:
		return "text"
	case FragmentSearch:
		return "search"
	default:
		return fmt.Sprintf("fragment(%d)", int(k))
	}
}

// Fragment is one classified piece of upstream output.
// Language is set for code; Queries for search activity.
type Fragment struct {
	Kind     FragmentKind
	Text     string
	Language string
	Queries  []string
}

// StreamChunk carries either a fragment or a terminal error.
type StreamChunk struct {
	Fragment Fragment
	Err      error
}

// GenerateRequest describes one streaming generation call.
type GenerateRequest struct {
	Turns           []Turn
	IncludeThoughts bool
	CodeExecution   bool
	Search          bool
}

// Audio is a synthesized audio payload.
type Audio struct {
	MIMEType string
	Data     []byte
}

// Generator streams fragments for a conversation. The channel is closed when the
// stream ends; a chunk with Err set is always the last one sent.
type Generator interface {
	GenerateStream(ctx context.Context, req GenerateRequest) (<-chan StreamChunk, error)
}

// Transcriber converts recorded audio to plain text in one non-streaming call.
type Transcriber interface {
	Transcribe(ctx context.Context, audio Blob) (string, error)
}

// Synthesizer converts text to speech in one call.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (Audio, error)
}

// Provider bundles every capability a backend offers.
type Provider interface {
	Generator
	Transcriber
	Synthesizer
	Name() string
}

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	Code int
	Msg  string
}

func (e StatusError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("upstream status %d", e.Code)
	}
	return fmt.Sprintf("upstream status %d: %s", e.Code, e.Msg)
}

// StatusCode returns the upstream HTTP status.
func (e StatusError) StatusCode() int { return e.Code }

// NormalizeLanguage lowercases a provider language tag, defaulting to python.
func NormalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" || lang == "language_unspecified" {
		return DefaultCodeLanguage
	}
	return lang
}

// SearchTracker reports only search queries not seen earlier in the same stream.
// Providers repeat grounding metadata on consecutive chunks.
type SearchTracker struct {
	seen map[string]struct{}
}

// Fresh returns the queries not reported before, in order.
func (s *SearchTracker) Fresh(queries []string) []string {
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	var out []string
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		if _, dup := s.seen[q]; dup {
			continue
		}
		s.seen[q] = struct{}{}
		out = append(out, q)
	}
	return out
}

// TranscriptionPrompt is sent alongside recorded audio.
const TranscriptionPrompt = "Transcribe this voice message exactly as spoken. Reply with the transcription only, without commentary."
