// Package upstreamtest provides a scripted upstream.Provider for tests.
package upstreamtest

import (
	"context"
	"errors"
	"sync"

	"github.com/router-for-me/chatrelay/internal/upstream"
)

// Provider replays scripted fragments and records every call it receives.
type Provider struct {
	// Fragments are streamed in order by GenerateStream.
	Fragments []upstream.Fragment
	// StreamErr, when set, is sent after Fragments as the terminal chunk.
	StreamErr error
	// StartErr fails GenerateStream before any chunk is produced.
	StartErr error

	Transcript    string
	TranscribeErr error

	// SynthesizeFunc overrides synthesis; the default returns the text as WAV bytes.
	SynthesizeFunc func(call int, text, voice string) (upstream.Audio, error)

	mu          sync.Mutex
	requests    []upstream.GenerateRequest
	transcribed []upstream.Blob
	synthesized []string
}

// Name implements upstream.Provider.
func (p *Provider) Name() string { return "fake" }

// GenerateStream implements upstream.Generator.
func (p *Provider) GenerateStream(ctx context.Context, req upstream.GenerateRequest) (<-chan upstream.StreamChunk, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	if p.StartErr != nil {
		return nil, p.StartErr
	}
	out := make(chan upstream.StreamChunk)
	go func() {
		defer close(out)
		for _, frag := range p.Fragments {
			select {
			case out <- upstream.StreamChunk{Fragment: frag}:
			case <-ctx.Done():
				return
			}
		}
		if p.StreamErr != nil {
			select {
			case out <- upstream.StreamChunk{Err: p.StreamErr}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

// Transcribe implements upstream.Transcriber.
func (p *Provider) Transcribe(_ context.Context, audio upstream.Blob) (string, error) {
	p.mu.Lock()
	p.transcribed = append(p.transcribed, audio)
	p.mu.Unlock()
	if p.TranscribeErr != nil {
		return "", p.TranscribeErr
	}
	return p.Transcript, nil
}

// Synthesize implements upstream.Synthesizer.
func (p *Provider) Synthesize(_ context.Context, text, voice string) (upstream.Audio, error) {
	p.mu.Lock()
	call := len(p.synthesized)
	p.synthesized = append(p.synthesized, text)
	p.mu.Unlock()
	if p.SynthesizeFunc != nil {
		return p.SynthesizeFunc(call, text, voice)
	}
	if text == "" {
		return upstream.Audio{}, errors.New("empty text")
	}
	return upstream.Audio{MIMEType: "audio/wav", Data: []byte(text)}, nil
}

// Requests returns the generation requests received so far.
func (p *Provider) Requests() []upstream.GenerateRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]upstream.GenerateRequest(nil), p.requests...)
}

// Transcribed returns the audio blobs passed to Transcribe.
func (p *Provider) Transcribed() []upstream.Blob {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]upstream.Blob(nil), p.transcribed...)
}

// Synthesized returns the texts passed to Synthesize, in call order.
func (p *Provider) Synthesized() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.synthesized...)
}
