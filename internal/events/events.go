// Package events defines the client-visible stream events of a chat turn and
// their JSON wire encoding.
package events

import (
	"encoding/base64"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Wire type tags.
const (
	TypeThinking     = "thinking"
	TypeCode         = "code"
	TypeCodeResult   = "codeResult"
	TypeSearch       = "search"
	TypeText         = "text"
	TypeTTSLoading   = "ttsLoading"
	TypeTTSChunkInfo = "ttsChunkInfo"
	TypeAudioChunk   = "audioChunk"
	TypeAudio        = "audio"
	TypeTTSError     = "ttsError"
	TypeComplete     = "complete"
	TypeError        = "error"
)

// Event is one stream event. The set of implementations is closed to this package.
type Event interface {
	Type() string
	sealed()
}

type Thinking struct{ Content string }

type Code struct {
	Content  string
	Language string
}

type CodeResult struct{ Content string }

// Search summarizes the web search queries the model issued.
type Search struct{ Content string }

// Text is an incremental piece of prose; clients append it.
type Text struct{ Content string }

type TTSLoading struct{ Content string }

// TTSChunkInfo announces how many audio chunks follow.
type TTSChunkInfo struct {
	TotalChunks int
	TotalLength int
}

type AudioChunk struct {
	AudioData   []byte
	ChunkIndex  int
	TotalChunks int
	IsLastChunk bool
}

// Audio is the single-shot synthesis result.
type Audio struct{ AudioData []byte }

type TTSError struct{ Content string }

type Complete struct{}

type Error struct{ Content string }

func (Thinking) Type() string     { return TypeThinking }
func (Code) Type() string         { return TypeCode }
func (CodeResult) Type() string   { return TypeCodeResult }
func (Search) Type() string       { return TypeSearch }
func (Text) Type() string         { return TypeText }
func (TTSLoading) Type() string   { return TypeTTSLoading }
func (TTSChunkInfo) Type() string { return TypeTTSChunkInfo }
func (AudioChunk) Type() string   { return TypeAudioChunk }
func (Audio) Type() string        { return TypeAudio }
func (TTSError) Type() string     { return TypeTTSError }
func (Complete) Type() string     { return TypeComplete }
func (Error) Type() string        { return TypeError }

func (Thinking) sealed()     {}
func (Code) sealed()         {}
func (CodeResult) sealed()   {}
func (Search) sealed()       {}
func (Text) sealed()         {}
func (TTSLoading) sealed()   {}
func (TTSChunkInfo) sealed() {}
func (AudioChunk) sealed()   {}
func (Audio) sealed()        {}
func (TTSError) sealed()     {}
func (Complete) sealed()     {}
func (Error) sealed()        {}

// Marshal encodes ev as a JSON object whose first key is "type".
func Marshal(ev Event) ([]byte, error) {
	out := []byte(`{}`)
	out, err := sjson.SetBytes(out, "type", ev.Type())
	if err != nil {
		return nil, err
	}
	set := func(path string, value any) {
		if err == nil {
			out, err = sjson.SetBytes(out, path, value)
		}
	}

	switch e := ev.(type) {
	case Thinking:
		set("content", e.Content)
	case Code:
		set("content", e.Content)
		set("language", e.Language)
	case CodeResult:
		set("content", e.Content)
	case Search:
		set("content", e.Content)
	case Text:
		set("content", e.Content)
	case TTSLoading:
		set("content", e.Content)
	case TTSChunkInfo:
		set("totalChunks", e.TotalChunks)
		set("totalLength", e.TotalLength)
	case AudioChunk:
		set("audioData", base64.StdEncoding.EncodeToString(e.AudioData))
		set("chunkIndex", e.ChunkIndex)
		set("totalChunks", e.TotalChunks)
		set("isLastChunk", e.IsLastChunk)
	case Audio:
		set("audioData", base64.StdEncoding.EncodeToString(e.AudioData))
	case TTSError:
		set("content", e.Content)
	case Complete:
	case Error:
		set("content", e.Content)
	default:
		return nil, fmt.Errorf("events: unknown event %T", ev)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Parse decodes one JSON event produced by Marshal.
func Parse(data []byte) (Event, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("events: invalid json")
	}
	root := gjson.ParseBytes(data)
	content := root.Get("content").String()
	switch t := root.Get("type").String(); t {
	case TypeThinking:
		return Thinking{Content: content}, nil
	case TypeCode:
		return Code{Content: content, Language: root.Get("language").String()}, nil
	case TypeCodeResult:
		return CodeResult{Content: content}, nil
	case TypeSearch:
		return Search{Content: content}, nil
	case TypeText:
		return Text{Content: content}, nil
	case TypeTTSLoading:
		return TTSLoading{Content: content}, nil
	case TypeTTSChunkInfo:
		return TTSChunkInfo{
			TotalChunks: int(root.Get("totalChunks").Int()),
			TotalLength: int(root.Get("totalLength").Int()),
		}, nil
	case TypeAudioChunk:
		audio, err := base64.StdEncoding.DecodeString(root.Get("audioData").String())
		if err != nil {
			return nil, fmt.Errorf("events: audioChunk data: %w", err)
		}
		return AudioChunk{
			AudioData:   audio,
			ChunkIndex:  int(root.Get("chunkIndex").Int()),
			TotalChunks: int(root.Get("totalChunks").Int()),
			IsLastChunk: root.Get("isLastChunk").Bool(),
		}, nil
	case TypeAudio:
		audio, err := base64.StdEncoding.DecodeString(root.Get("audioData").String())
		if err != nil {
			return nil, fmt.Errorf("events: audio data: %w", err)
		}
		return Audio{AudioData: audio}, nil
	case TypeTTSError:
		return TTSError{Content: content}, nil
	case TypeComplete:
		return Complete{}, nil
	case TypeError:
		return Error{Content: content}, nil
	default:
		return nil, fmt.Errorf("events: unknown type %q", t)
	}
}
