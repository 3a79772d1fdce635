// Package genaisdk implements the upstream provider on top of the official
// google.golang.org/genai client.
package genaisdk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/chatrelay/internal/api/middleware"
	"github.com/router-for-me/chatrelay/internal/config"
	"github.com/router-for-me/chatrelay/internal/upstream"
	log "github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

// Client implements upstream.Provider with the genai SDK.
type Client struct {
	sdk                *genai.Client
	model              string
	transcriptionModel string
	ttsModel           string
	defaultVoice       string
	timeout            time.Duration
}

// New creates an SDK-backed client using the configured API key, base URL and proxy.
func New(ctx context.Context, cfg *config.Config) (*Client, error) {
	g := cfg.Gemini
	sdk, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      strings.TrimSpace(g.APIKey),
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  upstream.NewHTTPClient(cfg.ProxyURL, 0),
		HTTPOptions: genai.HTTPOptions{BaseURL: g.GetBaseURL() + "/"},
	})
	if err != nil {
		return nil, fmt.Errorf("genai: create client: %w", err)
	}
	return &Client{
		sdk:                sdk,
		model:              g.GetModel(),
		transcriptionModel: g.GetTranscriptionModel(),
		ttsModel:           g.GetTTSModel(),
		defaultVoice:       g.GetDefaultVoice(),
		timeout:            time.Duration(g.GetTimeoutSeconds()) * time.Second,
	}, nil
}

// Name identifies the backend in logs.
func (c *Client) Name() string { return "gemini-sdk" }

// GenerateStream implements upstream.Generator.
func (c *Client) GenerateStream(ctx context.Context, req upstream.GenerateRequest) (<-chan upstream.StreamChunk, error) {
	contents := toContents(req.Turns)
	genCfg := generateConfig(req)

	out := make(chan upstream.StreamChunk)
	go func() {
		defer close(out)
		send := func(chunk upstream.StreamChunk) bool {
			select {
			case out <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var (
			search upstream.SearchTracker
			usage  *genai.GenerateContentResponseUsageMetadata
		)
		for resp, err := range c.sdk.Models.GenerateContentStream(ctx, c.model, contents, genCfg) {
			if err != nil {
				middleware.RecordUpstreamRequest("generate", c.model, "error")
				send(upstream.StreamChunk{Err: translateError(err)})
				return
			}
			if resp.UsageMetadata != nil {
				usage = resp.UsageMetadata
			}
			for _, frag := range fragments(resp, &search) {
				if !send(upstream.StreamChunk{Fragment: frag}) {
					return
				}
			}
		}
		middleware.RecordUpstreamRequest("generate", c.model, "ok")
		if usage != nil {
			middleware.RecordTokenUsage(c.model, "input", int(usage.PromptTokenCount))
			middleware.RecordTokenUsage(c.model, "output", int(usage.CandidatesTokenCount+usage.ThoughtsTokenCount))
		}
	}()
	return out, nil
}

// Transcribe implements upstream.Transcriber.
func (c *Client) Transcribe(ctx context.Context, audio upstream.Blob) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	contents := []*genai.Content{{
		Role: string(genai.RoleUser),
		Parts: []*genai.Part{
			{Text: upstream.TranscriptionPrompt},
			{InlineData: &genai.Blob{MIMEType: audio.MIMEType, Data: audio.Data}},
		},
	}}
	resp, err := c.sdk.Models.GenerateContent(ctx, c.transcriptionModel, contents, &genai.GenerateContentConfig{
		Tools:          []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
		ThinkingConfig: &genai.ThinkingConfig{ThinkingBudget: genai.Ptr[int32](0)},
	})
	if err != nil {
		middleware.RecordUpstreamRequest("transcribe", c.transcriptionModel, "error")
		return "", translateError(err)
	}
	middleware.RecordUpstreamRequest("transcribe", c.transcriptionModel, "ok")
	return strings.TrimSpace(responseText(resp)), nil
}

// Synthesize implements upstream.Synthesizer.
func (c *Client) Synthesize(ctx context.Context, text, voice string) (upstream.Audio, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if strings.TrimSpace(voice) == "" {
		voice = c.defaultVoice
	}
	resp, err := c.sdk.Models.GenerateContent(ctx, c.ttsModel, genai.Text(text), &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	})
	if err != nil {
		middleware.RecordUpstreamRequest("synthesize", c.ttsModel, "error")
		return upstream.Audio{}, translateError(err)
	}
	blob := firstInlineData(resp)
	if blob == nil {
		middleware.RecordUpstreamRequest("synthesize", c.ttsModel, "error")
		return upstream.Audio{}, errors.New("genai: synthesis response carried no audio")
	}
	middleware.RecordUpstreamRequest("synthesize", c.ttsModel, "ok")
	return upstream.WrapPCM(blob.MIMEType, blob.Data), nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func generateConfig(req upstream.GenerateRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.CodeExecution {
		cfg.Tools = append(cfg.Tools, &genai.Tool{CodeExecution: &genai.ToolCodeExecution{}})
	}
	if req.Search {
		cfg.Tools = append(cfg.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}
	if req.IncludeThoughts {
		cfg.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}
	return cfg
}

func toContents(turns []upstream.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, turn := range turns {
		role := string(genai.RoleUser)
		if turn.Role == upstream.RoleModel {
			role = string(genai.RoleModel)
		}
		content := &genai.Content{Role: role}
		if turn.Text != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: turn.Text})
		}
		if turn.Audio != nil && len(turn.Audio.Data) > 0 {
			content.Parts = append(content.Parts, &genai.Part{
				InlineData: &genai.Blob{MIMEType: turn.Audio.MIMEType, Data: turn.Audio.Data},
			})
		}
		if len(content.Parts) == 0 {
			content.Parts = []*genai.Part{{Text: ""}}
		}
		contents = append(contents, content)
	}
	return contents
}

func fragments(resp *genai.GenerateContentResponse, search *upstream.SearchTracker) []upstream.Fragment {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil
	}
	candidate := resp.Candidates[0]
	var out []upstream.Fragment
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			switch {
			case part.ExecutableCode != nil:
				out = append(out, upstream.Fragment{
					Kind:     upstream.FragmentCode,
					Text:     part.ExecutableCode.Code,
					Language: upstream.NormalizeLanguage(string(part.ExecutableCode.Language)),
				})
			case part.CodeExecutionResult != nil:
				out = append(out, upstream.Fragment{Kind: upstream.FragmentCodeResult, Text: part.CodeExecutionResult.Output})
			case part.Thought:
				if part.Text != "" {
					out = append(out, upstream.Fragment{Kind: upstream.FragmentThought, Text: part.Text})
				}
			case part.Text != "":
				out = append(out, upstream.Fragment{Kind: upstream.FragmentText, Text: part.Text})
			}
		}
	}
	if candidate.GroundingMetadata != nil {
		if fresh := search.Fresh(candidate.GroundingMetadata.WebSearchQueries); len(fresh) > 0 {
			out = append(out, upstream.Fragment{Kind: upstream.FragmentSearch, Queries: fresh})
		}
	}
	return out
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}

func firstInlineData(resp *genai.GenerateContentResponse) *genai.Blob {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return nil
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return part.InlineData
		}
	}
	return nil
}

// translateError maps SDK API errors onto upstream.StatusError.
func translateError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		log.Debugf("genai request error, status: %d, message: %s", apiErr.Code, apiErr.Message)
		return upstream.StatusError{Code: apiErr.Code, Msg: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return upstream.StatusError{Code: apiErrPtr.Code, Msg: apiErrPtr.Message}
	}
	return err
}
