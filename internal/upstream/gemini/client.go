// Package gemini talks to the Gemini REST API directly, streaming with alt=sse and
// decoding response fragments with gjson.
package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/router-for-me/chatrelay/internal/api/middleware"
	"github.com/router-for-me/chatrelay/internal/config"
	"github.com/router-for-me/chatrelay/internal/logging"
	"github.com/router-for-me/chatrelay/internal/upstream"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	apiVersion          = "v1beta"
	streamScannerBuffer = 52_428_800 // 50MB
	maxErrorBody        = 2048
)

var adcScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/generative-language",
}

// Client implements upstream.Provider over the Gemini REST API.
type Client struct {
	baseURL            string
	apiKey             string
	model              string
	transcriptionModel string
	ttsModel           string
	defaultVoice       string
	timeout            time.Duration

	httpClient *http.Client
	tokens     oauth2.TokenSource
}

// New builds a REST client from config. With auth=adc, requests carry an OAuth2
// bearer token from Application Default Credentials instead of an API key.
func New(ctx context.Context, cfg *config.Config) (*Client, error) {
	g := cfg.Gemini
	c := &Client{
		baseURL:            g.GetBaseURL(),
		apiKey:             strings.TrimSpace(g.APIKey),
		model:              g.GetModel(),
		transcriptionModel: g.GetTranscriptionModel(),
		ttsModel:           g.GetTTSModel(),
		defaultVoice:       g.GetDefaultVoice(),
		timeout:            time.Duration(g.GetTimeoutSeconds()) * time.Second,
		httpClient:         upstream.NewHTTPClient(cfg.ProxyURL, 0),
	}
	if g.GetAuth() == config.AuthADC {
		ts, err := google.DefaultTokenSource(ctx, adcScopes...)
		if err != nil {
			return nil, fmt.Errorf("gemini: application default credentials: %w", err)
		}
		c.tokens = ts
	}
	return c, nil
}

// NewWithHTTPClient builds a client against baseURL using apiKey. Intended for tests.
func NewWithHTTPClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	var defaults *config.GeminiConfig
	return &Client{
		baseURL:            strings.TrimSuffix(baseURL, "/"),
		apiKey:             apiKey,
		model:              defaults.GetModel(),
		transcriptionModel: defaults.GetTranscriptionModel(),
		ttsModel:           defaults.GetTTSModel(),
		defaultVoice:       defaults.GetDefaultVoice(),
		timeout:            time.Duration(defaults.GetTimeoutSeconds()) * time.Second,
		httpClient:         httpClient,
	}
}

// Name identifies the backend in logs.
func (c *Client) Name() string { return "gemini-rest" }

// GenerateStream implements upstream.Generator.
func (c *Client) GenerateStream(ctx context.Context, req upstream.GenerateRequest) (<-chan upstream.StreamChunk, error) {
	body := buildGenerateBody(req)
	url := c.endpoint(c.model, "streamGenerateContent") + "?alt=sse"

	httpResp, err := c.do(ctx, url, body, true)
	if err != nil {
		middleware.RecordUpstreamRequest("generate", c.model, "error")
		return nil, err
	}

	out := make(chan upstream.StreamChunk)
	go func() {
		defer close(out)
		defer func() {
			if errClose := httpResp.Body.Close(); errClose != nil {
				log.Errorf("gemini client: close response body error: %v", errClose)
			}
		}()

		send := func(chunk upstream.StreamChunk) bool {
			select {
			case out <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var (
			search                  upstream.SearchTracker
			promptTokens, outTokens int64
		)
		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(nil, streamScannerBuffer)
		for scanner.Scan() {
			payload := jsonPayload(scanner.Bytes())
			if len(payload) == 0 {
				continue
			}
			if msg := gjson.GetBytes(payload, "error.message"); msg.Exists() {
				middleware.RecordUpstreamRequest("generate", c.model, "error")
				send(upstream.StreamChunk{Err: upstream.StatusError{
					Code: int(gjson.GetBytes(payload, "error.code").Int()),
					Msg:  msg.String(),
				}})
				return
			}
			if p, o, ok := usageTokens(payload); ok {
				promptTokens, outTokens = p, o
			}
			for _, frag := range parseFragments(payload, &search) {
				if !send(upstream.StreamChunk{Fragment: frag}) {
					return
				}
			}
		}
		if errScan := scanner.Err(); errScan != nil {
			middleware.RecordUpstreamRequest("generate", c.model, "error")
			send(upstream.StreamChunk{Err: fmt.Errorf("gemini stream: %w", errScan)})
			return
		}
		middleware.RecordUpstreamRequest("generate", c.model, "ok")
		middleware.RecordTokenUsage(c.model, "input", int(promptTokens))
		middleware.RecordTokenUsage(c.model, "output", int(outTokens))
	}()
	return out, nil
}

// Transcribe implements upstream.Transcriber. Search is enabled; code execution
// and thinking are disabled.
func (c *Client) Transcribe(ctx context.Context, audio upstream.Blob) (string, error) {
	body := []byte(`{}`)
	body, _ = sjson.SetBytes(body, "contents.0.role", upstream.RoleUser)
	body, _ = sjson.SetBytes(body, "contents.0.parts.0.text", upstream.TranscriptionPrompt)
	body, _ = sjson.SetBytes(body, "contents.0.parts.1.inlineData.mimeType", audio.MIMEType)
	body, _ = sjson.SetBytes(body, "contents.0.parts.1.inlineData.data", base64.StdEncoding.EncodeToString(audio.Data))
	body, _ = sjson.SetRawBytes(body, "tools", []byte(`[{"googleSearch":{}}]`))
	body, _ = sjson.SetBytes(body, "generationConfig.thinkingConfig.thinkingBudget", 0)

	data, err := c.call(ctx, c.transcriptionModel, body)
	if err != nil {
		middleware.RecordUpstreamRequest("transcribe", c.transcriptionModel, "error")
		return "", err
	}
	middleware.RecordUpstreamRequest("transcribe", c.transcriptionModel, "ok")
	return strings.TrimSpace(collectText(data)), nil
}

// Synthesize implements upstream.Synthesizer. Raw PCM is wrapped as WAV.
func (c *Client) Synthesize(ctx context.Context, text, voice string) (upstream.Audio, error) {
	if strings.TrimSpace(voice) == "" {
		voice = c.defaultVoice
	}
	body := []byte(`{}`)
	body, _ = sjson.SetBytes(body, "contents.0.role", upstream.RoleUser)
	body, _ = sjson.SetBytes(body, "contents.0.parts.0.text", text)
	body, _ = sjson.SetRawBytes(body, "generationConfig.responseModalities", []byte(`["AUDIO"]`))
	body, _ = sjson.SetBytes(body, "generationConfig.speechConfig.voiceConfig.prebuiltVoiceConfig.voiceName", voice)

	data, err := c.call(ctx, c.ttsModel, body)
	if err != nil {
		middleware.RecordUpstreamRequest("synthesize", c.ttsModel, "error")
		return upstream.Audio{}, err
	}

	var inline gjson.Result
	gjson.GetBytes(data, "candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		if d := part.Get("inlineData"); d.Exists() && d.Get("data").String() != "" {
			inline = d
			return false
		}
		return true
	})
	if !inline.Exists() {
		middleware.RecordUpstreamRequest("synthesize", c.ttsModel, "error")
		return upstream.Audio{}, errors.New("gemini: synthesis response carried no audio")
	}
	pcm, err := base64.StdEncoding.DecodeString(inline.Get("data").String())
	if err != nil {
		middleware.RecordUpstreamRequest("synthesize", c.ttsModel, "error")
		return upstream.Audio{}, fmt.Errorf("gemini: decode synthesized audio: %w", err)
	}
	middleware.RecordUpstreamRequest("synthesize", c.ttsModel, "ok")
	return upstream.WrapPCM(inline.Get("mimeType").String(), pcm), nil
}

func (c *Client) call(ctx context.Context, model string, body []byte) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	httpResp, err := c.do(ctx, c.endpoint(model, "generateContent"), body, false)
	if err != nil {
		return nil, err
	}
	defer func() {
		if errClose := httpResp.Body.Close(); errClose != nil {
			log.Errorf("gemini client: close response body error: %v", errClose)
		}
	}()
	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}
	if msg := gjson.GetBytes(data, "error.message"); msg.Exists() {
		return nil, upstream.StatusError{Code: int(gjson.GetBytes(data, "error.code").Int()), Msg: msg.String()}
	}
	return data, nil
}

func (c *Client) do(ctx context.Context, url string, body []byte, stream bool) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	} else {
		httpReq.Header.Set("Accept", "application/json")
	}
	if c.tokens != nil {
		tok, errTok := c.tokens.Token()
		if errTok != nil {
			return nil, fmt.Errorf("gemini: fetch access token: %w", errTok)
		}
		httpReq.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	} else if c.apiKey != "" {
		httpReq.Header.Set("x-goog-api-key", c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		if errClose := httpResp.Body.Close(); errClose != nil {
			log.Errorf("gemini client: close response body error: %v", errClose)
		}
		msg := gjson.GetBytes(b, "error.message").String()
		if msg == "" {
			msg = strings.TrimSpace(string(b))
		}
		msg = logging.RedactText(msg)
		log.Debugf("gemini request error, status: %d, body: %s", httpResp.StatusCode, msg)
		return nil, upstream.StatusError{Code: httpResp.StatusCode, Msg: msg}
	}
	return httpResp, nil
}

func (c *Client) endpoint(model, method string) string {
	return fmt.Sprintf("%s/%s/models/%s:%s", c.baseURL, apiVersion, model, method)
}
