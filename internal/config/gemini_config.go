package config

import "strings"

const (
	// BackendREST talks to the Gemini REST API directly.
	BackendREST = "rest"
	// BackendSDK uses the google.golang.org/genai client.
	BackendSDK = "sdk"

	// AuthAPIKey authenticates with gemini.api-key.
	AuthAPIKey = "api-key"
	// AuthADC authenticates with Google application default credentials.
	AuthADC = "adc"

	// TTSModeChunked segments prose and synthesizes one unit per call.
	TTSModeChunked = "chunked"
	// TTSModeSingle synthesizes the whole response in one call.
	TTSModeSingle = "single"

	defaultGeminiBaseURL       = "https://generativelanguage.googleapis.com"
	defaultGeminiModel         = "gemini-2.5-flash"
	defaultTranscriptionModel  = "gemini-2.5-flash"
	defaultTTSModel            = "gemini-2.5-flash-preview-tts"
	defaultVoice               = "Kore"
	defaultMaxChunkLength      = 750
	defaultUpstreamTimeoutSecs = 300
)

// GeminiConfig configures the upstream generation, transcription and speech provider.
type GeminiConfig struct {
	// Backend selects the client implementation: "rest" (default) or "sdk".
	Backend string `yaml:"backend,omitempty" json:"backend,omitempty"`

	// APIKey is the Gemini API key. GEMINI_API_KEY overrides it.
	APIKey string `yaml:"api-key,omitempty" json:"-"`

	// Auth selects "api-key" (default) or "adc".
	Auth string `yaml:"auth,omitempty" json:"auth,omitempty"`

	// BaseURL overrides the REST endpoint.
	BaseURL string `yaml:"base-url,omitempty" json:"base-url,omitempty"`

	// Model is used for the streaming chat generation.
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	// TranscriptionModel is used for voice message transcription.
	TranscriptionModel string `yaml:"transcription-model,omitempty" json:"transcription-model,omitempty"`

	// TTSModel is used for speech synthesis.
	TTSModel string `yaml:"tts-model,omitempty" json:"tts-model,omitempty"`

	// DefaultVoice is the prebuilt voice used when a request names none.
	DefaultVoice string `yaml:"default-voice,omitempty" json:"default-voice,omitempty"`

	// StrictTranscription ends the turn with an error event when transcription fails
	// instead of continuing with an empty transcription.
	StrictTranscription bool `yaml:"strict-transcription" json:"strict-transcription"`

	// TimeoutSeconds bounds a single non-streaming upstream call. nil means 300.
	TimeoutSeconds *int `yaml:"timeout-seconds,omitempty" json:"timeout-seconds,omitempty"`
}

// GetBackend returns the normalized backend name, defaulting to "rest".
func (g *GeminiConfig) GetBackend() string {
	if g == nil || strings.TrimSpace(g.Backend) == "" {
		return BackendREST
	}
	return strings.ToLower(strings.TrimSpace(g.Backend))
}

// GetAuth returns the normalized auth mode, defaulting to "api-key".
func (g *GeminiConfig) GetAuth() string {
	if g == nil || strings.TrimSpace(g.Auth) == "" {
		return AuthAPIKey
	}
	return strings.ToLower(strings.TrimSpace(g.Auth))
}

// GetBaseURL returns the REST base URL without a trailing slash.
func (g *GeminiConfig) GetBaseURL() string {
	if g == nil || strings.TrimSpace(g.BaseURL) == "" {
		return defaultGeminiBaseURL
	}
	return strings.TrimSuffix(strings.TrimSpace(g.BaseURL), "/")
}

// GetModel returns the chat model.
func (g *GeminiConfig) GetModel() string {
	if g == nil || strings.TrimSpace(g.Model) == "" {
		return defaultGeminiModel
	}
	return strings.TrimSpace(g.Model)
}

// GetTranscriptionModel returns the transcription model.
func (g *GeminiConfig) GetTranscriptionModel() string {
	if g == nil || strings.TrimSpace(g.TranscriptionModel) == "" {
		return defaultTranscriptionModel
	}
	return strings.TrimSpace(g.TranscriptionModel)
}

// GetTTSModel returns the speech synthesis model.
func (g *GeminiConfig) GetTTSModel() string {
	if g == nil || strings.TrimSpace(g.TTSModel) == "" {
		return defaultTTSModel
	}
	return strings.TrimSpace(g.TTSModel)
}

// GetDefaultVoice returns the fallback voice name.
func (g *GeminiConfig) GetDefaultVoice() string {
	if g == nil || strings.TrimSpace(g.DefaultVoice) == "" {
		return defaultVoice
	}
	return strings.TrimSpace(g.DefaultVoice)
}

// GetTimeoutSeconds returns the non-streaming call timeout, defaulting to 300.
func (g *GeminiConfig) GetTimeoutSeconds() int {
	if g == nil || g.TimeoutSeconds == nil || *g.TimeoutSeconds <= 0 {
		return defaultUpstreamTimeoutSecs
	}
	return *g.TimeoutSeconds
}

// TTSConfig configures the speech synthesis relay.
type TTSConfig struct {
	// Mode is "chunked" (default) or the legacy "single".
	Mode string `yaml:"mode,omitempty" json:"mode,omitempty"`

	// MaxChunkLength bounds a synthesis unit in characters. nil means 750.
	MaxChunkLength *int `yaml:"max-chunk-length,omitempty" json:"max-chunk-length,omitempty"`
}

// GetMode returns the normalized synthesis mode.
func (t *TTSConfig) GetMode() string {
	if t == nil || strings.TrimSpace(t.Mode) == "" {
		return TTSModeChunked
	}
	return strings.ToLower(strings.TrimSpace(t.Mode))
}

// GetMaxChunkLength returns the unit length cap, defaulting to 750.
func (t *TTSConfig) GetMaxChunkLength() int {
	if t == nil || t.MaxChunkLength == nil || *t.MaxChunkLength <= 0 {
		return defaultMaxChunkLength
	}
	return *t.MaxChunkLength
}
