package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_ValidYAML(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		wantPort int
		wantHost string
		wantErr  bool
	}{
		{
			name: "minimal valid config",
			yaml: `
port: 8080
`,
			wantPort: 8080,
			wantHost: "",
			wantErr:  false,
		},
		{
			name: "config with host and port",
			yaml: `
host: 127.0.0.1
port: 9000
`,
			wantPort: 9000,
			wantHost: "127.0.0.1",
			wantErr:  false,
		},
		{
			name: "config with debug enabled",
			yaml: `
port: 8080
debug: true
`,
			wantPort: 8080,
			wantHost: "",
			wantErr:  false,
		},
		{
			name: "config with gemini section",
			yaml: `
port: 8080
gemini:
  api-key: "test-key-1"
  model: gemini-2.5-pro
`,
			wantPort: 8080,
			wantHost: "",
			wantErr:  false,
		},
		{
			name: "config with tls settings",
			yaml: `
port: 443
tls:
  enable: true
  cert: /path/to/cert.pem
  key: /path/to/key.pem
`,
			wantPort: 443,
			wantHost: "",
			wantErr:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.yaml), 0644); err != nil {
				t.Fatalf("failed to write test config: %v", err)
			}

			cfg, err := LoadConfig(configPath)
			if (err != nil) != tt.wantErr {
				t.Errorf("LoadConfig() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err != nil {
				return
			}

			if cfg.Port != tt.wantPort {
				t.Errorf("LoadConfig() Port = %v, want %v", cfg.Port, tt.wantPort)
			}
			if cfg.Host != tt.wantHost {
				t.Errorf("LoadConfig() Host = %v, want %v", cfg.Host, tt.wantHost)
			}
		})
	}
}

func TestLoadConfig_EmptyFile(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		optional bool
		wantErr  bool
	}{
		{
			name:     "empty file with optional false",
			content:  "",
			optional: false,
			wantErr:  false, // Empty file parses to a default Config
		},
		{
			name:     "empty file with optional true",
			content:  "",
			optional: true,
			wantErr:  false,
		},
		{
			name:     "whitespace only with optional false",
			content:  "   \n \n   ",
			optional: false,
			wantErr:  false,
		},
		{
			name:     "whitespace only with optional true",
			content:  "   \n \n   ",
			optional: true,
			wantErr:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.content), 0644); err != nil {
				t.Fatalf("failed to write test config: %v", err)
			}

			cfg, err := LoadConfigOptional(configPath, tt.optional)
			if (err != nil) != tt.wantErr {
				t.Errorf("LoadConfigOptional() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err == nil && cfg == nil {
				t.Error("LoadConfigOptional() returned nil config without error")
			}
		})
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		optional bool
		wantErr  bool
	}{
		{
			name: "invalid yaml syntax",
			content: `
port: 8080
  invalid indentation
`,
			optional: false,
			wantErr:  true,
		},
		{
			name: "invalid yaml with optional true",
			content: `
port: 8080
  invalid indentation
`,
			optional: true,
			wantErr:  false, // Optional mode returns empty config on parse error
		},
		{
			name: "malformed yaml structure",
			content: `
port: [8080
`,
			optional: false,
			wantErr:  true,
		},
		{
			name:     "duplicate keys at same level",
			content:  "port: 8080\nport: 9090\n  - invalid",
			optional: false,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.content), 0644); err != nil {
				t.Fatalf("failed to write test config: %v", err)
			}

			cfg, err := LoadConfigOptional(configPath, tt.optional)
			if (err != nil) != tt.wantErr {
				t.Errorf("LoadConfigOptional() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.optional && err == nil && cfg == nil {
				t.Error("LoadConfigOptional() with optional=true returned nil config")
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	tests := []struct {
		name     string
		optional bool
		wantErr  bool
	}{
		{
			name:     "missing file with optional false",
			optional: false,
			wantErr:  true,
		},
		{
			name:     "missing file with optional true",
			optional: true,
			wantErr:  false, // Optional mode returns empty config for missing file
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "nonexistent.yaml")

			cfg, err := LoadConfigOptional(configPath, tt.optional)
			if (err != nil) != tt.wantErr {
				t.Errorf("LoadConfigOptional() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.optional && cfg == nil {
				t.Error("LoadConfigOptional() with optional=true returned nil config for missing file")
			}
		})
	}
}

func TestValidateConfig_ValidPort(t *testing.T) {
	tests := []struct {
		name    string
		port    int
		wantErr bool
	}{
		{
			name:    "minimum valid port",
			port:    1,
			wantErr: false,
		},
		{
			name:    "maximum valid port",
			port:    65535,
			wantErr: false,
		},
		{
			name:    "common port 80",
			port:    80,
			wantErr: false,
		},
		{
			name:    "common port 443",
			port:    443,
			wantErr: false,
		},
		{
			name:    "common port 8080",
			port:    8080,
			wantErr: false,
		},
		{
			name:    "high ephemeral port",
			port:    49152,
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Port: tt.port}
			_, err := ValidateConfig(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateConfig_InvalidPort(t *testing.T) {
	tests := []struct {
		name    string
		port    int
		wantErr bool
	}{
		{
			name:    "zero port",
			port:    0,
			wantErr: true,
		},
		{
			name:    "negative port",
			port:    -1,
			wantErr: true,
		},
		{
			name:    "port exceeds maximum",
			port:    65536,
			wantErr: true,
		},
		{
			name:    "large negative port",
			port:    -65536,
			wantErr: true,
		},
		{
			name:    "very large port",
			port:    100000,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Port: tt.port}
			_, err := ValidateConfig(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateConfig_NilConfig(t *testing.T) {
	_, err := ValidateConfig(nil)
	if err == nil {
		t.Error("ValidateConfig(nil) should return error")
	}
}

func TestLoadConfig_DefaultPort(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("debug: true\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("LoadConfig() Port = %d, want default %d", cfg.Port, DefaultPort)
	}
}

func TestLoadConfig_TOML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.toml")
	content := `
port = 9100

[gemini]
model = "gemini-2.5-pro"
strict-transcription = true

[storage]
driver = "sqlite"

[storage.sqlite]
path = "/tmp/relay.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "gemini-2.5-pro", cfg.Gemini.GetModel())
	assert.True(t, cfg.Gemini.StrictTranscription)
	assert.Equal(t, StorageSQLite, cfg.Storage.GetDriver())
	assert.Equal(t, "/tmp/relay.db", cfg.Storage.GetSQLitePath())
}

func TestConfigGetters_Defaults(t *testing.T) {
	cfg := &Config{Port: 8080}

	assert.True(t, cfg.IsMetricsEnabled())
	assert.Equal(t, "logs", cfg.GetLogDir())
	assert.Equal(t, BackendREST, cfg.Gemini.GetBackend())
	assert.Equal(t, AuthAPIKey, cfg.Gemini.GetAuth())
	assert.Equal(t, "https://generativelanguage.googleapis.com", cfg.Gemini.GetBaseURL())
	assert.Equal(t, "Kore", cfg.Gemini.GetDefaultVoice())
	assert.Equal(t, 300, cfg.Gemini.GetTimeoutSeconds())
	assert.Equal(t, TTSModeChunked, cfg.TTS.GetMode())
	assert.Equal(t, 750, cfg.TTS.GetMaxChunkLength())
	assert.Equal(t, 30*time.Minute, cfg.History.GetCacheTTL())
	assert.Equal(t, 10000, cfg.History.GetCacheMaxSize())
	assert.Equal(t, time.Second, cfg.History.GetPersistDelay())
	assert.Equal(t, 7*24*time.Hour, cfg.History.GetStorageTTL())
	assert.InDelta(t, 0.01, cfg.History.GetSweepProbability(), 1e-9)
	assert.Equal(t, 200, cfg.History.GetPreviewLength())
	assert.Equal(t, 10, cfg.History.GetContextMessages())
	assert.Equal(t, StorageMemory, cfg.Storage.GetDriver())
}

func TestConfigGetters_Overrides(t *testing.T) {
	disabled := false
	chunk := 400
	prob := 0.5
	maxSize := 64
	cfg := &Config{
		Metrics: MetricsConfig{Enabled: &disabled},
		Gemini: GeminiConfig{
			Backend: " SDK ",
			BaseURL: "http://localhost:9999/",
		},
		TTS: TTSConfig{Mode: "Single", MaxChunkLength: &chunk},
		History: HistoryConfig{
			CacheTTL:         "5m",
			CacheMaxSize:     &maxSize,
			PersistDelay:     "not-a-duration",
			SweepProbability: &prob,
		},
	}

	assert.False(t, cfg.IsMetricsEnabled())
	assert.Equal(t, BackendSDK, cfg.Gemini.GetBackend())
	assert.Equal(t, "http://localhost:9999", cfg.Gemini.GetBaseURL())
	assert.Equal(t, TTSModeSingle, cfg.TTS.GetMode())
	assert.Equal(t, 400, cfg.TTS.GetMaxChunkLength())
	assert.Equal(t, 5*time.Minute, cfg.History.GetCacheTTL())
	assert.Equal(t, 64, cfg.History.GetCacheMaxSize())
	assert.Equal(t, time.Second, cfg.History.GetPersistDelay(), "invalid durations fall back to the default")
	assert.InDelta(t, 0.5, cfg.History.GetSweepProbability(), 1e-9)
}

func TestValidateConfig_Storage(t *testing.T) {
	tests := []struct {
		name    string
		storage StorageConfig
		wantErr bool
	}{
		{name: "default memory", storage: StorageConfig{}},
		{name: "file", storage: StorageConfig{Driver: "file"}},
		{name: "sqlite", storage: StorageConfig{Driver: "sqlite"}},
		{name: "redis without addr", storage: StorageConfig{Driver: "redis"}, wantErr: true},
		{name: "redis with addr", storage: StorageConfig{Driver: "redis", Redis: RedisStorageConfig{Addr: "localhost:6379"}}},
		{name: "postgres without dsn", storage: StorageConfig{Driver: "postgres"}, wantErr: true},
		{name: "objectstore without bucket", storage: StorageConfig{Driver: "objectstore", ObjectStore: ObjectStoreStorageConfig{Endpoint: "minio:9000"}}, wantErr: true},
		{name: "unknown driver", storage: StorageConfig{Driver: "etcd"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Port: 8080, Storage: tt.storage}
			_, err := ValidateConfig(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateConfig_Warnings(t *testing.T) {
	cfg := &Config{Port: 8080, History: HistoryConfig{StorageTTL: "forever"}}
	warnings, err := ValidateConfig(cfg)
	require.NoError(t, err)
	assert.Len(t, warnings, 2, "expected empty api key and invalid duration warnings: %v", warnings)

	cfg.Gemini.APIKey = "key"
	cfg.History.StorageTTL = ""
	warnings, err = ValidateConfig(cfg)
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestValidateConfig_RejectsUnknownModes(t *testing.T) {
	zero := 0
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "backend", cfg: Config{Port: 8080, Gemini: GeminiConfig{Backend: "grpc"}}},
		{name: "auth", cfg: Config{Port: 8080, Gemini: GeminiConfig{Auth: "oauth"}}},
		{name: "adc with sdk", cfg: Config{Port: 8080, Gemini: GeminiConfig{Backend: "sdk", Auth: "adc"}}},
		{name: "tts mode", cfg: Config{Port: 8080, TTS: TTSConfig{Mode: "streaming"}}},
		{name: "tts chunk", cfg: Config{Port: 8080, TTS: TTSConfig{MaxChunkLength: &zero}}},
		{name: "tls without cert", cfg: Config{Port: 8080, TLS: TLSConfig{Enable: true}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateConfig(&tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	env := map[string]string{
		"GOOGLE_API_KEY": "from-env",
		"PORT":           "9200",
		"STORAGE_DRIVER": "redis",
		"REDIS_URL":      "redis:6379",
	}
	lookup := func(keys ...string) (string, bool) {
		for _, k := range keys {
			if v, ok := env[k]; ok {
				return v, true
			}
		}
		return "", false
	}

	cfg := &Config{Port: 8080, Gemini: GeminiConfig{APIKey: "from-file"}}
	ApplyEnvOverrides(cfg, lookup)

	assert.Equal(t, "from-env", cfg.Gemini.APIKey)
	assert.Equal(t, 9200, cfg.Port)
	assert.Equal(t, StorageRedis, cfg.Storage.GetDriver())
	assert.Equal(t, "redis:6379", cfg.Storage.Redis.Addr)
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("port: 8080\n"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	require.NoError(t, Watch(ctx, configPath, func(cfg *Config) { reloaded <- cfg }))

	require.NoError(t, os.WriteFile(configPath, []byte("port: 8080\nlog-level: debug\n"), 0644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "debug", cfg.LogLevel)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not observed")
	}
}
