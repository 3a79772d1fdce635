package main

import (
	"context"
	"testing"

	"github.com/router-for-me/chatrelay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupEnvSkipsBlankValues(t *testing.T) {
	t.Setenv("CHATRELAY_TEST_A", "   ")
	t.Setenv("CHATRELAY_TEST_B", " value ")

	v, ok := lookupEnv("CHATRELAY_TEST_MISSING", "CHATRELAY_TEST_A", "CHATRELAY_TEST_B")
	assert.True(t, ok)
	assert.Equal(t, "value", v)

	_, ok = lookupEnv("CHATRELAY_TEST_MISSING", "CHATRELAY_TEST_A")
	assert.False(t, ok)
}

func TestNewProviderFollowsBackend(t *testing.T) {
	cfg := &config.Config{Gemini: config.GeminiConfig{APIKey: "k"}}
	p, err := newProvider(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "gemini-rest", p.Name())

	cfg.Gemini.Backend = config.BackendSDK
	p, err = newProvider(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "gemini-sdk", p.Name())
}
