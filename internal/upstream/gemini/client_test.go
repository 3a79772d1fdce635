package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/router-for-me/chatrelay/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func collect(t *testing.T, ch <-chan upstream.StreamChunk) ([]upstream.Fragment, error) {
	t.Helper()
	var frags []upstream.Fragment
	for chunk := range ch {
		if chunk.Err != nil {
			return frags, chunk.Err
		}
		frags = append(frags, chunk.Fragment)
	}
	return frags, nil
}

func sseServer(t *testing.T, lines []string, capture *[]byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if capture != nil {
			*capture, _ = io.ReadAll(r.Body)
		}
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
		assert.True(t, strings.HasSuffix(r.URL.Path, ":streamGenerateContent"), r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			_, _ = fmt.Fprintf(w, "data: %s\r\n\r\n", line)
		}
	}))
}

func TestGenerateStreamClassifiesParts(t *testing.T) {
	lines := []string{
		`{"candidates":[{"content":{"parts":[{"text":"Considering","thought":true}]}}]}`,
		`{"candidates":[{"content":{"parts":[{"executableCode":{"language":"PYTHON","code":"print(1)"}}]}}]}`,
		`{"candidates":[{"content":{"parts":[{"codeExecutionResult":{"outcome":"OUTCOME_OK","output":"1\n"}}]}}]}`,
		`{"candidates":[{"content":{"parts":[{"text":"The answer is 1."}]},"groundingMetadata":{"webSearchQueries":["one"]}}]}`,
		`{"candidates":[{"content":{"parts":[{"text":" Done."}]},"groundingMetadata":{"webSearchQueries":["one","two"]}}],"usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":7}}`,
	}
	var captured []byte
	srv := sseServer(t, lines, &captured)
	defer srv.Close()

	c := NewWithHTTPClient(srv.URL, "test-key", srv.Client())
	ch, err := c.GenerateStream(context.Background(), upstream.GenerateRequest{
		Turns:           []upstream.Turn{upstream.UserText("hi")},
		IncludeThoughts: true,
		CodeExecution:   true,
		Search:          true,
	})
	require.NoError(t, err)
	frags, err := collect(t, ch)
	require.NoError(t, err)

	require.Len(t, frags, 7)
	assert.Equal(t, upstream.Fragment{Kind: upstream.FragmentThought, Text: "Considering"}, frags[0])
	assert.Equal(t, upstream.Fragment{Kind: upstream.FragmentCode, Text: "print(1)", Language: "python"}, frags[1])
	assert.Equal(t, upstream.Fragment{Kind: upstream.FragmentCodeResult, Text: "1\n"}, frags[2])
	assert.Equal(t, upstream.Fragment{Kind: upstream.FragmentText, Text: "The answer is 1."}, frags[3])
	assert.Equal(t, upstream.Fragment{Kind: upstream.FragmentSearch, Queries: []string{"one"}}, frags[4])
	assert.Equal(t, upstream.Fragment{Kind: upstream.FragmentText, Text: " Done."}, frags[5])
	assert.Equal(t, upstream.Fragment{Kind: upstream.FragmentSearch, Queries: []string{"two"}}, frags[6])

	assert.True(t, gjson.GetBytes(captured, "generationConfig.thinkingConfig.includeThoughts").Bool())
	assert.Equal(t, `[{"codeExecution":{}},{"googleSearch":{}}]`, gjson.GetBytes(captured, "tools").Raw)
	assert.Equal(t, "hi", gjson.GetBytes(captured, "contents.0.parts.0.text").String())
}

func TestGenerateStreamErrorPayloadEndsStream(t *testing.T) {
	srv := sseServer(t, []string{
		`{"candidates":[{"content":{"parts":[{"text":"partial"}]}}]}`,
		`{"error":{"code":429,"message":"quota exhausted"}}`,
		`{"candidates":[{"content":{"parts":[{"text":"never"}]}}]}`,
	}, nil)
	defer srv.Close()

	c := NewWithHTTPClient(srv.URL, "test-key", srv.Client())
	ch, err := c.GenerateStream(context.Background(), upstream.GenerateRequest{Turns: []upstream.Turn{upstream.UserText("hi")}})
	require.NoError(t, err)
	frags, err := collect(t, ch)
	require.Error(t, err)
	assert.Len(t, frags, 1)

	var se upstream.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 429, se.Code)
	assert.Equal(t, "quota exhausted", se.Msg)
}

func TestGenerateStreamNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"code":400,"message":"API key not valid"}}`)
	}))
	defer srv.Close()

	c := NewWithHTTPClient(srv.URL, "bad", srv.Client())
	_, err := c.GenerateStream(context.Background(), upstream.GenerateRequest{Turns: []upstream.Turn{upstream.UserText("hi")}})
	require.Error(t, err)
	var se upstream.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.StatusCode())
	assert.Equal(t, "API key not valid", se.Msg)
}

func TestTranscribe(t *testing.T) {
	var captured []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = io.ReadAll(r.Body)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/models/gemini-2.5-flash:generateContent"), r.URL.Path)
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"hmm","thought":true},{"text":"  what time is it  "}]}}]}`)
	}))
	defer srv.Close()

	c := NewWithHTTPClient(srv.URL, "test-key", srv.Client())
	text, err := c.Transcribe(context.Background(), upstream.Blob{MIMEType: "audio/webm", Data: []byte{1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, "what time is it", text)

	assert.Equal(t, upstream.TranscriptionPrompt, gjson.GetBytes(captured, "contents.0.parts.0.text").String())
	assert.Equal(t, "audio/webm", gjson.GetBytes(captured, "contents.0.parts.1.inlineData.mimeType").String())
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), gjson.GetBytes(captured, "contents.0.parts.1.inlineData.data").String())
	assert.Equal(t, `[{"googleSearch":{}}]`, gjson.GetBytes(captured, "tools").Raw)
	assert.Equal(t, int64(0), gjson.GetBytes(captured, "generationConfig.thinkingConfig.thinkingBudget").Int())
}

func TestSynthesizeWrapsPCM(t *testing.T) {
	pcm := []byte{0, 1, 2, 3}
	var captured []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = io.ReadAll(r.Body)
		_, _ = fmt.Fprintf(w, `{"candidates":[{"content":{"parts":[{"inlineData":{"mimeType":"audio/L16;codec=pcm;rate=24000","data":%q}}]}}]}`,
			base64.StdEncoding.EncodeToString(pcm))
	}))
	defer srv.Close()

	c := NewWithHTTPClient(srv.URL, "test-key", srv.Client())
	audio, err := c.Synthesize(context.Background(), "Hello there.", "")
	require.NoError(t, err)
	assert.Equal(t, "audio/wav", audio.MIMEType)
	require.Len(t, audio.Data, 44+len(pcm))
	assert.Equal(t, "RIFF", string(audio.Data[:4]))
	assert.Equal(t, pcm, audio.Data[44:])

	assert.Equal(t, "Kore", gjson.GetBytes(captured, "generationConfig.speechConfig.voiceConfig.prebuiltVoiceConfig.voiceName").String())
	assert.Equal(t, `["AUDIO"]`, gjson.GetBytes(captured, "generationConfig.responseModalities").Raw)
}

func TestSynthesizeWithoutAudioFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"no audio"}]}}]}`)
	}))
	defer srv.Close()

	c := NewWithHTTPClient(srv.URL, "test-key", srv.Client())
	_, err := c.Synthesize(context.Background(), "Hello.", "Puck")
	require.Error(t, err)
}

func TestBuildGenerateBodyAudioTurn(t *testing.T) {
	body := buildGenerateBody(upstream.GenerateRequest{Turns: []upstream.Turn{
		upstream.UserText("instructions"),
		upstream.ModelText("ok"),
		{Role: upstream.RoleUser, Audio: &upstream.Blob{MIMEType: "audio/ogg", Data: []byte("x")}},
	}})
	assert.Equal(t, "model", gjson.GetBytes(body, "contents.1.role").String())
	assert.Equal(t, "audio/ogg", gjson.GetBytes(body, "contents.2.parts.0.inlineData.mimeType").String())
	assert.False(t, gjson.GetBytes(body, "tools").Exists())
	assert.False(t, gjson.GetBytes(body, "generationConfig").Exists())
}

func TestJSONPayload(t *testing.T) {
	assert.Nil(t, jsonPayload([]byte("")))
	assert.Nil(t, jsonPayload([]byte(": keep-alive")))
	assert.Nil(t, jsonPayload([]byte("event: message")))
	assert.Nil(t, jsonPayload([]byte("data: [DONE]")))
	assert.Equal(t, `{"a":1}`, string(jsonPayload([]byte(`data: {"a":1}`))))
	assert.Equal(t, `{"a":1}`, string(jsonPayload([]byte(`data:{"a":1}`))))
}
