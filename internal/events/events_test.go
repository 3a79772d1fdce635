package events

import (
	"bytes"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalWireShapes(t *testing.T) {
	cases := []struct {
		ev   Event
		want string
	}{
		{Thinking{Content: "hmm"}, `{"type":"thinking","content":"hmm"}`},
		{Code{Content: "print(1)", Language: "python"}, `{"type":"code","content":"print(1)","language":"python"}`},
		{CodeResult{Content: "1"}, `{"type":"codeResult","content":"1"}`},
		{Search{Content: "Searching: go"}, `{"type":"search","content":"Searching: go"}`},
		{Text{Content: "Hello "}, `{"type":"text","content":"Hello "}`},
		{TTSLoading{Content: "Generating audio..."}, `{"type":"ttsLoading","content":"Generating audio..."}`},
		{TTSChunkInfo{TotalChunks: 3, TotalLength: 2000}, `{"type":"ttsChunkInfo","totalChunks":3,"totalLength":2000}`},
		{AudioChunk{AudioData: []byte("abc"), ChunkIndex: 2, TotalChunks: 3, IsLastChunk: true}, `{"type":"audioChunk","audioData":"YWJj","chunkIndex":2,"totalChunks":3,"isLastChunk":true}`},
		{Audio{AudioData: []byte("abc")}, `{"type":"audio","audioData":"YWJj"}`},
		{TTSError{Content: "no audio"}, `{"type":"ttsError","content":"no audio"}`},
		{Complete{}, `{"type":"complete"}`},
		{Error{Content: "boom"}, `{"type":"error","content":"boom"}`},
	}
	for _, tc := range cases {
		t.Run(tc.ev.Type(), func(t *testing.T) {
			got, err := Marshal(tc.ev)
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(got))

			back, err := Parse(got)
			require.NoError(t, err)
			assert.Equal(t, tc.ev, back)
		})
	}
}

func TestMarshalEscapes(t *testing.T) {
	got, err := Marshal(Text{Content: "line\n\"quoted\""})
	require.NoError(t, err)
	assert.Equal(t, `{"type":"text","content":"line\n\"quoted\""}`, string(got))
}

func TestParseRejectsUnknown(t *testing.T) {
	_, err := Parse([]byte(`{"type":"nope"}`))
	assert.Error(t, err)
	_, err = Parse([]byte(`not json`))
	assert.Error(t, err)
}

func TestSSEWriterFramesAndFlushes(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewSSEWriter(rec)
	require.NoError(t, w.Emit(Text{Content: "a"}))
	require.NoError(t, w.Emit(Complete{}))

	assert.True(t, rec.Flushed)
	assert.Equal(t, "data: {\"type\":\"text\",\"content\":\"a\"}\n\ndata: {\"type\":\"complete\"}\n\n", rec.Body.String())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestSSEWriterPropagatesWriteError(t *testing.T) {
	w := NewSSEWriter(failingWriter{})
	assert.Error(t, w.Emit(Complete{}))

	var buf bytes.Buffer
	plain := NewSSEWriter(&buf)
	require.NoError(t, plain.Emit(Error{Content: "x"}))
	assert.True(t, strings.HasSuffix(buf.String(), "\n\n"))
}

func TestCollectorFailAfter(t *testing.T) {
	c := &Collector{FailAfter: 1}
	require.NoError(t, c.Emit(Text{Content: "a"}))
	assert.Error(t, c.Emit(Text{Content: "b"}))
	assert.Equal(t, []string{TypeText}, c.Types())
}
