package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePayload = `{"message":"hello","sessionId":"abc"}`

func echoEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/echo", RequestDecompressionMiddleware(), func(c *gin.Context) {
		body, _ := io.ReadAll(c.Request.Body)
		c.Header("X-Encoding-Seen", c.GetHeader("Content-Encoding"))
		c.Data(http.StatusOK, "application/json", body)
	})
	return r
}

func compress(t *testing.T, enc string, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	switch enc {
	case "gzip":
		w := gzip.NewWriter(&buf)
		_, err := w.Write(payload)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	case "zstd":
		w, err := zstd.NewWriter(&buf)
		require.NoError(t, err)
		_, err = w.Write(payload)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	case "br":
		w := brotli.NewWriter(&buf)
		_, err := w.Write(payload)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	default:
		t.Fatalf("unknown encoding %s", enc)
	}
	return buf.Bytes()
}

func TestRequestDecompression(t *testing.T) {
	r := echoEngine()
	for _, enc := range []string{"gzip", "zstd", "br"} {
		t.Run(enc, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewReader(compress(t, enc, []byte(samplePayload))))
			req.Header.Set("Content-Encoding", enc)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, samplePayload, rec.Body.String())
			assert.Empty(t, rec.Header().Get("X-Encoding-Seen"))
		})
	}
}

func TestRequestDecompressionPassthrough(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewReader([]byte(samplePayload)))
	rec := httptest.NewRecorder()
	echoEngine().ServeHTTP(rec, req)
	assert.Equal(t, samplePayload, rec.Body.String())
}

func TestRequestDecompressionRejects(t *testing.T) {
	r := echoEngine()

	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewReader([]byte("x")))
	req.Header.Set("Content-Encoding", "compress")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/echo", bytes.NewReader([]byte("not gzip")))
	req.Header.Set("Content-Encoding", "gzip")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
