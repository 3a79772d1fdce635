package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/zstd"
)

// maxDecompressedBytes caps decoded request bodies. Audio payloads stay well below it.
const maxDecompressedBytes = 64 << 20 // 64MiB

// RequestDecompressionMiddleware transparently decodes gzip, zstd and br request bodies.
//
// net/http does not decode request bodies, so handlers that expect JSON would
// otherwise see compressed bytes and fail with a confusing 400.
func RequestDecompressionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		enc := strings.ToLower(strings.TrimSpace(c.GetHeader("Content-Encoding")))
		if enc == "" || enc == "identity" {
			c.Next()
			return
		}

		reader, closeFn, err := decoderFor(enc, c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": gin.H{
					"message": "invalid " + enc + " request body",
					"type":    "invalid_request_error",
				},
			})
			return
		}
		if reader == nil {
			c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, gin.H{
				"error": gin.H{
					"message": "unsupported content encoding: " + enc,
					"type":    "invalid_request_error",
				},
			})
			return
		}
		defer closeFn()

		decoded, err := io.ReadAll(io.LimitReader(reader, maxDecompressedBytes+1))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": gin.H{
					"message": "failed to decompress request body",
					"type":    "invalid_request_error",
				},
			})
			return
		}
		if int64(len(decoded)) > maxDecompressedBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": gin.H{
					"message": "decompressed request body too large",
					"type":    "invalid_request_error",
				},
			})
			return
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(decoded))
		c.Request.ContentLength = int64(len(decoded))
		c.Request.Header.Del("Content-Encoding")
		c.Next()
	}
}

// decoderFor returns a reader for the encoding, or a nil reader when unsupported.
func decoderFor(enc string, body io.Reader) (io.Reader, func(), error) {
	switch enc {
	case "gzip", "x-gzip":
		gzr, err := gzip.NewReader(body)
		if err != nil {
			return nil, nil, err
		}
		return gzr, func() { _ = gzr.Close() }, nil
	case "zstd":
		zr, err := zstd.NewReader(body)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr.Close, nil
	case "br":
		return brotli.NewReader(body), func() {}, nil
	default:
		return nil, nil, nil
	}
}
