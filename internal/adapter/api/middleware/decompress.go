package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Decompress is a middleware factory that transparently decodes gzip and
// zstd request bodies. Other encodings are refused with 415.
func Decompress(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			encoding := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Encoding")))

			var body io.ReadCloser
			switch encoding {
			case "", "identity":
				next.ServeHTTP(w, r)
				return
			case "gzip", "x-gzip":
				zr, err := gzip.NewReader(r.Body)
				if err != nil {
					logger.Warn("invalid gzip body", "error", err)
					writeJSONError(w, http.StatusBadRequest, "Invalid gzip body")
					return
				}
				body = zr
			case "zstd":
				zr, err := zstd.NewReader(r.Body)
				if err != nil {
					logger.Warn("invalid zstd body", "error", err)
					writeJSONError(w, http.StatusBadRequest, "Invalid zstd body")
					return
				}
				body = zr.IOReadCloser()
			default:
				writeJSONError(w, http.StatusUnsupportedMediaType, "Unsupported Content-Encoding")
				return
			}
			defer body.Close()

			r.Body = body
			r.Header.Del("Content-Encoding")
			r.Header.Del("Content-Length")
			r.ContentLength = -1
			next.ServeHTTP(w, r)
		})
	}
}
