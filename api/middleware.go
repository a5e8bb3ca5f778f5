package api

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// GzipRequestMiddleware lets clients post gzip-compressed item payloads.
// The body is swapped for its decompressed stream before the handler's
// sonic decoder sees it; an invalid gzip payload is a 400.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !requestIsGzipped(req) {
				return next(c)
			}

			raw := req.Body
			gr, err := gzip.NewReader(raw)
			if err != nil {
				_ = raw.Close()
				return echo.NewHTTPError(http.StatusBadRequest, "invalid gzip body")
			}

			req.Body = &decompressedBody{reader: gr, raw: raw}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)

			return next(c)
		}
	}
}

func requestIsGzipped(req *http.Request) bool {
	for _, enc := range strings.Split(req.Header.Get(echo.HeaderContentEncoding), ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

// decompressedBody closes both the gzip reader and the wire body it wraps.
type decompressedBody struct {
	reader *gzip.Reader
	raw    io.Closer
}

func (b *decompressedBody) Read(p []byte) (int, error) {
	return b.reader.Read(p)
}

func (b *decompressedBody) Close() error {
	err := b.reader.Close()
	if cerr := b.raw.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
