package api

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// DefaultBodyLimit bounds a decoded mutation body. Move and reorder
// payloads are a few hundred bytes.
const DefaultBodyLimit int64 = 64 << 10

// BodyMiddleware buffers the request body before handlers run, inflating
// it first when it is gzip encoded. Corrupt gzip is answered with 400 and
// a body that decodes to more than limit bytes with 413, so a small
// compressed payload cannot expand without bound.
func BodyMiddleware(limit int64) echo.MiddlewareFunc {
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}
			gzipped := isGzip(req.Header.Get(echo.HeaderContentEncoding))
			data, err := readBody(req.Body, gzipped, limit)
			_ = req.Body.Close()
			switch {
			case errors.Is(err, errBodyTooLarge):
				return c.JSON(http.StatusRequestEntityTooLarge,
					errorResponse{Error: fmt.Sprintf("request body exceeds %d bytes", limit)})
			case err != nil && gzipped:
				return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid gzip body"})
			case err != nil:
				return c.JSON(http.StatusBadRequest, errorResponse{Error: "unreadable request body"})
			}
			req.Body = io.NopCloser(bytes.NewReader(data))
			req.ContentLength = int64(len(data))
			if gzipped {
				req.Header.Del(echo.HeaderContentEncoding)
			}
			return next(c)
		}
	}
}

var errBodyTooLarge = errors.New("request body too large")

func readBody(body io.Reader, gzipped bool, limit int64) ([]byte, error) {
	r := body
	if gzipped {
		zr, err := gzip.NewReader(body)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func isGzip(header string) bool {
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}
