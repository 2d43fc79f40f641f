package middleware

import (
	"errors"
	"io"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzip"

	"devserver/internal/pipeline"
)

// ErrBrotliUnsupported is returned when brotli encoding is requested
var ErrBrotliUnsupported = errors.New("compression: brotli encoding is not available")

// CompressionLevel is the gzip level used for dev responses
const CompressionLevel = gzip.DefaultCompression

// Compression returns the response compression stage. It wraps every stage
// after it so their output is encoded according to Accept-Encoding.
func Compression(opts pipeline.CompressionOptions) (pipeline.Handler, error) {
	if opts.Brotli {
		return nil, ErrBrotliUnsupported
	}
	if !opts.Gzip {
		return nil, errors.New("compression: no encoding enabled")
	}

	c := middleware.NewCompressor(CompressionLevel)
	c.SetEncoder("gzip", encoderGzip)

	return pipeline.FromMiddleware(c.Handler), nil
}

func encoderGzip(w io.Writer, level int) io.Writer {
	gw, err := gzip.NewWriterLevel(w, level)
	if err != nil {
		return nil
	}
	return gw
}
