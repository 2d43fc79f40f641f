package proxy

import (
	"net/http"
)

// upstreamWriter lets upstream response headers replace the ones earlier
// stages already set. Headers the upstream does not send are kept.
type upstreamWriter struct {
	http.ResponseWriter
	header http.Header
	wrote  bool
}

func newUpstreamWriter(w http.ResponseWriter) *upstreamWriter {
	return &upstreamWriter{ResponseWriter: w, header: make(http.Header)}
}

// Header returns the upstream header map until the status is written, then
// the real one so trailers still reach the client
func (u *upstreamWriter) Header() http.Header {
	if u.wrote {
		return u.ResponseWriter.Header()
	}
	return u.header
}

func (u *upstreamWriter) WriteHeader(code int) {
	if u.wrote {
		u.ResponseWriter.WriteHeader(code)
		return
	}

	dst := u.ResponseWriter.Header()
	if code >= 100 && code < 200 && code != http.StatusSwitchingProtocols {
		u.writeInformational(dst, code)
		return
	}

	for k, v := range u.header {
		dst[k] = v
	}
	u.wrote = true
	u.ResponseWriter.WriteHeader(code)
}

// writeInformational sends a 1xx with the upstream headers and leaves the
// final response headers as they were
func (u *upstreamWriter) writeInformational(dst http.Header, code int) {
	saved := make(http.Header, len(u.header))
	for k, v := range u.header {
		if prev, ok := dst[k]; ok {
			saved[k] = prev
		}
		dst[k] = v
	}
	u.ResponseWriter.WriteHeader(code)
	for k := range u.header {
		if prev, ok := saved[k]; ok {
			dst[k] = prev
		} else {
			delete(dst, k)
		}
	}
}

func (u *upstreamWriter) Write(b []byte) (int, error) {
	if !u.wrote {
		u.WriteHeader(http.StatusOK)
	}
	return u.ResponseWriter.Write(b)
}

// Unwrap exposes the underlying writer to http.ResponseController
func (u *upstreamWriter) Unwrap() http.ResponseWriter {
	return u.ResponseWriter
}
