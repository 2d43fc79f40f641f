package middleware

import (
	"net/http"

	"devserver/internal/pipeline"
)

// FaviconPath is answered with an empty response when nothing else served it
const FaviconPath = "/favicon.ico"

// FaviconFallback answers /favicon.ico with 204 so browsers stop asking
var FaviconFallback pipeline.Handler = pipeline.HandlerFunc(func(w http.ResponseWriter, r *http.Request) pipeline.Outcome {
	if r.URL.Path != FaviconPath {
		return pipeline.Continue()
	}
	w.WriteHeader(http.StatusNoContent)
	return pipeline.Respond()
})
