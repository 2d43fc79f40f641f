package pipeline

import (
	"net/http"
	"strings"

	"devserver/internal/config"
)

const allowCredentials = "Access-Control-Allow-Credentials"

// Headers returns the stage that opens CORS and applies the configured
// response headers. Hot-update paths never allow credentials, even when a
// configured header asks for it. It always continues.
func Headers(custom map[string]string) Handler {
	extra := make(map[string]string, len(custom))
	for k, v := range custom {
		extra[http.CanonicalHeaderKey(k)] = v
	}

	return HandlerFunc(func(w http.ResponseWriter, r *http.Request) Outcome {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")

		hotUpdate := strings.Contains(r.URL.Path, config.HotUpdateMarker)
		if hotUpdate {
			h.Set(allowCredentials, "false")
		}

		for k, v := range extra {
			if hotUpdate && k == allowCredentials {
				continue
			}
			h.Set(k, v)
		}
		return Continue()
	})
}
