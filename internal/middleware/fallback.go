package middleware

import (
	"net/http"
	"net/url"
	"strings"
)

var defaultHTMLAcceptHeaders = []string{"text/html", "*/*"}

// navigation reports whether r looks like a browser page load: GET or HEAD,
// an Accept header that does not lead with JSON and names one of accepted.
func navigation(r *http.Request, accepted []string) (bool, string) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false, "the method is not GET or HEAD"
	}
	accept := r.Header.Get("Accept")
	if accept == "" {
		return false, "the client did not send an HTTP accept header"
	}
	if strings.HasPrefix(accept, "application/json") {
		return false, "the client prefers JSON"
	}
	if len(accepted) == 0 {
		accepted = defaultHTMLAcceptHeaders
	}
	for _, a := range accepted {
		if strings.Contains(accept, a) {
			return true, ""
		}
	}
	return false, "the client does not accept HTML"
}

// rewriteRequest returns a copy of r addressed to target. A target without
// a query keeps the original one.
func rewriteRequest(r *http.Request, target string) *http.Request {
	u, err := url.Parse(target)
	if err != nil {
		u = &url.URL{Path: target}
	}

	r2 := r.Clone(r.Context())
	next := *r.URL
	next.Path = u.Path
	next.RawPath = ""
	if u.RawQuery != "" {
		next.RawQuery = u.RawQuery
	}
	r2.URL = &next
	r2.RequestURI = next.RequestURI()
	return r2
}
