package pipeline

import (
	"net/http"
)

// Outcome is the result of running one stage
type Outcome struct {
	respond bool
	request *http.Request
}

// Continue passes the unchanged request to the next stage
func Continue() Outcome {
	return Outcome{}
}

// ContinueWith passes r to the next stage in place of the original request
func ContinueWith(r *http.Request) Outcome {
	return Outcome{request: r}
}

// Respond ends the chain; the stage has written the response
func Respond() Outcome {
	return Outcome{respond: true}
}

// Responded reports whether the stage produced the response
func (o Outcome) Responded() bool {
	return o.respond
}

// Request returns the request for the next stage, falling back to r
func (o Outcome) Request(r *http.Request) *http.Request {
	if o.request != nil {
		return o.request
	}
	return r
}

// Handler is one stage of the pipeline
type Handler interface {
	Handle(w http.ResponseWriter, r *http.Request) Outcome
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(w http.ResponseWriter, r *http.Request) Outcome

// Handle calls f(w, r)
func (f HandlerFunc) Handle(w http.ResponseWriter, r *http.Request) Outcome {
	return f(w, r)
}

// Wrapper is implemented by stages that must wrap everything downstream of
// them, such as response compression. The pipeline prefers Wrap over Handle.
type Wrapper interface {
	Wrap(next http.Handler) http.Handler
}

// FromMiddleware adapts a func(http.Handler) http.Handler middleware into a
// stage. Inside a pipeline it wraps the rest of the chain.
func FromMiddleware(mw func(http.Handler) http.Handler) Handler {
	return middlewareStage{mw: mw}
}

type middlewareStage struct {
	mw func(http.Handler) http.Handler
}

func (s middlewareStage) Wrap(next http.Handler) http.Handler {
	return s.mw(next)
}

// Handle runs the middleware against a terminal that records whether it was
// reached. Used when the stage runs outside a composed pipeline.
func (s middlewareStage) Handle(w http.ResponseWriter, r *http.Request) Outcome {
	out := Respond()
	s.mw(http.HandlerFunc(func(_ http.ResponseWriter, next *http.Request) {
		out = ContinueWith(next)
	})).ServeHTTP(w, r)
	return out
}

// FromHTTP adapts a plain http.Handler. It always responds.
func FromHTTP(h http.Handler) Handler {
	return HandlerFunc(func(w http.ResponseWriter, r *http.Request) Outcome {
		h.ServeHTTP(w, r)
		return Respond()
	})
}
