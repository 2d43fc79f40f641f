package pipeline

import (
	"net/http"
)

// Observer is told which stage produced a response
type Observer func(r *http.Request, stage Stage)

// Compose chains stages into one http.Handler. Requests no stage responds to
// reach notFound. A nil notFound answers 404.
func Compose(stages []Stage, notFound http.Handler, observe Observer) http.Handler {
	if notFound == nil {
		notFound = http.NotFoundHandler()
	}

	next := notFound
	for i := len(stages) - 1; i >= 0; i-- {
		next = link(stages[i], next, observe)
	}
	return next
}

func link(stage Stage, next http.Handler, observe Observer) http.Handler {
	if stage.Handler == nil {
		return next
	}
	if w, ok := stage.Handler.(Wrapper); ok {
		return w.Wrap(next)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out := stage.Handler.Handle(w, r)
		if out.Responded() {
			if observe != nil {
				observe(r, stage)
			}
			return
		}
		next.ServeHTTP(w, out.Request(r))
	})
}
