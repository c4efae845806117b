package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/newrelic/go-agent/v3/newrelic"
)

// NewRelicMiddleware names each transaction after its chi route pattern.
// Paths in skip are not instrumented.
func NewRelicMiddleware(app *newrelic.Application, skip ...string) func(http.Handler) http.Handler {
	skipped := make(map[string]bool, len(skip))
	for _, p := range skip {
		skipped[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if app == nil || skipped[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			txn := app.StartTransaction(r.Method + " " + r.URL.Path)
			defer func() {
				// The route pattern is only known after chi has routed the request.
				if rctx := chi.RouteContext(r.Context()); rctx != nil {
					if pattern := rctx.RoutePattern(); pattern != "" {
						txn.SetName(r.Method + " " + pattern)
					}
				}
				txn.End()
			}()

			txn.SetWebRequestHTTP(r)
			if reqID := middleware.GetReqID(r.Context()); reqID != "" {
				txn.AddAttribute("request.id", reqID)
			}
			w = txn.SetWebResponse(w)

			r = newrelic.RequestWithTransactionContext(r, txn)
			next.ServeHTTP(w, r)
		})
	}
}
