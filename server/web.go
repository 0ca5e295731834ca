package server

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/janelia-flyem/NeuroProof-sub000/np"
	"github.com/zenazn/goji/web"
	"github.com/zenazn/goji/web/middleware"
)

func httpError(w http.ResponseWriter, r *http.Request, status int, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	np.Errorf("%s %s (%d): %s\n", r.Method, r.URL.Path, status, msg)
	http.Error(w, msg, status)
}

// BadRequest writes a 400 with the formatted message and logs it.
func BadRequest(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	httpError(w, r, http.StatusBadRequest, format, args...)
}

// Unauthorized writes a 401.
func Unauthorized(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	httpError(w, r, http.StatusUnauthorized, format, args...)
}

// NotFound writes a 404.
func NotFound(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	httpError(w, r, http.StatusNotFound, format, args...)
}

// Unavailable writes a 503 for requests that may succeed when retried.
func Unavailable(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	httpError(w, r, http.StatusServiceUnavailable, format, args...)
}

// ServerError writes a 500.
func ServerError(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	httpError(w, r, http.StatusInternalServerError, format, args...)
}

func logRequests(c *web.C, h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		t0 := time.Now()
		h.ServeHTTP(w, r)
		np.Debugf("[%s] %s %s (%s)\n", middleware.GetReqID(*c), r.Method, r.URL.Path, time.Since(t0))
	}
	return http.HandlerFunc(fn)
}

// recoverPanics turns a panic in a handler into a 500.  Graph violations panic
// so a malformed request must not take the server down.
func recoverPanics(c *web.C, h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				np.Criticalf("[%s] panic serving %s: %v\n%s", middleware.GetReqID(*c), r.URL.Path, err, debug.Stack())
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		h.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}
