// Package server provides the HTTP interface for the booking lifecycle
// engine.
package server

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/http/httputil"
	"net/http/pprof"
	"os"
	"regexp"
	"strings"

	metrics "github.com/Shyp/go-simple-metrics"
	"github.com/lingora/booking/config"
	"github.com/lingora/booking/services"
)

// The maximum data size that can be sent in the body of a HTTP request.
const MAX_REQUEST_DATA_SIZE = 100 * 1024

var disallowUnencryptedRequests = true

// GET/POST /v1/bookings
var bookingsRoute = regexp.MustCompile(`^/v1/bookings$`)

// POST /v1/bookings/email
var emailBookingRoute = regexp.MustCompile(`^/v1/bookings/email$`)

// GET /v1/bookings/history
var historyRoute = regexp.MustCompile(`^/v1/bookings/history$`)

// GET /v1/bookings/potential
var potentialRoute = regexp.MustCompile(`^/v1/bookings/potential$`)

// POST /v1/bookings/accept (booking id in the request body)
var acceptRoute = regexp.MustCompile(`^/v1/bookings/accept$`)

// GET/PUT /v1/bookings/job_123
//
// Must go after the literal /v1/bookings/* routes.
var bookingRoute = regexp.MustCompile(`^/v1/bookings/(?P<id>job_[^\s\/]+)$`)

// POST /v1/bookings/job_123/:action
var actionRoute = regexp.MustCompile(`^/v1/bookings/(?P<id>job_[^\s\/]+)/(?P<action>accept|start|cancel|end|reopen|not-call|distance)$`)

// POST /v1/bookings/job_123/notifications/:channel
var resendRoute = regexp.MustCompile(`^/v1/bookings/(?P<id>job_[^\s\/]+)/notifications/(?P<channel>push|sms)$`)

// Get returns a http.Handler with all routes initialized using the given
// Authorizer and lifecycle engine.
func Get(a Authorizer, engine *services.Engine) http.Handler {
	h := new(RegexpHandler)

	h.Handler(bookingsRoute, []string{"GET"}, authHandler(listBookings(a), a))
	h.Handler(bookingsRoute, []string{"POST"}, authHandler(createBooking(engine), a))
	h.Handler(emailBookingRoute, []string{"POST"}, authHandler(createBookingEmail(engine), a))
	h.Handler(historyRoute, []string{"GET"}, authHandler(bookingsHistory(), a))
	h.Handler(potentialRoute, []string{"GET"}, authHandler(potentialBookings(engine), a))
	h.Handler(acceptRoute, []string{"POST"}, authHandler(acceptBooking(engine), a))

	h.Handler(bookingRoute, []string{"GET"}, authHandler(getBooking(), a))
	h.Handler(bookingRoute, []string{"PUT", "POST"}, authHandler(updateBooking(engine), a))

	h.Handler(actionRoute, []string{"POST"}, authHandler(bookingAction(engine), a))
	h.Handler(resendRoute, []string{"POST"}, authHandler(resendNotification(engine), a))

	h.Handler(regexp.MustCompile("^/debug/pprof$"), []string{"GET"}, authHandler(http.HandlerFunc(pprof.Index), a))
	h.Handler(regexp.MustCompile("^/debug/pprof/cmdline$"), []string{"GET"}, authHandler(http.HandlerFunc(pprof.Cmdline), a))
	h.Handler(regexp.MustCompile("^/debug/pprof/profile$"), []string{"GET"}, authHandler(http.HandlerFunc(pprof.Profile), a))
	h.Handler(regexp.MustCompile("^/debug/pprof/symbol$"), []string{"GET"}, authHandler(http.HandlerFunc(pprof.Symbol), a))
	h.Handler(regexp.MustCompile("^/debug/pprof/trace$"), []string{"GET"}, authHandler(http.HandlerFunc(pprof.Trace), a))

	h.Handler(regexp.MustCompile("^/$"), []string{"GET"}, authHandler(http.HandlerFunc(renderHomepage), a))

	return debugRequestBodyHandler(
		serverHeaderHandler(
			forbidNonTLSTrafficHandler(
				limitRequestSizeHandler(h),
			),
		),
	)
}

// limitRequestSizeHandler caps how much of a request body a handler will
// read. A body larger than MAX_REQUEST_DATA_SIZE fails the handler's JSON
// decode and comes back as a 400.
func limitRequestSizeHandler(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, MAX_REQUEST_DATA_SIZE)
		}
		h.ServeHTTP(w, r)
	})
}

func init() {
	disallowUnencryptedRequests = os.Getenv("ALLOW_UNENCRYPTED_PROXY_TRAFFIC") != "true"
}

func serverHeaderHandler(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// hack, figure out how to put middleware on a subset of responses
		if strings.Contains(r.URL.Path, "/debug/pprof") {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		} else if r.URL.Path == "/" {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
		} else {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
		}
		w.Header().Set("Server", fmt.Sprintf("booking/%s", config.Version))
		h.ServeHTTP(w, r)
	})
}

// forbidNonTLSTrafficHandler returns a 403 to traffic that is sent via a proxy
func forbidNonTLSTrafficHandler(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if disallowUnencryptedRequests == true {
			if r.Header.Get("X-Forwarded-Proto") == "http" {
				// It should always be set, but if it's not, let the request
				// through.
				forbidden(w, insecure403(r))
				return
			}
		}
		// This header doesn't mean anything when served over HTTP, but
		// detecting HTTPS is a general way is hard, so let's just send it
		// every time.
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
		h.ServeHTTP(w, r)
	})
}

func authHandler(h http.Handler, a Authorizer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userId, token, ok := r.BasicAuth()
		if !ok {
			authenticate(w, new401(r))
			return
		}
		err := a.Authorize(userId, token)
		if err != nil {
			metrics.Increment("auth.error")
			handleAuthorizeError(w, r, err)
			return
		}
		metrics.Increment("auth.success")
		h.ServeHTTP(w, r)
	})
}

// actingUser returns the authenticated caller's user id. The authHandler has
// already rejected requests without credentials.
func actingUser(r *http.Request) string {
	userId, _, _ := r.BasicAuth()
	return userId
}

// debugRequestBodyHandler prints all incoming and outgoing HTTP traffic if the
// DEBUG_HTTP_TRAFFIC environment variable is set to true. Note that the output
// will be jumbled if the server is handling multiple requests at the same
// time.
func debugRequestBodyHandler(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if os.Getenv("DEBUG_HTTP_TRAFFIC") == "true" {
			// You need to write the entire thing in one Write, otherwise the
			// output will be jumbled with other requests.
			b := new(bytes.Buffer)
			bits, err := httputil.DumpRequest(r, true)
			if err != nil {
				_, _ = b.WriteString(err.Error())
			} else {
				_, _ = b.Write(bits)
			}
			res := httptest.NewRecorder()
			h.ServeHTTP(res, r)

			_, _ = b.WriteString(fmt.Sprintf("HTTP/1.1 %d\r\n", res.Code))
			for k, v := range res.Header() {
				w.Header()[k] = v
			}
			w.WriteHeader(res.Code)
			_, _ = b.WriteString("\r\n")
			writer := io.MultiWriter(w, b)
			_, _ = res.Body.WriteTo(writer)
			_, _ = b.WriteTo(os.Stderr)
		} else {
			h.ServeHTTP(w, r)
		}
	})
}
