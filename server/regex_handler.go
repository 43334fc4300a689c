package server

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
)

// A RegexpHandler routes requests by matching the URL path against an
// ordered list of regular expressions. Routes are tried in registration
// order, so literal paths like /v1/bookings/accept must be registered before
// the wildcard booking route that would also match them.
type RegexpHandler struct {
	routes []*route
}

type route struct {
	pattern *regexp.Regexp
	methods []string
	handler http.Handler
}

// Handler registers h for requests whose path matches pattern and whose
// method is one of methods.
func (rh *RegexpHandler) Handler(pattern *regexp.Regexp, methods []string, h http.Handler) {
	rh.routes = append(rh.routes, &route{
		pattern: pattern,
		methods: methods,
		handler: h,
	})
}

// HandleFunc registers a handler function for the given pattern and methods.
func (rh *RegexpHandler) HandleFunc(pattern *regexp.Regexp, methods []string, f func(http.ResponseWriter, *http.Request)) {
	rh.Handler(pattern, methods, http.HandlerFunc(f))
}

// ServeHTTP dispatches to the first route whose pattern matches the path. A
// path match with the wrong method is a 405 (or the Allow header for
// OPTIONS); no match at all is a 404. Both error bodies are problem JSON.
func (rh *RegexpHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for _, route := range rh.routes {
		if !route.pattern.MatchString(r.URL.Path) {
			continue
		}
		upperMethod := strings.ToUpper(r.Method)
		for _, method := range route.methods {
			if strings.ToUpper(method) == upperMethod {
				route.handler.ServeHTTP(w, r)
				return
			}
		}
		if upperMethod == "OPTIONS" {
			w.Header().Set("Allow", strings.Join(append(route.methods, "OPTIONS"), ", "))
		} else {
			w.WriteHeader(http.StatusMethodNotAllowed)
			json.NewEncoder(w).Encode(new405(r))
		}
		return
	}
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(new404(r))
}
