package server

import (
	"net/http"
	"regexp"
)

func ExampleRegexpHandler() {
	// GET /v1/bookings/:booking-id
	route := regexp.MustCompile(`^/v1/bookings/(?P<id>[^\s\/]+)$`)

	h := new(RegexpHandler)
	h.HandleFunc(route, []string{"GET", "POST"}, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Hello World!"))
	})
}
