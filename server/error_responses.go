// Helpers for building various types of error responses.

package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	dberror "github.com/Shyp/go-dberror"
	"github.com/Shyp/rest"
	"github.com/lingora/booking/models/bookings"
	"github.com/lingora/booking/notify"
	"github.com/lingora/booking/services"
)

func new405(r *http.Request) *rest.Error {
	return &rest.Error{
		Title:    "Method not allowed",
		ID:       "method_not_allowed",
		Instance: r.URL.Path,
		Status:   405,
	}
}

func new404(r *http.Request) *rest.Error {
	return &rest.Error{
		Title:    "Resource not found",
		ID:       "not_found",
		Instance: r.URL.Path,
		Status:   404,
	}
}

func insecure403(r *http.Request) *rest.Error {
	return &rest.Error{
		Title:    "Server not available over HTTP",
		ID:       "insecure_request",
		Detail:   "For your security, please use an encrypted connection",
		Instance: r.URL.Path,
		Status:   403,
	}
}

func new401(r *http.Request) *rest.Error {
	return &rest.Error{
		Title:    "Unauthorized. Please include your API credentials",
		ID:       "unauthorized",
		Instance: r.URL.Path,
		Status:   401,
	}
}

// createEmptyErr returns a rest.Error indicating the request omits a required
// field.
func createEmptyErr(field string, path string) *rest.Error {
	return &rest.Error{
		Title:    fmt.Sprintf("Missing required field: %s", field),
		Detail:   fmt.Sprintf("Please include a %s in the request body", field),
		ID:       "missing_parameter",
		Instance: path,
	}
}

func invalidJSONErr() *rest.Error {
	return &rest.Error{
		ID:    "invalid_request",
		Title: "Invalid request: bad JSON. Double check the types of the fields you sent",
	}
}

func notFound(w http.ResponseWriter, err *rest.Error) {
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(err)
}

func badRequest(w http.ResponseWriter, r *http.Request, err *rest.Error) {
	log.Printf("400: %s %s: %s", r.Method, r.URL.Path, err.Error())
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(err)
}

func authenticate(w http.ResponseWriter, err *rest.Error) {
	w.Header().Set("WWW-Authenticate", "Basic realm=\"booking\"")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(err)
}

func forbidden(w http.ResponseWriter, err *rest.Error) {
	w.WriteHeader(http.StatusForbidden)
	json.NewEncoder(w).Encode(err)
}

var serverError = rest.Error{
	Status: http.StatusInternalServerError,
	ID:     "server_error",
	Title:  "Unexpected server error. Please try again",
}

// writeServerError logs the provided error, and returns a generic server error
// message to the client.
func writeServerError(w http.ResponseWriter, r *http.Request, err error) {
	log.Printf("500: %s %s: %s", r.Method, r.URL.Path, err)
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(serverError)
}

// writeEngineError maps the engine's error taxonomy onto HTTP responses.
// Every boundary operation funnels its failures through here so each error
// kind keeps a stable id tag.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch terr := err.(type) {
	case *dberror.Error:
		badRequest(w, r, &rest.Error{
			ID:       "invalid_parameter",
			Title:    terr.Message,
			Instance: r.URL.Path,
		})
	case *services.ValidationError:
		badRequest(w, r, &rest.Error{
			ID:       "invalid_parameter",
			Title:    terr.Message,
			Instance: r.URL.Path,
		})
	case *services.ConflictError:
		log.Printf("409: %s %s: %s", r.Method, r.URL.Path, terr.Error())
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(&rest.Error{
			ID:       "conflict",
			Title:    terr.Error(),
			Instance: r.URL.Path,
			Status:   http.StatusConflict,
		})
	case *services.InvalidTransitionError:
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(&rest.Error{
			ID:       "invalid_transition",
			Title:    terr.Error(),
			Instance: r.URL.Path,
			Status:   http.StatusUnprocessableEntity,
		})
	case *services.NotEligibleError:
		forbidden(w, &rest.Error{
			ID:       "not_eligible",
			Title:    terr.Error(),
			Instance: r.URL.Path,
			Status:   http.StatusForbidden,
		})
	case *notify.DeliveryError:
		log.Printf("500: %s %s: %s", r.Method, r.URL.Path, terr.Error())
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(&rest.Error{
			ID:       "delivery_failed",
			Title:    terr.Error(),
			Instance: r.URL.Path,
			Status:   http.StatusInternalServerError,
		})
	default:
		if err == bookings.ErrNotFound {
			notFound(w, new404(r))
			return
		}
		writeServerError(w, r, err)
	}
}
