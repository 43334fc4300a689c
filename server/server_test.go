package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Shyp/rest"
	"github.com/lingora/booking/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHomepageRendersVersion(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	req.SetBasicAuth("foo", "bar")
	u := &UnsafeBypassAuthorizer{}
	Get(u, nil).ServeHTTP(w, req)
	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	assert.True(t, strings.Contains(w.Body.String(), fmt.Sprintf("booking version %s", config.Version)))
}

func TestServerVersionHeader(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	req.SetBasicAuth("foo", "bar")
	u := &UnsafeBypassAuthorizer{}
	Get(u, nil).ServeHTTP(w, req)
	assert.Equal(t, fmt.Sprintf("booking/%s", config.Version), w.Header().Get("Server"))
}

func TestStrictTransportHeader(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	req.SetBasicAuth("foo", "bar")
	u := &UnsafeBypassAuthorizer{}
	Get(u, nil).ServeHTTP(w, req)
	assert.Equal(t, "max-age=31536000; includeSubDomains; preload", w.Header().Get("Strict-Transport-Security"))
}

func TestForbiddenAuthorizerRejects(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()
	b := new(bytes.Buffer)
	json.NewEncoder(b).Encode(AcceptBookingRequest{BookingID: "job_123"})
	req := httptest.NewRequest("POST", "/v1/bookings/accept", b)
	req.SetBasicAuth("usr_123", "tok_123")
	f := new(forbiddenAuthorizer)
	Get(f, nil).ServeHTTP(w, req)
	assert.Equal(t, 401, w.Code)
	var e rest.Error
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	assert.Equal(t, "Invalid Access Token", e.Title)
	assert.Equal(t, "usr_123", f.UserId)
	assert.Equal(t, "tok_123", f.Token)
}
