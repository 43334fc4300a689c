package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lingora/booking/models"
	"github.com/lingora/booking/models/bookings"
	"github.com/lingora/booking/notify"
	"github.com/lingora/booking/server"
	"github.com/lingora/booking/services"
	"github.com/lingora/booking/test"
	"github.com/lingora/booking/test/factory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (http.Handler, *services.Engine) {
	t.Helper()
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	}))
	t.Cleanup(gateway.Close)

	a := server.NewSharedSecretAuthorizer()
	a.AddUser("admin", "secret", server.CapabilityViewAllBookings)
	a.AddUser("cust_7", "secret")
	a.AddUser("usr_1", "secret")
	a.AddUser("usr_2", "secret")

	engine := services.NewEngine(notify.NewDispatcher(notify.Config{GatewayURL: gateway.URL}))
	return server.Get(a, engine), engine
}

func do(t *testing.T, h http.Handler, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.SetBasicAuth(user, "secret")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(v))
}

func TestUnauthenticatedRequestGets401(t *testing.T) {
	defer test.TearDown(t)
	test.SetUp(t)
	h, _ := newTestServer(t)

	w := do(t, h, "GET", "/v1/bookings", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Basic")
}

func TestCreateBooking(t *testing.T) {
	defer test.TearDown(t)
	test.SetUp(t)
	h, _ := newTestServer(t)

	w := do(t, h, "POST", "/v1/bookings", "cust_7", map[string]string{
		"language_from": "english",
		"language_to":   "spanish",
		"town":          "stockholm",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var b models.Booking
	decode(t, w, &b)
	// The caller becomes the customer when none is named.
	assert.Equal(t, "cust_7", b.CustomerID)
	assert.Equal(t, models.StatusCreated, b.Status)
	assert.Contains(t, b.ID.String(), "job_")
}

func TestCreateBookingOversizedBody(t *testing.T) {
	defer test.TearDown(t)
	test.SetUp(t)
	h, _ := newTestServer(t)

	var buf bytes.Buffer
	buf.WriteString(`{"town":"`)
	buf.Write(bytes.Repeat([]byte("a"), server.MAX_REQUEST_DATA_SIZE+1))
	buf.WriteString(`"}`)
	req := httptest.NewRequest("POST", "/v1/bookings", &buf)
	req.SetBasicAuth("cust_7", "secret")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var e struct {
		ID string `json:"id"`
	}
	decode(t, w, &e)
	assert.Equal(t, "invalid_request", e.ID)
}

func TestCreateBookingValidation(t *testing.T) {
	defer test.TearDown(t)
	test.SetUp(t)
	h, _ := newTestServer(t)

	w := do(t, h, "POST", "/v1/bookings", "cust_7", map[string]string{
		"language_from": "english",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var e struct {
		ID string `json:"id"`
	}
	decode(t, w, &e)
	assert.Equal(t, "invalid_parameter", e.ID)
}

func TestListBookingsScopedByCapability(t *testing.T) {
	defer test.TearDown(t)
	h, _ := newTestServer(t)
	factory.CreateBooking(t, factory.SampleParams)
	other := factory.SampleParams
	other.CustomerID = "cust_8"
	factory.CreateBooking(t, other)

	var result []models.Booking
	w := do(t, h, "GET", "/v1/bookings", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &result)
	assert.Len(t, result, 2)

	w = do(t, h, "GET", "/v1/bookings", "cust_7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	result = nil
	decode(t, w, &result)
	require.Len(t, result, 1)
	assert.Equal(t, "cust_7", result[0].CustomerID)

	// The user_id filter only works with the capability.
	w = do(t, h, "GET", "/v1/bookings?user_id=cust_8", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	result = nil
	decode(t, w, &result)
	require.Len(t, result, 1)
	assert.Equal(t, "cust_8", result[0].CustomerID)
}

func TestGetBooking(t *testing.T) {
	defer test.TearDown(t)
	h, _ := newTestServer(t)
	tr := factory.CreateTranslator(t, models.Translator{UserID: "usr_1"})
	b := factory.CreateAcceptedBooking(t, factory.SampleParams, tr.UserID)

	w := do(t, h, "GET", "/v1/bookings/"+b.ID.String(), "admin", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var detail struct {
		models.Booking
		Translator *models.Translator `json:"translator"`
	}
	decode(t, w, &detail)
	assert.Equal(t, b.ID.String(), detail.ID.String())
	require.NotNil(t, detail.Translator)
	assert.Equal(t, "usr_1", detail.Translator.UserID)
}

func TestGetBookingErrors(t *testing.T) {
	defer test.TearDown(t)
	test.SetUp(t)
	h, _ := newTestServer(t)

	w := do(t, h, "GET", "/v1/bookings/"+factory.RandomId(bookings.Prefix).String(), "admin", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, "GET", "/v1/bookings/usr_6740b44e-13b9-475d-af06-979627e0e0d6", "admin", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAcceptById(t *testing.T) {
	defer test.TearDown(t)
	h, _ := newTestServer(t)
	factory.CreateTranslator(t, models.Translator{UserID: "usr_1"})
	factory.CreateTranslator(t, models.Translator{UserID: "usr_2"})
	b := factory.CreateOfferedBooking(t, factory.SampleParams)

	w := do(t, h, "POST", fmt.Sprintf("/v1/bookings/%s/accept", b.ID), "usr_1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var accepted models.Booking
	decode(t, w, &accepted)
	assert.Equal(t, models.StatusAccepted, accepted.Status)
	assert.Equal(t, "usr_1", accepted.TranslatorID.String)

	// The loser gets a conflict.
	w = do(t, h, "POST", fmt.Sprintf("/v1/bookings/%s/accept", b.ID), "usr_2", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	var e struct {
		ID string `json:"id"`
	}
	decode(t, w, &e)
	assert.Equal(t, "conflict", e.ID)
}

func TestAcceptFromBody(t *testing.T) {
	defer test.TearDown(t)
	h, _ := newTestServer(t)
	factory.CreateTranslator(t, models.Translator{UserID: "usr_1"})
	b := factory.CreateOfferedBooking(t, factory.SampleParams)

	w := do(t, h, "POST", "/v1/bookings/accept", "usr_1", map[string]string{"job_id": b.ID.String()})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, h, "POST", "/v1/bookings/accept", "usr_1", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAcceptIneligibleGets403(t *testing.T) {
	defer test.TearDown(t)
	h, _ := newTestServer(t)
	factory.CreateTranslator(t, models.Translator{UserID: "usr_1", Town: "malmo"})
	b := factory.CreateOfferedBooking(t, factory.SampleParams)

	w := do(t, h, "POST", fmt.Sprintf("/v1/bookings/%s/accept", b.ID), "usr_1", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	var e struct {
		ID string `json:"id"`
	}
	decode(t, w, &e)
	assert.Equal(t, "not_eligible", e.ID)
}

func TestLifecycleActions(t *testing.T) {
	defer test.TearDown(t)
	h, _ := newTestServer(t)
	factory.CreateTranslator(t, models.Translator{UserID: "usr_1"})
	b := factory.CreateOfferedBooking(t, factory.SampleParams)

	w := do(t, h, "POST", fmt.Sprintf("/v1/bookings/%s/accept", b.ID), "usr_1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, h, "POST", fmt.Sprintf("/v1/bookings/%s/start", b.ID), "usr_1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, h, "POST", fmt.Sprintf("/v1/bookings/%s/end", b.ID), "usr_1", map[string]string{"session_time": "01:00:00"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var ended models.Booking
	decode(t, w, &ended)
	assert.Equal(t, models.StatusEnded, ended.Status)
	assert.Equal(t, "01:00:00", ended.SessionTime.String)

	// Ending twice is an invalid transition.
	w = do(t, h, "POST", fmt.Sprintf("/v1/bookings/%s/end", b.ID), "usr_1", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(t, h, "POST", fmt.Sprintf("/v1/bookings/%s/reopen", b.ID), "admin", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var reopened models.Booking
	decode(t, w, &reopened)
	assert.Equal(t, models.StatusReopened, reopened.Status)
}

func TestNotCallAction(t *testing.T) {
	defer test.TearDown(t)
	h, _ := newTestServer(t)
	b := factory.CreateBooking(t, factory.SampleParams)

	w := do(t, h, "POST", fmt.Sprintf("/v1/bookings/%s/not-call", b.ID), "cust_7", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got models.Booking
	decode(t, w, &got)
	assert.True(t, got.NotCalled)
}

func TestDistanceFeedEndpoint(t *testing.T) {
	defer test.TearDown(t)
	h, _ := newTestServer(t)
	b := factory.CreateBooking(t, factory.SampleParams)

	w := do(t, h, "POST", fmt.Sprintf("/v1/bookings/%s/distance", b.ID), "admin", map[string]interface{}{
		"distance": 12.5,
		"time":     "00:25:00",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res struct {
		Status          string `json:"status"`
		DistanceUpdated bool   `json:"distance_updated"`
	}
	decode(t, w, &res)
	assert.Equal(t, "updated", res.Status)
	assert.True(t, res.DistanceUpdated)

	// Nothing to apply.
	w = do(t, h, "POST", fmt.Sprintf("/v1/bookings/%s/distance", b.ID), "admin", map[string]interface{}{})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &res)
	assert.Equal(t, "nothing_to_update", res.Status)

	// Flagging without a comment is rejected.
	w = do(t, h, "POST", fmt.Sprintf("/v1/bookings/%s/distance", b.ID), "admin", map[string]interface{}{
		"flagged": true,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateBooking(t *testing.T) {
	defer test.TearDown(t)
	h, _ := newTestServer(t)
	b := factory.CreateBooking(t, factory.SampleParams)

	w := do(t, h, "PUT", "/v1/bookings/"+b.ID.String(), "admin", map[string]string{"town": "gothenburg"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var updated models.Booking
	decode(t, w, &updated)
	assert.Equal(t, "gothenburg", updated.Town)
	assert.Equal(t, b.LanguageTo, updated.LanguageTo)
}

func TestPotentialRoute(t *testing.T) {
	defer test.TearDown(t)
	h, _ := newTestServer(t)
	factory.CreateTranslator(t, models.Translator{UserID: "usr_1"})
	factory.CreateOfferedBooking(t, factory.SampleParams)

	var result []models.Booking
	w := do(t, h, "GET", "/v1/bookings/potential", "usr_1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &result)
	assert.Len(t, result, 1)

	// No translator profile: empty list, not an error.
	w = do(t, h, "GET", "/v1/bookings/potential", "cust_7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	result = nil
	decode(t, w, &result)
	assert.Len(t, result, 0)
}

func TestHistoryRoute(t *testing.T) {
	defer test.TearDown(t)
	h, engine := newTestServer(t)
	factory.CreateTranslator(t, models.Translator{UserID: "usr_1"})
	b := factory.CreateAcceptedBooking(t, factory.SampleParams, "usr_1")
	_, err := engine.Start(b.ID)
	require.NoError(t, err)
	_, err = engine.End(b.ID, "01:00:00")
	require.NoError(t, err)

	var result []models.Booking
	w := do(t, h, "GET", "/v1/bookings/history", "usr_1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &result)
	require.Len(t, result, 1)
	assert.Equal(t, models.StatusEnded, result[0].Status)

	w = do(t, h, "GET", "/v1/bookings/history?user_id=cust_7", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	result = nil
	decode(t, w, &result)
	assert.Len(t, result, 1)
}

func TestResendRoutes(t *testing.T) {
	defer test.TearDown(t)
	h, _ := newTestServer(t)
	factory.CreateTranslator(t, models.Translator{UserID: "usr_1"})
	b := factory.CreateOfferedBooking(t, factory.SampleParams)

	w := do(t, h, "POST", fmt.Sprintf("/v1/bookings/%s/notifications/push", b.ID), "admin", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res map[string]string
	decode(t, w, &res)
	assert.Equal(t, "Push sent", res["success"])

	w = do(t, h, "POST", fmt.Sprintf("/v1/bookings/%s/notifications/sms", b.ID), "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res = nil
	decode(t, w, &res)
	assert.Equal(t, "SMS sent", res["success"])
}

func TestMethodNotAllowed(t *testing.T) {
	defer test.TearDown(t)
	test.SetUp(t)
	h, _ := newTestServer(t)

	w := do(t, h, "DELETE", "/v1/bookings", "admin", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
