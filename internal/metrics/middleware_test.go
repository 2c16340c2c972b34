package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// sessionRouter mounts the session routes the API exposes.
func sessionRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/sessions/{session_id}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "session_id") == "missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"status":"running"}`))
	})
	r.Post("/v1/sessions/{session_id}/cancel", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	return r
}

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	Init()
	ts := httptest.NewServer(sessionRouter())
	defer ts.Close()

	okBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200"))
	notFoundBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404"))
	acceptedBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "202"))
	seriesBefore := testutil.CollectAndCount(httpRequestDurationSeconds)

	requests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/v1/sessions/0b9e6c1a-2f4d-4d0e-9a57-3f7c2b1d9e01"},
		{http.MethodGet, "/v1/sessions/5d2f8a40-7c1b-4e3a-8f6d-2a9b0c4e7f12"},
		{http.MethodGet, "/v1/sessions/missing"},
		{http.MethodPost, "/v1/sessions/0b9e6c1a-2f4d-4d0e-9a57-3f7c2b1d9e01/cancel"},
	}
	for _, req := range requests {
		r, err := http.NewRequest(req.method, ts.URL+req.path, nil)
		if err != nil {
			t.Fatal(err)
		}
		resp, err := http.DefaultClient.Do(r)
		if err != nil {
			t.Fatal(err)
		}
		if errClose := resp.Body.Close(); errClose != nil {
			t.Log(errClose)
		}
	}

	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")); got != okBefore+2 {
		t.Errorf("GET 200 = %f; want %f", got, okBefore+2)
	}
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404")); got != notFoundBefore+1 {
		t.Errorf("GET 404 = %f; want %f", got, notFoundBefore+1)
	}
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "202")); got != acceptedBefore+1 {
		t.Errorf("POST 202 = %f; want %f", got, acceptedBefore+1)
	}
	// Session IDs collapse into the pattern, so only the two routes add series.
	if got := testutil.CollectAndCount(httpRequestDurationSeconds); got != seriesBefore+2 {
		t.Errorf("duration series = %d; want %d", got, seriesBefore+2)
	}
}
