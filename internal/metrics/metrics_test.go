package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, SanitizeSite(tc.input))
		})
	}
}

func TestStatusClass(t *testing.T) {
	t.Parallel()

	require.Equal(t, "2xx", StatusClass(200))
	require.Equal(t, "3xx", StatusClass(301))
	require.Equal(t, "4xx", StatusClass(404))
	require.Equal(t, "5xx", StatusClass(599))
	require.Equal(t, "other", StatusClass(0))
	require.Equal(t, "other", StatusClass(600))
}

func TestObservePage(t *testing.T) {
	Init()
	Init()

	pages := spiderPagesTotal.WithLabelValues("observe.test", "2xx")
	bytes := spiderBytesTotal.WithLabelValues("observe.test")
	beforePages := testutil.ToFloat64(pages)
	beforeBytes := testutil.ToFloat64(bytes)

	ObservePage("https://Observe.test/a", 200, 128)
	ObservePage("https://observe.test/b", 204, 0)

	require.InDelta(t, beforePages+2, testutil.ToFloat64(pages), 0.001)
	require.InDelta(t, beforeBytes+128, testutil.ToFloat64(bytes), 0.001)
}

func TestActiveEngines(t *testing.T) {
	Init()
	before := testutil.ToFloat64(spiderActiveEngines)
	IncActiveEngines()
	require.InDelta(t, before+1, testutil.ToFloat64(spiderActiveEngines), 0.001)
	DecActiveEngines()
	require.InDelta(t, before, testutil.ToFloat64(spiderActiveEngines), 0.001)
}

func TestRobotsFallbackAndDelay(t *testing.T) {
	Init()
	before := testutil.ToFloat64(spiderRobotsFallbackTotal)
	ObserveRobotsFallback()
	require.InDelta(t, before+1, testutil.ToFloat64(spiderRobotsFallbackTotal), 0.001)

	ObserveRateLimitDelay("delay.test", 250*time.Millisecond)
	require.Positive(t, testutil.CollectAndCount(spiderRateLimitDelays))
}

func TestMiddleware(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/scans/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	ok := httpRequestsTotal.WithLabelValues(http.MethodGet, "418")
	before := testutil.ToFloat64(ok)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/scans/3", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	require.InDelta(t, before+1, testutil.ToFloat64(ok), 0.001)
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}

func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://google.com", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
