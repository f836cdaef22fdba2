package circuitbreaker

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestHTTPWrapperClassifiesStatuses(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusTooManyRequests)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	settings := SettingsFor(DependencyRetrieval)
	settings.FailureThreshold = 2
	settings.Timeout = time.Hour
	hw := NewHTTPWrapper(srv.Client(), "retrieval-test", settings, zaptest.NewLogger(t))

	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		resp, err := hw.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	}
	assert.Equal(t, StateClosed, hw.Breaker().State(), "429 must not trip the breaker")

	status.Store(http.StatusBadGateway)
	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		resp, err := hw.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	}
	assert.Equal(t, StateOpen, hw.Breaker().State())

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := hw.Do(req)
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
}
