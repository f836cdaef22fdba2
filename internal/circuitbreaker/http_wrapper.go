package circuitbreaker

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPWrapper sends requests through a circuit breaker.
type HTTPWrapper struct {
	client *http.Client
	cb     *CircuitBreaker
	logger *zap.Logger
}

// NewHTTPWrapper wraps client with an instrumented breaker named name.
func NewHTTPWrapper(client *http.Client, name string, settings Settings, logger *zap.Logger) *HTTPWrapper {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPWrapper{
		client: client,
		cb:     NewInstrumented(name, settings.ToConfig(), logger),
		logger: logger,
	}
}

// Do executes req through the breaker. Transport errors and 5xx responses count
// as breaker failures; 4xx responses, including 429, do not. A 5xx response is
// still returned to the caller with a nil error.
func (hw *HTTPWrapper) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := hw.cb.Execute(req.Context(), func() error {
		var doErr error
		resp, doErr = hw.client.Do(req)
		if doErr != nil {
			return doErr
		}
		if resp.StatusCode >= 500 {
			return &httpStatusError{code: resp.StatusCode}
		}
		return nil
	})

	recordRequest(hw.cb, err == nil)

	if _, ok := err.(*httpStatusError); ok {
		return resp, nil
	}
	return resp, err
}

// Breaker exposes the underlying breaker for health reporting.
func (hw *HTTPWrapper) Breaker() *CircuitBreaker { return hw.cb }

// httpStatusError marks 5xx responses for breaker accounting
type httpStatusError struct{ code int }

func (e *httpStatusError) Error() string { return http.StatusText(e.code) }
