package metrics

import (
	"net/http"
	"time"
)

// HTTPMetricsMiddleware records one observation per request under handlerName,
// the route name the server registered. A nil m disables recording.
func HTTPMetricsMiddleware(m *Metrics, handlerName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			observe := Timer(time.Now(), func(d float64) {
				m.RecordHTTPRequest(handlerName, r.Method, rec.status(), d)
			})
			next.ServeHTTP(rec, r)
			observe()
		})
	}
}

// statusRecorder keeps the first status code a handler sends.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (w *statusRecorder) WriteHeader(code int) {
	if w.code == 0 {
		w.code = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.code == 0 {
		w.code = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// status is 200 for handlers that never wrote anything.
func (w *statusRecorder) status() int {
	if w.code == 0 {
		return http.StatusOK
	}
	return w.code
}

// Timer returns a func that passes the seconds elapsed since start to recordFunc.
func Timer(start time.Time, recordFunc func(float64)) func() {
	return func() {
		recordFunc(time.Since(start).Seconds())
	}
}
