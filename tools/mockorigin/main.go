// mockorigin is a tiny, dependency-free origin server for exercising
// drizzler's Fetch Pipeline against real net/http rather than only a fake
// RoundTripper. It reuses http-loadgen's flag-based, no-framework style.
//
// Routes:
//
//	/ok             always 200
//	/flaky          200 most of the time, 429/503 on a deterministic period
//	/retry-after    429 with a Retry-After header for the first N hits per key, then 200
//	/burst          503 once concurrent in-flight requests exceed -burst_limit
//	/slow           200 after -slow_delay, for request_timeout_s exercises
//
// Usage:
//
//	mockorigin -addr=127.0.0.1:8090 -flaky_every=4 -retry_after=2 -slow_delay=2s
package main

import (
	"flag"
	"log"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

func main() {
	var (
		addr        = flag.String("addr", "127.0.0.1:8090", "Listen address")
		flakyEvery  = flag.Int("flaky_every", 4, "On /flaky, 1 of this many requests (per path-wide counter) fails")
		flakyStatus = flag.Int("flaky_status", 503, "Status code /flaky returns on its failing turn (429 or 503)")
		retryAfterS = flag.Int("retry_after", 2, "Retry-After seconds value /retry-after reports")
		retryTries  = flag.Int("retry_after_tries", 1, "Number of 429s /retry-after returns per key before succeeding")
		burstLimit  = flag.Int("burst_limit", 5, "Concurrent in-flight requests /burst tolerates before returning 503")
		slowDelay   = flag.Duration("slow_delay", 2*time.Second, "Delay before /slow responds 200")
	)
	flag.Parse()

	srv := &server{
		flakyEvery:  *flakyEvery,
		flakyStatus: *flakyStatus,
		retryAfterS: *retryAfterS,
		retryTries:  *retryTries,
		burstLimit:  *burstLimit,
		slowDelay:   *slowDelay,
		retrySeen:   make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ok", srv.handleOK)
	mux.HandleFunc("/flaky", srv.handleFlaky)
	mux.HandleFunc("/retry-after", srv.handleRetryAfter)
	mux.HandleFunc("/burst", srv.handleBurst)
	mux.HandleFunc("/slow", srv.handleSlow)

	log.Printf("mockorigin: listening on %s", *addr)
	httpSrv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log.Fatal(httpSrv.ListenAndServe())
}

type server struct {
	flakyEvery  int
	flakyStatus int
	retryAfterS int
	retryTries  int
	burstLimit  int
	slowDelay   time.Duration

	flakyCount int64

	retryMu   sync.Mutex
	retrySeen map[string]int

	inFlight int64
}

func (s *server) handleOK(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// handleFlaky fails on every flakyEvery-th request, deterministically, so
// tests can predict exactly which attempt trips the breaker or triggers a
// rate cut.
func (s *server) handleFlaky(w http.ResponseWriter, r *http.Request) {
	n := atomic.AddInt64(&s.flakyCount, 1)
	if s.flakyEvery > 0 && n%int64(s.flakyEvery) == 0 {
		w.WriteHeader(s.flakyStatus)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleRetryAfter returns 429 with Retry-After for the first retryTries
// requests keyed by the "key" query parameter, then 200 for that key.
func (s *server) handleRetryAfter(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		key = r.RemoteAddr
	}

	s.retryMu.Lock()
	seen := s.retrySeen[key]
	s.retrySeen[key] = seen + 1
	s.retryMu.Unlock()

	if seen < s.retryTries {
		w.Header().Set("Retry-After", strconv.Itoa(s.retryAfterS))
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleBurst returns 503 once more than burstLimit requests are
// concurrently in flight, for exercising the per-host concurrency gate.
func (s *server) handleBurst(w http.ResponseWriter, r *http.Request) {
	n := atomic.AddInt64(&s.inFlight, 1)
	defer atomic.AddInt64(&s.inFlight, -1)
	if int(n) > s.burstLimit {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	time.Sleep(10 * time.Millisecond)
	w.WriteHeader(http.StatusOK)
}

func (s *server) handleSlow(w http.ResponseWriter, r *http.Request) {
	select {
	case <-time.After(s.slowDelay):
		w.WriteHeader(http.StatusOK)
	case <-r.Context().Done():
		return
	}
}
