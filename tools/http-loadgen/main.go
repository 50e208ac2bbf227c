// http-loadgen is a tiny, dependency-free HTTP load driver for mockorigin.
// It reuses HTTP connections (keep-alive) and supports concurrency, so the
// origin can be warmed or saturated while a drizzler run is in flight.
// Useful for exercising /burst's in-flight limit and /flaky's failure
// period under realistic contention.
//
// Modes:
//   - steady: send N requests at a single route
//   - skew:   deterministic 80/20-ish split between a hot route and a set
//     of keyed /retry-after routes, without PRNG
//
// Usage examples:
//
//	http-loadgen -base=http://127.0.0.1:8090 -mode=steady -route=/ok -n=5000 -c=16
//	http-loadgen -base=http://127.0.0.1:8090 -mode=skew -hot_route=/flaky -cold_keys=50 -n=8000 -c=16
//
// Prints a one-line summary with duration, throughput, and status counts.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

type modeType string

const (
	modeSteady modeType = "steady"
	modeSkew   modeType = "skew"
)

func main() {
	var (
		base     = flag.String("base", "http://127.0.0.1:8090", "Base URL including scheme and host, e.g. http://127.0.0.1:8090")
		modeS    = flag.String("mode", string(modeSteady), "Mode: steady|skew")
		route    = flag.String("route", "/ok", "Route for steady mode")
		hotRoute = flag.String("hot_route", "/flaky", "Hot route for skew mode")
		coldN    = flag.Int("cold_keys", 50, "Number of /retry-after keys to round-robin in skew mode")
		N        = flag.Int("n", 5000, "Total requests to send")
		conc     = flag.Int("c", 8, "Number of concurrent workers")
		// Deterministic skew: hotEvery=5 means 4/5 go to the hot route, 1/5 to a keyed /retry-after.
		hotEvery = flag.Int("hot_every", 5, "Skew period (all but 1 of every this many go to the hot route; minimum 2)")
		// Timeouts & transport tuning
		timeout    = flag.Duration("timeout", 20*time.Second, "Overall timeout for the loadgen run")
		connIdle   = flag.Duration("idle_timeout", 30*time.Second, "HTTP idle connection timeout")
		maxIdle    = flag.Int("max_idle", 256, "Max idle connections total")
		maxIdlePer = flag.Int("max_idle_per_host", 256, "Max idle connections per host")
	)
	flag.Parse()

	m := modeType(strings.ToLower(*modeS))
	if m != modeSteady && m != modeSkew {
		fmt.Fprintf(os.Stderr, "unknown -mode=%s (want steady|skew)\n", *modeS)
		os.Exit(2)
	}
	if *N <= 0 || *conc <= 0 {
		fmt.Fprintln(os.Stderr, "-n and -c must be > 0")
		os.Exit(2)
	}
	if m == modeSkew {
		if *coldN <= 0 {
			fmt.Fprintln(os.Stderr, "-cold_keys must be > 0 in skew mode")
			os.Exit(2)
		}
		if *hotEvery < 2 { // at least 1 hot : 1 cold
			*hotEvery = 2
		}
	}

	baseURL := strings.TrimRight(*base, "/")
	steadyURL := baseURL + normalizeRoute(*route)
	hotURL := baseURL + normalizeRoute(*hotRoute)

	// Configure HTTP client with connection reuse
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        *maxIdle,
		MaxIdleConnsPerHost: *maxIdlePer,
		IdleConnTimeout:     *connIdle,
	}
	client := &http.Client{Transport: tr, Timeout: 5 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()

	var countMu sync.Mutex
	statusCounts := map[int]int{}
	transportErrs := 0

	worker := func(id, count int) {
		local := map[int]int{}
		localErrs := 0
		for i := 0; i < count; i++ {
			if ctx.Err() != nil {
				break
			}
			var u string
			if m == modeSteady {
				u = steadyURL
			} else {
				// 80/20-ish deterministic skew: (i+id)%hotEvery != 0 => hot route
				if ((i + id) % *hotEvery) != 0 {
					u = hotURL
				} else {
					idx := (((i + id) / *hotEvery) % *coldN) + 1
					key := fmt.Sprintf("cold-%d", idx)
					u = baseURL + "/retry-after?" + url.Values{"key": {key}}.Encode()
				}
			}
			req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
			resp, err := client.Do(req)
			if err == nil {
				// Drain and close body to enable connection reuse
				_, _ = io.Copy(io.Discard, resp.Body)
				_ = resp.Body.Close()
				local[resp.StatusCode]++
			} else {
				localErrs++
				// Brief backoff on errors to avoid hot spinning
				time.Sleep(200 * time.Microsecond)
			}
		}
		countMu.Lock()
		for code, n := range local {
			statusCounts[code] += n
		}
		transportErrs += localErrs
		countMu.Unlock()
	}

	// Split N across conc workers
	per := *N / *conc
	rem := *N - per**conc
	var wg sync.WaitGroup
	wg.Add(*conc)
	for w := 0; w < *conc; w++ {
		count := per
		if w == *conc-1 {
			count += rem
		}
		go func(id, n int) {
			defer wg.Done()
			worker(id, n)
		}(w, count)
	}
	wg.Wait()
	elapsed := time.Since(start)
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}
	ops := float64(*N) / elapsed.Seconds()
	fmt.Printf("LoadGen: mode=%s N=%d c=%d go=%d Duration=%s Throughput=%.0f req/s%s\n",
		m, *N, *conc, runtime.GOMAXPROCS(0), elapsed.Truncate(time.Millisecond), ops, summarize(statusCounts, transportErrs))
}

func normalizeRoute(p string) string {
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}

func summarize(statusCounts map[int]int, transportErrs int) string {
	codes := make([]int, 0, len(statusCounts))
	for code := range statusCounts {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	var sb strings.Builder
	for _, code := range codes {
		fmt.Fprintf(&sb, " %d=%d", code, statusCounts[code])
	}
	if transportErrs > 0 {
		fmt.Fprintf(&sb, " errors=%d", transportErrs)
	}
	return sb.String()
}
