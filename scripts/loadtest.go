//go:build ignore

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"go.uber.org/atomic"
)

const (
	baseURL = "http://localhost:8080"
	baseLat = 40.7128
	baseLng = -74.0060
)

var mechanicIDs = []string{"mech-001", "mech-002", "mech-003"}

const noLatency = int64(^uint64(0) >> 1)

type Stats struct {
	TotalRequests   atomic.Int64
	SuccessRequests atomic.Int64
	FailedRequests  atomic.Int64
	TotalLatency    atomic.Int64
	MinLatency      atomic.Int64
	MaxLatency      atomic.Int64
}

func newStats() *Stats {
	s := &Stats{}
	s.MinLatency.Store(noLatency)
	return s
}

func (s *Stats) record(latency int64, ok bool) {
	s.TotalRequests.Inc()
	s.TotalLatency.Add(latency)
	if !ok {
		s.FailedRequests.Inc()
		return
	}
	s.SuccessRequests.Inc()

	for {
		old := s.MinLatency.Load()
		if latency >= old || s.MinLatency.CompareAndSwap(old, latency) {
			break
		}
	}
	for {
		old := s.MaxLatency.Load()
		if latency <= old || s.MaxLatency.CompareAndSwap(old, latency) {
			break
		}
	}
}

func main() {
	fmt.Println("ResQ Load Test")
	fmt.Println("==============")

	fmt.Println("\n1. Submitting requests (200 requests, 20 concurrent)...")
	stats, ids := testSubmissions(200, 20)
	printStats("Submissions", stats)

	fmt.Println("\n2. Listing mechanics (1000 requests, 50 concurrent)...")
	printStats("Mechanic List", run(1000, 50, func() (*http.Response, error) {
		url := fmt.Sprintf("%s/v1/mechanics?status=available&lat=%f&lng=%f&max_distance=5", baseURL, jitter(baseLat), jitter(baseLng))
		return http.Get(url)
	}, http.StatusOK))

	fmt.Println("\n3. Updating mechanic locations (1000 updates, 50 concurrent)...")
	printStats("Location Updates", run(1000, 50, func() (*http.Response, error) {
		body, _ := json.Marshal(map[string]float64{"lat": jitter(baseLat), "lng": jitter(baseLng)})
		req, _ := http.NewRequest(http.MethodPut, baseURL+"/v1/mechanics/"+mechanicIDs[rand.Intn(len(mechanicIDs))]+"/location", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return http.DefaultClient.Do(req)
	}, http.StatusOK))

	if len(ids) > 0 {
		fmt.Println("\n4. Cancelling submitted requests...")
		next := atomic.NewInt64(-1)
		printStats("Cancellations", run(len(ids), 10, func() (*http.Response, error) {
			id := ids[next.Inc()]
			return http.Post(baseURL+"/v1/requests/"+id+"/cancel", "application/json", nil)
		}, http.StatusOK, http.StatusConflict))
	}

	fmt.Println("\nLoad test completed!")
}

func testSubmissions(n, concurrency int) (*Stats, []string) {
	var (
		mu  sync.Mutex
		ids []string
		seq atomic.Int64
	)

	submit := func() (*http.Response, error) {
		i := seq.Inc()
		body, _ := json.Marshal(map[string]any{
			"location":    fmt.Sprintf("%d Broadway, New York", 100+i),
			"phone":       fmt.Sprintf("555-%03d-%04d", rand.Intn(1000), rand.Intn(10000)),
			"description": "Flat tire on the highway",
			"coordinates": map[string]float64{"lat": jitter(baseLat), "lng": jitter(baseLng)},
		})
		req, _ := http.NewRequest(http.MethodPost, baseURL+"/v1/requests", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", fmt.Sprintf("load-test-%d-%d", i, time.Now().UnixNano()))
		resp, err := http.DefaultClient.Do(req)
		if err != nil || resp.StatusCode != http.StatusCreated {
			return resp, err
		}

		var created struct {
			ID string `json:"id"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &created) == nil && created.ID != "" {
			mu.Lock()
			ids = append(ids, created.ID)
			mu.Unlock()
		}
		resp.Body = io.NopCloser(bytes.NewReader(nil))
		return resp, nil
	}

	stats := run(n, concurrency, submit, http.StatusCreated)
	return stats, ids
}

func run(n, concurrency int, do func() (*http.Response, error), okCodes ...int) *Stats {
	stats := newStats()
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, concurrency)

	for i := 0; i < n; i++ {
		wg.Add(1)
		semaphore <- struct{}{}

		go func() {
			defer wg.Done()
			defer func() { <-semaphore }()

			start := time.Now()
			resp, err := do()
			latency := time.Since(start).Milliseconds()

			ok := err == nil
			if resp != nil {
				ok = ok && contains(okCodes, resp.StatusCode)
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
			stats.record(latency, ok)
		}()
	}

	wg.Wait()
	return stats
}

func contains(codes []int, code int) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

func jitter(v float64) float64 {
	return v + (rand.Float64()-0.5)*0.1
}

func printStats(name string, stats *Stats) {
	total := stats.TotalRequests.Load()
	success := stats.SuccessRequests.Load()
	avgLatency := float64(0)
	if total > 0 {
		avgLatency = float64(stats.TotalLatency.Load()) / float64(total)
	}

	fmt.Printf("\n%s Results:\n", name)
	fmt.Printf("  Total Requests:   %d\n", total)
	fmt.Printf("  Successful:       %d\n", success)
	fmt.Printf("  Failed:           %d\n", stats.FailedRequests.Load())
	if total > 0 {
		fmt.Printf("  Success Rate:     %.2f%%\n", float64(success)/float64(total)*100)
	}
	fmt.Printf("  Avg Latency:      %.2f ms\n", avgLatency)
	if lo := stats.MinLatency.Load(); lo != noLatency {
		fmt.Printf("  Min Latency:      %d ms\n", lo)
	}
	fmt.Printf("  Max Latency:      %d ms\n", stats.MaxLatency.Load())
}
