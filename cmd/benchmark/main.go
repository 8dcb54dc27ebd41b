package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

type BenchmarkResult struct {
	TotalOps      int
	SuccessfulOps int
	FailedOps     int
	Duration      time.Duration
	OpsPerSec     float64
	AvgLatency    time.Duration
	MinLatency    time.Duration
	MaxLatency    time.Duration

	// насколько продвинулся commit position за время теста
	PositionBefore int64
	PositionAfter  int64
}

var client = &http.Client{Timeout: 5 * time.Second}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "node base URL")
	ops := flag.Int("ops", 100, "writes per run")
	concurrency := flag.Int("c", 10, "concurrent writers")
	flag.Parse()

	fmt.Println("=== clusterpos write benchmark ===")
	fmt.Printf("Target: %s\n\n", *baseURL)

	if !checkHealth(*baseURL) {
		fmt.Printf("ERROR: node %s is not available\n", *baseURL)
		os.Exit(1)
	}

	fmt.Printf("Sequential writes (%d operations)\n", *ops)
	printResult(benchmarkWrites(*baseURL, *ops, 1))

	fmt.Printf("\nConcurrent writes (%d operations, %d goroutines)\n", *ops, *concurrency)
	printResult(benchmarkWrites(*baseURL, *ops, *concurrency))
}

func checkHealth(baseURL string) bool {
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func benchmarkWrites(baseURL string, totalOps, concurrency int) BenchmarkResult {
	if concurrency < 1 {
		concurrency = 1
	}

	before, _ := commitPosition(baseURL)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok, fail  int
		latencies = make([]time.Duration, 0, totalOps)
	)

	start := time.Now()
	for g := 0; g < concurrency; g++ {
		n := totalOps / concurrency
		if g < totalOps%concurrency {
			n++
		}
		wg.Add(1)
		go func(g, n int) {
			defer wg.Done()
			for j := 0; j < n; j++ {
				key := fmt.Sprintf("bench_key_%d_%d", g, j)
				opStart := time.Now()
				err := putKey(baseURL, key, fmt.Sprintf("v_%d", opStart.UnixNano()))
				lat := time.Since(opStart)

				mu.Lock()
				if err == nil {
					ok++
				} else {
					fail++
				}
				latencies = append(latencies, lat)
				mu.Unlock()
			}
		}(g, n)
	}
	wg.Wait()
	duration := time.Since(start)

	after, _ := commitPosition(baseURL)

	res := BenchmarkResult{
		TotalOps:       totalOps,
		SuccessfulOps:  ok,
		FailedOps:      fail,
		Duration:       duration,
		OpsPerSec:      float64(ok) / duration.Seconds(),
		PositionBefore: before,
		PositionAfter:  after,
	}
	if len(latencies) > 0 {
		var sum time.Duration
		res.MinLatency, res.MaxLatency = latencies[0], latencies[0]
		for _, l := range latencies {
			res.MinLatency = min(res.MinLatency, l)
			res.MaxLatency = max(res.MaxLatency, l)
			sum += l
		}
		res.AvgLatency = sum / time.Duration(len(latencies))
	}
	return res
}

func putKey(baseURL, key, value string) error {
	data := url.Values{}
	data.Set("key", key)
	data.Set("value", value)

	req, err := http.NewRequest(http.MethodPut, baseURL+"/api/string", strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return nil
}

// commitPosition reads the node's own commit-position counter.
func commitPosition(baseURL string) (int64, error) {
	resp, err := client.Get(baseURL + "/api/commit-position")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		Value int64 `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, err
	}
	return result.Value, nil
}

func printResult(result BenchmarkResult) {
	fmt.Printf("  Total Operations: %d\n", result.TotalOps)
	fmt.Printf("  Successful: %d\n", result.SuccessfulOps)
	fmt.Printf("  Failed: %d\n", result.FailedOps)
	fmt.Printf("  Duration: %v\n", result.Duration)
	fmt.Printf("  Operations/sec: %.2f\n", result.OpsPerSec)
	fmt.Printf("  Avg Latency: %v\n", result.AvgLatency)
	fmt.Printf("  Min Latency: %v\n", result.MinLatency)
	fmt.Printf("  Max Latency: %v\n", result.MaxLatency)
	fmt.Printf("  Commit position: %d -> %d (+%d)\n",
		result.PositionBefore, result.PositionAfter, result.PositionAfter-result.PositionBefore)
}
