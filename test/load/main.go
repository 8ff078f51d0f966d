// Load generator for the dispatch API. Every job places a drone order as a
// random customer and, with ASSIGN=true, asks an admin to assign a drone to it.
package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nimasrn/drone-dispatch/internal/auth"
	"github.com/nimasrn/drone-dispatch/internal/model"
	"github.com/valyala/fasthttp"
)

type LoadTestConfig struct {
	BaseURL           string
	RequestsPerSecond int
	DurationSeconds   int
	ConcurrentWorkers int
	JwtSecret         string
	JwtIssuer         string
	Customers         int
	Assign            bool
}

type Stats struct {
	successCount  atomic.Int64
	errorCount    atomic.Int64
	noDrone       atomic.Int64
	responseTimes map[string][]float64
	mu            sync.Mutex
}

func (s *Stats) addResponseTime(op string, duration float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responseTimes[op] = append(s.responseTimes[op], duration)
}

func (s *Stats) getResponseTimes(op string) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	times := make([]float64, len(s.responseTimes[op]))
	copy(times, s.responseTimes[op])
	return times
}

type runner struct {
	config LoadTestConfig
	client *fasthttp.Client
	tokens *auth.Tokens
	admin  string
	stats  *Stats
}

func (r *runner) bearer(a auth.Actor) string {
	token, err := r.tokens.Sign(a, time.Hour)
	if err != nil {
		panic(err)
	}
	return "Bearer " + token
}

func (r *runner) call(op, method, path, authorization string, body interface{}) (int, []byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(r.config.BaseURL + path)
	req.Header.SetMethod(method)
	req.Header.Set("Authorization", authorization)
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		req.Header.SetContentType("application/json")
		req.SetBody(raw)
	}

	start := time.Now()
	err := r.client.DoTimeout(req, resp, 30*time.Second)
	r.stats.addResponseTime(op, time.Since(start).Seconds())
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode(), append([]byte(nil), resp.Body()...), nil
}

func (r *runner) job(rng *rand.Rand) {
	customer := auth.User(int64(1000 + rng.Intn(r.config.Customers)))
	shop := model.Location{Lat: 35.70 + rng.Float64()*0.05, Lng: 51.38 + rng.Float64()*0.05}
	order := model.OrderCreateRequest{
		ShopID:       int64(1 + rng.Intn(50)),
		SellerID:     int64(500 + rng.Intn(50)),
		DeliveryType: model.DeliveryTypeDrone,
		Pickup:       shop,
		Delivery:     model.Location{Lat: shop.Lat + 0.01, Lng: shop.Lng + 0.01},
		Address:      "load test",
	}

	status, body, err := r.call("create", fasthttp.MethodPost, "/api/v1/orders", r.bearer(customer), order)
	if err != nil || status != fasthttp.StatusCreated {
		r.stats.errorCount.Add(1)
		return
	}
	if !r.config.Assign {
		r.stats.successCount.Add(1)
		return
	}

	var placed struct {
		Order struct {
			ID int64 `json:"id"`
		} `json:"order"`
	}
	if err := json.Unmarshal(body, &placed); err != nil {
		r.stats.errorCount.Add(1)
		return
	}
	status, _, err = r.call("assign", fasthttp.MethodPost, fmt.Sprintf("/api/v1/admin/dispatch/%d/assign", placed.Order.ID), r.admin, nil)
	switch {
	case err != nil:
		r.stats.errorCount.Add(1)
	case status == fasthttp.StatusOK:
		r.stats.successCount.Add(1)
	case status == fasthttp.StatusConflict:
		// fleet exhausted, not a server failure
		r.stats.noDrone.Add(1)
		r.stats.successCount.Add(1)
	default:
		r.stats.errorCount.Add(1)
	}
}

func (r *runner) worker(seed int64, jobs <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	rng := rand.New(rand.NewSource(seed))
	for range jobs {
		r.job(rng)
	}
}

func calculatePercentile(sorted []float64, percentile float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	index := int(float64(len(sorted)) * percentile)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func main() {
	config := LoadTestConfig{
		BaseURL:           getEnvOrDefault("TARGET_URL", "http://localhost:8080"),
		RequestsPerSecond: getEnvIntOrDefault("REQUESTS_PER_SECOND", 200),
		DurationSeconds:   getEnvIntOrDefault("DURATION_SECONDS", 30),
		ConcurrentWorkers: getEnvIntOrDefault("CONCURRENT_WORKERS", 50),
		JwtSecret:         getEnvOrDefault("JWT_SECRET", ""),
		JwtIssuer:         getEnvOrDefault("JWT_ISSUER", "drone-dispatch"),
		Customers:         getEnvIntOrDefault("CUSTOMERS", 1000),
		Assign:            getEnvOrDefault("ASSIGN", "false") == "true",
	}
	if config.JwtSecret == "" {
		fmt.Println("JWT_SECRET is required to mint test tokens")
		os.Exit(1)
	}

	fmt.Println("Starting load test...")
	fmt.Printf("Target: %s\n", config.BaseURL)
	fmt.Printf("Total jobs: %d\n", config.RequestsPerSecond*config.DurationSeconds)
	fmt.Printf("Target RPS: %d\n", config.RequestsPerSecond)
	fmt.Printf("Concurrent workers: %d\n", config.ConcurrentWorkers)
	fmt.Printf("Duration: %d seconds\n", config.DurationSeconds)
	fmt.Printf("Assign drones: %v\n", config.Assign)
	fmt.Println(strings.Repeat("-", 50))

	r := &runner{
		config: config,
		client: &fasthttp.Client{MaxConnsPerHost: config.ConcurrentWorkers},
		tokens: auth.NewTokens(config.JwtSecret, config.JwtIssuer),
		stats:  &Stats{responseTimes: map[string][]float64{}},
	}
	r.admin = r.bearer(auth.Admin(1))

	jobs := make(chan struct{}, config.RequestsPerSecond)
	var wg sync.WaitGroup
	for i := 0; i < config.ConcurrentWorkers; i++ {
		wg.Add(1)
		go r.worker(time.Now().UnixNano()+int64(i), jobs, &wg)
	}

	startTime := time.Now()
	totalJobs := config.RequestsPerSecond * config.DurationSeconds
	sent := 0
	for i := 0; i < config.DurationSeconds && sent < totalJobs; i++ {
		batchStart := time.Now()
		for j := 0; j < config.RequestsPerSecond && sent < totalJobs; j++ {
			jobs <- struct{}{}
			sent++
		}

		success := r.stats.successCount.Load()
		errors := r.stats.errorCount.Load()
		fmt.Printf("[%ds] Completed: %d | Success: %d | Errors: %d\n", i+1, success+errors, success, errors)

		if elapsed := time.Since(batchStart); elapsed < time.Second {
			time.Sleep(time.Second - elapsed)
		}
	}
	close(jobs)
	wg.Wait()

	duration := time.Since(startTime).Seconds()
	success := r.stats.successCount.Load()
	errors := r.stats.errorCount.Load()
	total := success + errors

	fmt.Println("\n" + strings.Repeat("=", 50))
	fmt.Println("LOAD TEST RESULTS")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("Duration: %.2f seconds\n", duration)
	fmt.Printf("Total jobs: %d\n", total)
	fmt.Printf("Successful: %d\n", success)
	fmt.Printf("Failed: %d\n", errors)
	if config.Assign {
		fmt.Printf("No drone available: %d\n", r.stats.noDrone.Load())
	}
	if total > 0 {
		fmt.Printf("Success rate: %.2f%%\n", float64(success)/float64(total)*100)
	}
	fmt.Printf("\nActual jobs/s: %.2f\n", float64(total)/duration)

	for _, op := range []string{"create", "assign"} {
		times := r.stats.getResponseTimes(op)
		if len(times) == 0 {
			continue
		}
		sort.Float64s(times)
		sum := 0.0
		for _, t := range times {
			sum += t
		}
		fmt.Printf("\n%s response times (%d requests):\n", op, len(times))
		fmt.Printf("  Average: %.2f ms\n", sum/float64(len(times))*1000)
		fmt.Printf("  P50: %.2f ms\n", calculatePercentile(times, 0.50)*1000)
		fmt.Printf("  P95: %.2f ms\n", calculatePercentile(times, 0.95)*1000)
		fmt.Printf("  P99: %.2f ms\n", calculatePercentile(times, 0.99)*1000)
		fmt.Printf("  Min: %.2f ms\n", times[0]*1000)
		fmt.Printf("  Max: %.2f ms\n", times[len(times)-1]*1000)
	}
}
