package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nimasrn/drone-dispatch/internal/model"
	"github.com/nimasrn/drone-dispatch/pkg/logger"
	"github.com/nimasrn/drone-dispatch/pkg/prom"
	"github.com/valyala/fasthttp"
)

var (
	ErrNoAvailableProviders = errors.New("no available weather providers")
)

// unsafeConditions ground drones whatever the numeric readings say.
var unsafeConditions = map[string]struct{}{
	"thunderstorm": {},
	"storm":        {},
	"snow":         {},
	"hail":         {},
	"tornado":      {},
	"heavy_rain":   {},
}

// Thresholds decide whether a reading is flyable.
type Thresholds struct {
	MaxWindSpeed       float64 // m/s
	MaxRainProbability float64 // percent
	MinVisibility      float64 // meters
}

func (t Thresholds) IsSafe(windSpeed, rainProbability, visibility float64, condition string) bool {
	if _, bad := unsafeConditions[strings.ToLower(condition)]; bad {
		return false
	}
	return windSpeed <= t.MaxWindSpeed &&
		rainProbability <= t.MaxRainProbability &&
		visibility >= t.MinVisibility
}

type Config struct {
	Providers               []ProviderConfig
	Thresholds              Thresholds
	Timeout                 time.Duration
	MaxRetries              int
	RetryDelay              time.Duration
	MaxConns                int
	HealthCheckInterval     time.Duration
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
	// Dial overrides the transport, tests use an in-memory listener.
	Dial fasthttp.DialFunc
}

type ProviderConfig struct {
	Name   string
	URL    string
	Weight int // base priority weight (1-100)
}

// reading is the upstream wire format.
type reading struct {
	WindSpeed       float64 `json:"wind_speed"`
	RainProbability float64 `json:"rain_probability"`
	Visibility      float64 `json:"visibility"`
	Condition       string  `json:"condition"`
}

// Client is the Weather Gate. Check never fails, upstream errors are
// reported inside the returned verdict.
type Client struct {
	config    *Config
	providers []*Provider
	mu        sync.RWMutex
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if len(config.Providers) == 0 {
		return nil, errors.New("at least one provider is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 3 * time.Second
	}
	if config.CircuitBreakerThreshold <= 0 {
		config.CircuitBreakerThreshold = 5
	}
	if config.CircuitBreakerTimeout <= 0 {
		config.CircuitBreakerTimeout = 30 * time.Second
	}

	client := &Client{
		config:    config,
		providers: make([]*Provider, 0, len(config.Providers)),
		stopCh:    make(chan struct{}),
	}

	for _, pc := range config.Providers {
		if pc.URL == "" {
			continue
		}
		httpClient := &fasthttp.Client{
			MaxConnsPerHost:     config.MaxConns,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 60 * time.Second,
			Dial:                config.Dial,
		}
		client.providers = append(client.providers, NewProvider(pc.Name, strings.TrimRight(pc.URL, "/"), pc.Weight, httpClient))
		logger.Info("weather provider initialized", "name", pc.Name, "url", pc.URL, "weight", pc.Weight)
	}
	if len(client.providers) == 0 {
		return nil, errors.New("at least one provider is required")
	}

	if config.HealthCheckInterval > 0 {
		client.wg.Add(1)
		go client.healthChecker()
	}

	return client, nil
}

// SelectBestProvider picks the highest scoring available provider.
func (c *Client) SelectBestProvider() (*Provider, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var best *Provider
	var bestScore float64
	for _, p := range c.providers {
		if score := p.Score(); score > bestScore {
			best, bestScore = p, score
		}
	}
	if best == nil {
		return nil, ErrNoAvailableProviders
	}
	return best, nil
}

// Check queries the weather at loc and classifies it.
func (c *Client) Check(ctx context.Context, loc model.Location) model.WeatherCheck {
	start := time.Now()
	r, provider, err := c.fetch(ctx, loc)

	providerName := "none"
	if provider != nil {
		providerName = provider.name
	}

	if err != nil {
		prom.ObserveWeatherCheck(providerName, "error", time.Since(start).Seconds())
		logger.Warn("weather check failed", "error", err, "lat", loc.Lat, "lng", loc.Lng)
		return model.WeatherCheck{
			IsSafe:    false,
			CheckedAt: time.Now().UTC(),
			Error:     err.Error(),
		}
	}

	check := model.WeatherCheck{
		WindSpeed:       r.WindSpeed,
		RainProbability: r.RainProbability,
		Visibility:      r.Visibility,
		Condition:       r.Condition,
		IsSafe:          c.config.Thresholds.IsSafe(r.WindSpeed, r.RainProbability, r.Visibility, r.Condition),
		CheckedAt:       time.Now().UTC(),
	}

	result := "safe"
	if !check.IsSafe {
		result = "unsafe"
	}
	prom.ObserveWeatherCheck(providerName, result, time.Since(start).Seconds())
	logger.Debug("weather checked", "provider", providerName, "safe", check.IsSafe, "condition", check.Condition)

	return check
}

func (c *Client) fetch(ctx context.Context, loc model.Location) (*reading, *Provider, error) {
	path := "/api/v1/weather?lat=" + strconv.FormatFloat(loc.Lat, 'f', 6, 64) +
		"&lng=" + strconv.FormatFloat(loc.Lng, 'f', 6, 64)

	var lastErr error
	var lastProvider *Provider
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, lastProvider, ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}

		provider, err := c.SelectBestProvider()
		if err != nil {
			lastErr = err
			continue
		}
		lastProvider = provider

		started := time.Now()
		body, err := c.doRequest(ctx, provider, fasthttp.MethodGet, path)
		if err != nil {
			provider.metrics.RecordFailure()
			c.checkCircuitBreaker(provider)
			logger.Warn("weather request failed, retrying", "error", err, "provider", provider.name, "attempt", attempt+1)
			lastErr = err
			continue
		}

		var r reading
		if err := json.Unmarshal(body, &r); err != nil {
			provider.metrics.RecordFailure()
			lastErr = fmt.Errorf("decode weather response: %w", err)
			continue
		}
		provider.metrics.RecordSuccess(time.Since(started).Milliseconds())
		return &r, provider, nil
	}

	return nil, lastProvider, fmt.Errorf("failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

func (c *Client) doRequest(ctx context.Context, provider *Provider, method, path string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(provider.url + path)
	req.Header.SetMethod(method)
	req.Header.Set("Accept", "application/json")

	deadline, ok := ctx.Deadline()
	if !ok || time.Until(deadline) > c.config.Timeout {
		deadline = time.Now().Add(c.config.Timeout)
	}

	if err := provider.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if code := resp.StatusCode(); code != fasthttp.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", code, resp.Body())
	}

	result := make([]byte, len(resp.Body()))
	copy(result, resp.Body())
	return result, nil
}

func (c *Client) checkCircuitBreaker(provider *Provider) {
	fails := provider.metrics.ConsecutiveFails.Load()
	if fails >= int32(c.config.CircuitBreakerThreshold) {
		provider.openCircuit(c.config.CircuitBreakerTimeout)
		logger.Warn("weather circuit breaker opened", "provider", provider.name, "consecutive_fails", fails, "timeout", c.config.CircuitBreakerTimeout)
	}
}

func (c *Client) healthChecker() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.performHealthChecks()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Client) performHealthChecks() {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()

	c.mu.RLock()
	providers := append([]*Provider(nil), c.providers...)
	c.mu.RUnlock()

	for _, p := range providers {
		if p.GetState() == StateCircuitOpen {
			continue
		}
		old := p.GetState()
		next := StateUnhealthy
		if c.healthy(ctx, p) {
			next = StateHealthy
		}
		if next != old {
			p.SetState(next)
			logger.Info("weather provider state changed", "provider", p.name, "old_state", old.String(), "new_state", next.String())
		}
	}
}

func (c *Client) healthy(ctx context.Context, p *Provider) bool {
	body, err := c.doRequest(ctx, p, fasthttp.MethodGet, "/health")
	if err != nil {
		return false
	}
	var health struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &health); err != nil {
		return false
	}
	return health.Status == "healthy"
}

// Healthy reports whether at least one provider can take requests.
func (c *Client) Healthy() bool {
	_, err := c.SelectBestProvider()
	return err == nil
}

// GetProviderStats returns statistics sorted by score.
func (c *Client) GetProviderStats() []ProviderStats {
	c.mu.RLock()
	stats := make([]ProviderStats, 0, len(c.providers))
	for _, p := range c.providers {
		stats = append(stats, p.Stats())
	}
	c.mu.RUnlock()

	sort.Slice(stats, func(i, j int) bool { return stats[i].Score > stats[j].Score })
	return stats
}

func (c *Client) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	logger.Info("weather client closed")
	return nil
}
