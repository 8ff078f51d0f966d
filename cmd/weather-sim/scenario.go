package main

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/nimasrn/drone-dispatch/pkg/geo"
)

// Reading is the payload served on /api/v1/weather.
type Reading struct {
	WindSpeed       float64 `koanf:"wind_speed" json:"wind_speed"`
	RainProbability float64 `koanf:"rain_probability" json:"rain_probability"`
	Visibility      float64 `koanf:"visibility" json:"visibility"`
	Condition       string  `koanf:"condition" json:"condition"`
}

// Zone overrides the default reading inside a circle.
type Zone struct {
	Name     string  `koanf:"name" json:"name"`
	Lat      float64 `koanf:"lat" json:"lat"`
	Lng      float64 `koanf:"lng" json:"lng"`
	RadiusKm float64 `koanf:"radius_km" json:"radius_km"`
	Reading  Reading `koanf:"reading" json:"reading"`
}

func (z Zone) point() geo.Point { return geo.Point{Lat: z.Lat, Lng: z.Lng} }

type Config struct {
	Port string `koanf:"port"`
	// FailureRate is the share of requests answered with 503.
	FailureRate float64       `koanf:"failure_rate"`
	MinDelay    time.Duration `koanf:"min_delay"`
	MaxDelay    time.Duration `koanf:"max_delay"`
	Default     Reading       `koanf:"default"`
	Zones       []Zone        `koanf:"zones"`
}

func defaultConfig() Config {
	return Config{
		Port:    "8081",
		Default: Reading{WindSpeed: 4, RainProbability: 10, Visibility: 10000, Condition: "clear"},
	}
}

// LoadConfig reads the scenario file, if any, and applies WEATHER_SIM_
// environment overrides, e.g. WEATHER_SIM_FAILURE_RATE=0.2.
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
		default:
			return Config{}, fmt.Errorf("unsupported scenario format: %s", path)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load scenario: %w", err)
		}
	}
	if err := k.Load(env.Provider("WEATHER_SIM_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "WEATHER_SIM_"))
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	cfg := defaultConfig()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode scenario: %w", err)
	}
	if cfg.FailureRate < 0 || cfg.FailureRate > 1 {
		return Config{}, fmt.Errorf("failure_rate must be within [0,1], got %v", cfg.FailureRate)
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	return cfg, nil
}

// Scenario answers weather lookups. Zones can be replaced at runtime.
type Scenario struct {
	mu          sync.RWMutex
	def         Reading
	zones       []Zone
	failureRate float64
	minDelay    time.Duration
	maxDelay    time.Duration
	rng         *rand.Rand
	rngMu       sync.Mutex
}

func NewScenario(cfg Config) *Scenario {
	return &Scenario{
		def:         cfg.Default,
		zones:       cfg.Zones,
		failureRate: cfg.FailureRate,
		minDelay:    cfg.MinDelay,
		maxDelay:    cfg.MaxDelay,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Lookup returns the reading of the first zone containing p, or the default.
func (s *Scenario) Lookup(p geo.Point) (Reading, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, z := range s.zones {
		if geo.HaversineKm(p, z.point()) <= z.RadiusKm {
			return z.Reading, z.Name
		}
	}
	return s.def, ""
}

// PutZone adds the zone or replaces the one with the same name.
func (s *Scenario) PutZone(z Zone) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.zones {
		if s.zones[i].Name == z.Name {
			s.zones[i] = z
			return
		}
	}
	s.zones = append(s.zones, z)
}

func (s *Scenario) DeleteZone(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.zones {
		if s.zones[i].Name == name {
			s.zones = append(s.zones[:i], s.zones[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Scenario) Zones() []Zone {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Zone, len(s.zones))
	copy(out, s.zones)
	return out
}

func (s *Scenario) SetFailureRate(rate float64) {
	s.mu.Lock()
	s.failureRate = rate
	s.mu.Unlock()
}

func (s *Scenario) shouldFail() bool {
	s.mu.RLock()
	rate := s.failureRate
	s.mu.RUnlock()
	if rate <= 0 {
		return false
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64() < rate
}

func (s *Scenario) delay() time.Duration {
	delta := s.maxDelay - s.minDelay
	if delta <= 0 {
		return s.minDelay
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.minDelay + time.Duration(s.rng.Int63n(int64(delta)))
}
