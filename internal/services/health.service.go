package services

import (
	"context"
	"time"
)

const healthTimeout = 2 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

type WeatherHealth interface {
	Healthy() bool
}

// HealthReport lists each dependency as "up" or "down".
type HealthReport struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

func (r HealthReport) Healthy() bool { return r.Status == "healthy" }

// HealthService probes the storage the dispatch service cannot run without.
// The weather gate is reported but does not fail the check, launches fall
// back to regular delivery while it is down.
type HealthService struct {
	db      Pinger
	redis   Pinger
	weather WeatherHealth
}

func NewHealthService(db, redis Pinger, weather WeatherHealth) *HealthService {
	return &HealthService{db: db, redis: redis, weather: weather}
}

func (s *HealthService) Check(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	r := HealthReport{Status: "healthy", Components: map[string]string{}}
	probe := func(name string, p Pinger) {
		if p == nil {
			return
		}
		if err := p.Ping(ctx); err != nil {
			r.Components[name] = "down"
			r.Status = "unhealthy"
			return
		}
		r.Components[name] = "up"
	}
	probe("database", s.db)
	probe("redis", s.redis)

	if s.weather != nil {
		r.Components["weather"] = "up"
		if !s.weather.Healthy() {
			r.Components["weather"] = "down"
		}
	}
	return r
}
