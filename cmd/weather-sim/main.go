// weather-sim serves scripted weather readings in the format the dispatch
// weather gate expects, for local runs and load tests.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	ginlog "github.com/gin-contrib/logger"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nimasrn/drone-dispatch/pkg/geo"
)

type Handler struct {
	scenario *Scenario
}

func NewHandler(scenario *Scenario) *Handler {
	return &Handler{scenario: scenario}
}

// GetWeather handles GET /api/v1/weather?lat=..&lng=..
func (h *Handler) GetWeather(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	p := geo.Point{Lat: lat, Lng: lng}
	if errLat != nil || errLng != nil || !p.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lng are required"})
		return
	}

	time.Sleep(h.scenario.delay())
	if h.scenario.shouldFail() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "provider temporarily unavailable"})
		return
	}

	reading, zone := h.scenario.Lookup(p)
	log.Debug().
		Float64("lat", lat).
		Float64("lng", lng).
		Str("zone", zone).
		Str("condition", reading.Condition).
		Msg("served reading")
	c.JSON(http.StatusOK, reading)
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now().UTC()})
}

func (h *Handler) ListZones(c *gin.Context) {
	c.JSON(http.StatusOK, h.scenario.Zones())
}

// PutZone replaces a zone at runtime so a test can turn the weather bad
// over a shop or a customer.
func (h *Handler) PutZone(c *gin.Context) {
	var z Zone
	if err := c.ShouldBindJSON(&z); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	z.Name = c.Param("name")
	if z.RadiusKm <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "radius_km must be positive"})
		return
	}
	h.scenario.PutZone(z)
	log.Info().Str("zone", z.Name).Str("condition", z.Reading.Condition).Msg("zone updated")
	c.JSON(http.StatusOK, z)
}

func (h *Handler) DeleteZone(c *gin.Context) {
	if !h.scenario.DeleteZone(c.Param("name")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "zone not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) UpdateFailureRate(c *gin.Context) {
	var body struct {
		FailureRate *float64 `json:"failure_rate" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	if *body.FailureRate < 0 || *body.FailureRate > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failure_rate must be within [0,1]"})
		return
	}
	h.scenario.SetFailureRate(*body.FailureRate)
	log.Info().Float64("rate", *body.FailureRate).Msg("updated failure rate")
	c.JSON(http.StatusOK, gin.H{"failure_rate": *body.FailureRate})
}

func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginlog.SetLogger(ginlog.WithSkipPath([]string{"/health"})))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/weather", handler.GetWeather)
		v1.GET("/zones", handler.ListZones)
		v1.PUT("/zones/:name", handler.PutZone)
		v1.DELETE("/zones/:name", handler.DeleteZone)
		v1.PUT("/failure-rate", handler.UpdateFailureRate)
	}
	router.GET("/health", handler.HealthCheck)

	return router
}

func main() {
	scenarioPath := flag.String("scenario", os.Getenv("WEATHER_SIM_SCENARIO"), "scenario yaml file")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := LoadConfig(*scenarioPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load scenario")
	}
	log.Info().
		Str("port", cfg.Port).
		Int("zones", len(cfg.Zones)).
		Float64("failure_rate", cfg.FailureRate).
		Msg("starting weather simulator")

	router := SetupRouter(NewHandler(NewScenario(cfg)))
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited")
}
