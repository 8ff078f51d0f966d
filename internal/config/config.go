package config

import (
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/nimasrn/drone-dispatch/pkg/logger"
	"github.com/pkg/errors"
)

var config *Config

// Config holds every configuration value of the dispatch processes.
// Only this struct must be used to hold configuration values, no direct
// access to env, ini or any other config source should be made.
type Config struct {
	AppEnv              string `env:"APP_ENV" default:"dev"`
	AppName             string `env:"APP_NAME" default:"drone_dispatch"`
	AppDebug            bool   `env:"APP_DEBUG" default:"false"`
	AppDebugMetricsAddr string `env:"APP_DEBUG_METRIC_ADDR"`
	AppDebugMetricsURI  string `env:"APP_DEBUG_METRIC_URI" default:"/metrics"`

	HttpListenAddr         string        `env:"HTTP_LISTEN_ADDR" default:":8080"`
	HttpServerReadTimeout  time.Duration `env:"HTTP_SERVER_READ_TIMEOUT" default:"5s"`
	HttpServerWriteTimeout time.Duration `env:"HTTP_SERVER_WRITE_TIMEOUT" default:"5s"`
	HttpRequestTimeout     time.Duration `env:"HTTP_REQUEST_TIMEOUT" default:"10s"`
	HttpCorsAllowedOrigins string        `env:"HTTP_CORS_ALLOWED_ORIGINS" default:"*"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT" default:"5432"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT" default:"5432"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`
	PostgresMaxOpenConns  int    `env:"POSTGRES_MAX_OPEN_CONNS" default:"20"`

	RedisAddr               string `env:"REDIS_ADDR" default:"localhost:6379"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX" default:"dispatch:"`

	PromNamespace string `env:"PROM_NAMESPACE" default:"drone_dispatch"`

	JwtSecret string `env:"JWT_SECRET"`
	JwtIssuer string `env:"JWT_ISSUER" default:"drone-dispatch"`

	WeatherPrimaryUrl          string        `env:"WEATHER_PRIMARY_URL" default:"http://localhost:8081"`
	WeatherSecondaryUrl        string        `env:"WEATHER_SECONDARY_URL"`
	WeatherTimeout             time.Duration `env:"WEATHER_TIMEOUT" default:"3s"`
	WeatherMaxRetries          int           `env:"WEATHER_MAX_RETRIES" default:"2"`
	WeatherRetryDelay          time.Duration `env:"WEATHER_RETRY_DELAY" default:"200ms"`
	WeatherHealthCheckInterval time.Duration `env:"WEATHER_HEALTH_CHECK_INTERVAL" default:"30s"`
	WeatherMaxWindSpeed        float64       `env:"WEATHER_MAX_WIND_SPEED" default:"10"`
	WeatherMaxRainProbability  float64       `env:"WEATHER_MAX_RAIN_PROBABILITY" default:"40"`
	WeatherMinVisibility       float64       `env:"WEATHER_MIN_VISIBILITY" default:"3000"`

	QrTokenTTL      time.Duration `env:"QR_TOKEN_TTL" default:"5m"`
	HandoffTokenTTL time.Duration `env:"HANDOFF_TOKEN_TTL" default:"5m"`

	DroneLowBatteryThreshold float64       `env:"DRONE_LOW_BATTERY_THRESHOLD" default:"15"`
	DronePickupMinBattery    float64       `env:"DRONE_PICKUP_MIN_BATTERY" default:"20"`
	DroneCruiseAltitude      float64       `env:"DRONE_CRUISE_ALTITUDE" default:"120"`
	DroneCruiseSpeedKmh      float64       `env:"DRONE_CRUISE_SPEED_KMH" default:"40"`
	LowBatteryAlertCooldown  time.Duration `env:"LOW_BATTERY_ALERT_COOLDOWN" default:"0s"`

	NotificationQueueName              string        `env:"NOTIFICATION_QUEUE_NAME" default:"notifications"`
	NotificationQueueConsumerGroup     string        `env:"NOTIFICATION_QUEUE_CONSUMER_GROUP" default:"notifier"`
	NotificationQueueConsumerName      string        `env:"NOTIFICATION_QUEUE_CONSUMER_NAME"`
	NotificationQueueMaxRetries        int           `env:"NOTIFICATION_QUEUE_MAX_RETRIES" default:"5"`
	NotificationQueueVisibilityTimeout time.Duration `env:"NOTIFICATION_QUEUE_VISIBILITY_TIMEOUT" default:"30s"`
	NotificationQueuePollInterval      time.Duration `env:"NOTIFICATION_QUEUE_POLL_INTERVAL" default:"500ms"`
	NotificationQueueBatchSize         int64         `env:"NOTIFICATION_QUEUE_BATCH_SIZE" default:"50"`
	NotificationQueueMaxLen            int64         `env:"NOTIFICATION_QUEUE_MAX_LEN" default:"100000"`
	NotificationQueueEnableDLQ         bool          `env:"NOTIFICATION_QUEUE_ENABLE_DLQ" default:"true"`
	NotificationWorkers                int           `env:"NOTIFICATION_WORKERS" default:"16"`

	RealtimeListenAddr     string `env:"REALTIME_LISTEN_ADDR" default:":8090"`
	RealtimeAllowedOrigins string `env:"REALTIME_ALLOWED_ORIGINS" default:"*"`

	MqttBrokerUrl      string `env:"MQTT_BROKER_URL"`
	MqttClientID       string `env:"MQTT_CLIENT_ID" default:"drone-dispatch"`
	MqttUsername       string `env:"MQTT_USERNAME"`
	MqttPassword       string `env:"MQTT_PASSWORD"`
	MqttTelemetryTopic string `env:"MQTT_TELEMETRY_TOPIC" default:"drones/+/telemetry"`

	InfluxUrl    string `env:"INFLUX_URL"`
	InfluxToken  string `env:"INFLUX_TOKEN"`
	InfluxOrg    string `env:"INFLUX_ORG"`
	InfluxBucket string `env:"INFLUX_BUCKET" default:"drone_telemetry"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	var err error
	if path != "" {
		logger.Info("trying to publish env from file", "path", path)
		err = godotenv.Load(path)
		if err != nil {
			return errors.Wrapf(err, "failed to load configuration file %s", path)
		}
	}

	_, err = env.UnmarshalFromEnviron(c)
	if err != nil {
		return errors.Wrap(err, "failed to map env variables to Configuration object")
	}

	if err = c.Validate(); err != nil {
		return err
	}

	config = c
	return nil
}

// Set replaces the loaded configuration, tests use it to skip the environment.
func Set(c *Config) {
	config = c
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}

func (c *Config) Validate() error {
	if c.JwtSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.WeatherPrimaryUrl == "" {
		return errors.New("WEATHER_PRIMARY_URL is required")
	}
	if c.DroneLowBatteryThreshold < 0 || c.DroneLowBatteryThreshold > 100 {
		return errors.Errorf("DRONE_LOW_BATTERY_THRESHOLD out of range: %v", c.DroneLowBatteryThreshold)
	}
	if c.QrTokenTTL <= 0 {
		return errors.New("QR_TOKEN_TTL must be positive")
	}
	return nil
}

// CorsOrigins splits HTTP_CORS_ALLOWED_ORIGINS.
func (c *Config) CorsOrigins() []string {
	return splitList(c.HttpCorsAllowedOrigins)
}

// RealtimeOrigins splits REALTIME_ALLOWED_ORIGINS.
func (c *Config) RealtimeOrigins() []string {
	return splitList(c.RealtimeAllowedOrigins)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
