package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Soda       SodaConfig
	Sync       SyncConfig
	Scheduler  SchedulerConfig
	Validation ValidationConfig
	API        APIConfig
}

type ServerConfig struct {
	Port int
	Env  string // "development", "production"
}

type DatabaseConfig struct {
	Host    string
	Port    string
	Name    string
	User    string
	Pass    string
	Charset string
}

type RedisConfig struct {
	Addr string
	Pass string
	DB   int
}

// SodaConfig drives the fetch client against the Chicago Open Data
// Portal SODA endpoints.
type SodaConfig struct {
	// Endpoints maps dataset slugs to resource URLs.
	Endpoints map[string]string
	Token     string

	RateLimitPerHour int
	RequestTimeout   time.Duration
	MaxRetries       int
	BackoffBase      time.Duration
	BackoffFactor    float64
	BackoffCap       time.Duration

	BreakerThreshold int
	BreakerCooldown  time.Duration
}

type SyncConfig struct {
	BatchSize          int
	MaxConcurrent      int
	DefaultStartDate   string
	BatchFailurePolicy string // "abort" or "continue"
}

type SchedulerConfig struct {
	TickSeconds int
	LeaderTTL   time.Duration
	LeaderKey   string
}

// ValidationConfig holds the geographic and attribute bounds applied
// during sanitization.
type ValidationConfig struct {
	MinLatitude    float64
	MaxLatitude    float64
	MinLongitude   float64
	MaxLongitude   float64
	MinAge         int
	MaxAge         int
	MinVehicleYear int
	MaxVehicleYear int
}

type APIConfig struct {
	Key string
}

// Load reads configuration from .env file and environment variables.
func Load() (*Config, error) {
	// Load .env file (ignore error if missing)
	_ = godotenv.Load()

	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("APP_PORT", 8080)
	viper.SetDefault("APP_ENV", "production")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "3306")
	viper.SetDefault("DB_CHARSET", "utf8mb4")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_DB", 0)

	viper.SetDefault("SODA_ENDPOINT_CRASHES", "https://data.cityofchicago.org/resource/85ca-t3if.json")
	viper.SetDefault("SODA_ENDPOINT_PEOPLE", "https://data.cityofchicago.org/resource/u6pd-qa9d.json")
	viper.SetDefault("SODA_ENDPOINT_VEHICLES", "https://data.cityofchicago.org/resource/68nd-jvt3.json")
	viper.SetDefault("SODA_ENDPOINT_FATALITIES", "https://data.cityofchicago.org/resource/gzaz-isa6.json")
	viper.SetDefault("SODA_RATE_LIMIT", 1000)
	viper.SetDefault("SODA_TIMEOUT", "30s")
	viper.SetDefault("SODA_MAX_RETRIES", 3)
	viper.SetDefault("SODA_BACKOFF_BASE", "1s")
	viper.SetDefault("SODA_BACKOFF_FACTOR", 2.0)
	viper.SetDefault("SODA_BACKOFF_CAP", "30s")
	viper.SetDefault("BREAKER_THRESHOLD", 5)
	viper.SetDefault("BREAKER_COOLDOWN", "60s")

	viper.SetDefault("SYNC_BATCH_SIZE", 50000)
	viper.SetDefault("SYNC_MAX_CONCURRENT", 5)
	viper.SetDefault("SYNC_DEFAULT_START_DATE", "2017-09-01")
	viper.SetDefault("SYNC_BATCH_FAILURE_POLICY", "abort")

	viper.SetDefault("SCHEDULER_TICK_SECONDS", 60)
	viper.SetDefault("SCHEDULER_LEADER_TTL", "90s")
	viper.SetDefault("SCHEDULER_LEADER_KEY", "crashsync:scheduler:leader")

	viper.SetDefault("MIN_LATITUDE", 41.6)
	viper.SetDefault("MAX_LATITUDE", 42.1)
	viper.SetDefault("MIN_LONGITUDE", -87.95)
	viper.SetDefault("MAX_LONGITUDE", -87.5)
	viper.SetDefault("MIN_AGE", 0)
	viper.SetDefault("MAX_AGE", 120)
	viper.SetDefault("MIN_VEHICLE_YEAR", 1900)
	viper.SetDefault("MAX_VEHICLE_YEAR", 2025)

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetInt("APP_PORT"),
			Env:  viper.GetString("APP_ENV"),
		},
		Database: DatabaseConfig{
			Host:    viper.GetString("DB_HOST"),
			Port:    viper.GetString("DB_PORT"),
			Name:    viper.GetString("DB_NAME"),
			User:    viper.GetString("DB_USER"),
			Pass:    viper.GetString("DB_PASS"),
			Charset: viper.GetString("DB_CHARSET"),
		},
		Redis: RedisConfig{
			Addr: viper.GetString("REDIS_ADDR"),
			Pass: viper.GetString("REDIS_PASS"),
			DB:   viper.GetInt("REDIS_DB"),
		},
		Soda: SodaConfig{
			Endpoints: map[string]string{
				"crashes":    viper.GetString("SODA_ENDPOINT_CRASHES"),
				"people":     viper.GetString("SODA_ENDPOINT_PEOPLE"),
				"vehicles":   viper.GetString("SODA_ENDPOINT_VEHICLES"),
				"fatalities": viper.GetString("SODA_ENDPOINT_FATALITIES"),
			},
			Token:            viper.GetString("SODA_TOKEN"),
			RateLimitPerHour: viper.GetInt("SODA_RATE_LIMIT"),
			RequestTimeout:   durationOr("SODA_TIMEOUT", 30*time.Second),
			MaxRetries:       viper.GetInt("SODA_MAX_RETRIES"),
			BackoffBase:      durationOr("SODA_BACKOFF_BASE", time.Second),
			BackoffFactor:    viper.GetFloat64("SODA_BACKOFF_FACTOR"),
			BackoffCap:       durationOr("SODA_BACKOFF_CAP", 30*time.Second),
			BreakerThreshold: viper.GetInt("BREAKER_THRESHOLD"),
			BreakerCooldown:  durationOr("BREAKER_COOLDOWN", time.Minute),
		},
		Sync: SyncConfig{
			BatchSize:          viper.GetInt("SYNC_BATCH_SIZE"),
			MaxConcurrent:      viper.GetInt("SYNC_MAX_CONCURRENT"),
			DefaultStartDate:   viper.GetString("SYNC_DEFAULT_START_DATE"),
			BatchFailurePolicy: viper.GetString("SYNC_BATCH_FAILURE_POLICY"),
		},
		Scheduler: SchedulerConfig{
			TickSeconds: viper.GetInt("SCHEDULER_TICK_SECONDS"),
			LeaderTTL:   durationOr("SCHEDULER_LEADER_TTL", 90*time.Second),
			LeaderKey:   viper.GetString("SCHEDULER_LEADER_KEY"),
		},
		Validation: ValidationConfig{
			MinLatitude:    viper.GetFloat64("MIN_LATITUDE"),
			MaxLatitude:    viper.GetFloat64("MAX_LATITUDE"),
			MinLongitude:   viper.GetFloat64("MIN_LONGITUDE"),
			MaxLongitude:   viper.GetFloat64("MAX_LONGITUDE"),
			MinAge:         viper.GetInt("MIN_AGE"),
			MaxAge:         viper.GetInt("MAX_AGE"),
			MinVehicleYear: viper.GetInt("MIN_VEHICLE_YEAR"),
			MaxVehicleYear: viper.GetInt("MAX_VEHICLE_YEAR"),
		},
		API: APIConfig{
			Key: viper.GetString("API_KEY"),
		},
	}

	if cfg.Database.Name == "" {
		log.Println("WARNING: DB_NAME is not set")
	}

	return cfg, nil
}

func durationOr(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(viper.GetString(key))
	if err != nil {
		return fallback
	}
	return d
}

// DSN returns the MySQL DSN string for GORM.
func (d *DatabaseConfig) DSN() string {
	return d.User + ":" + d.Pass + "@tcp(" + d.Host + ":" + d.Port + ")/" + d.Name + "?charset=" + d.Charset + "&parseTime=True&loc=Local"
}
