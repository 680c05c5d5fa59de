// Package config reads settings from the environment and an optional .env
// file. Command-line flags override what is loaded here.
package config

import (
	"fmt"
	"net/url"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	LogLevel    string `env:"LOG_LEVEL"    envDefault:"info"`
	MetricsPort int    `env:"METRICS_PORT" envDefault:"0"`

	DatabaseURL      string `env:"DATABASE_URL"`
	PostgresHost     string `env:"POSTGRES_HOST"`
	PostgresUser     string `env:"POSTGRES_USER"`
	PostgresPassword string `env:"POSTGRES_PASSWORD"`
	PostgresDB       string `env:"POSTGRES_DB"       envDefault:"facecensus"`
	PostgresPort     int    `env:"POSTGRES_PORT"     envDefault:"5432"`

	Backend          string `env:"FACECENSUS_BACKEND" envDefault:"onnx"`
	DetectionWeights string `env:"DETECTION_WEIGHTS"  envDefault:"weights/det_10g.onnx"`
	AttributeWeights string `env:"ATTRIBUTE_WEIGHTS"  envDefault:"weights/genderage.onnx"`
	ONNXRuntimeLib   string `env:"ONNXRUNTIME_LIB"`
	PythonBin        string `env:"PYTHON_BIN"         envDefault:"python3"`
	WorkerScript     string `env:"WORKER_SCRIPT"      envDefault:"python/worker.py"`

	RabbitMQURL      string `env:"RABBITMQ_URL"`
	RabbitMQExchange string `env:"RABBITMQ_EXCHANGE" envDefault:"facecensus"`

	MinIOEndpoint  string `env:"MINIO_ENDPOINT"`
	MinIOAccessKey string `env:"MINIO_ACCESS_KEY"`
	MinIOSecretKey string `env:"MINIO_SECRET_KEY"`
	MinIOUseSSL    bool   `env:"MINIO_USE_SSL"    envDefault:"false"`
	MinIOBucket    string `env:"MINIO_BUCKET"     envDefault:"facecensus"`
	MinIOPrefix    string `env:"MINIO_PREFIX"     envDefault:"scans"`
}

// Load reads .env (if present) and then the environment. Variables already
// set in the environment win over .env.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()
	return Parse()
}

// Parse reads the environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DSN is the PostgreSQL connection string: DATABASE_URL, else one built from
// the POSTGRES_* variables. Empty means persistence is off.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	if c.PostgresHost == "" {
		return ""
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:   "/" + c.PostgresDB,
	}
	if c.PostgresUser != "" {
		u.User = url.UserPassword(c.PostgresUser, c.PostgresPassword)
	}
	return u.String()
}

// ObjectStoreEnabled reports whether uploads are configured.
func (c *Config) ObjectStoreEnabled() bool {
	return c.MinIOEndpoint != ""
}

// EventsEnabled reports whether events are configured.
func (c *Config) EventsEnabled() bool {
	return c.RabbitMQURL != ""
}
