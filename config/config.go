package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Storage  StorageConfig
	Worker   WorkerConfig
	Dispatch DispatchConfig
	Monitor  MonitorConfig
	Output   OutputConfig
	Server   ServerConfig
	Metrics  MetricsConfig
	Tracing  TracingConfig
	MinIO    MinIOConfig
	RabbitMQ RabbitMQConfig
	Log      LogConfig
}

type StorageConfig struct {
	InputDir  string
	OutputDir string
}

type WorkerConfig struct {
	Count     int
	QueueSize int
}

type DispatchConfig struct {
	QueueSize   int
	Concurrency int
}

type MonitorConfig struct {
	BufferSize   int
	PollInterval time.Duration
}

type OutputConfig struct {
	BufferSize   int
	PollInterval time.Duration
	SendTimeout  time.Duration
}

type ServerConfig struct {
	Enabled     bool
	Host        string
	Port        int
	Mode        string
	WaitTimeout time.Duration
}

type MetricsConfig struct {
	Enabled  bool
	Endpoint string
}

type TracingConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
}

type MinIOConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	SSL       bool
	Location  string
}

type RabbitMQConfig struct {
	Enabled    bool
	Host       string
	Port       int
	User       string
	Password   string
	Exchange   string
	RoutingKey string
}

type LogConfig struct {
	Level  string
	Format string
}

// RabbitMQURL generates the connection string for RabbitMQ
func (c *RabbitMQConfig) RabbitMQURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/",
		c.User, c.Password, c.Host, c.Port)
}

// Flags returns the command line flags understood by Load.
// Flags that are set override both the .env file and the environment.
func Flags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("orchestrator", pflag.ContinueOnError)
	flags.String("input-dir", "", "directory holding registered source images")
	flags.String("output-dir", "", "directory holding processed images")
	flags.Int("workers", 0, "number of worker slots")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.Bool("http", false, "serve the HTTP API")
	return flags
}

var flagKeys = map[string]string{
	"input-dir":  "storage.input.dir",
	"output-dir": "storage.output.dir",
	"workers":    "worker.count",
	"log-level":  "log.level",
	"http":       "server.enabled",
}

// Load returns the application configuration from the .env file,
// environment variables and, when given, parsed command line flags.
func Load(flags *pflag.FlagSet) (*Config, error) {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !isMissingFile(err) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := viper.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("error binding flag %s: %w", name, err)
			}
		}
	}

	var config Config
	if err := unmarshalConfig(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// With SetConfigFile a missing .env surfaces as a plain fs error
// rather than ConfigFileNotFoundError.
func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func setDefaults() {
	// Storage defaults
	viper.SetDefault("storage.input.dir", "slike")
	viper.SetDefault("storage.output.dir", "output")

	// Worker defaults
	viper.SetDefault("worker.count", 4)
	viper.SetDefault("worker.queue.size", 16)

	// Dispatch defaults
	viper.SetDefault("dispatch.queue.size", 64)
	viper.SetDefault("dispatch.concurrency", 8)

	// Monitor defaults
	viper.SetDefault("monitor.buffer.size", 64)
	viper.SetDefault("monitor.poll.interval", time.Second)

	// Output defaults
	viper.SetDefault("output.buffer.size", 128)
	viper.SetDefault("output.poll.interval", time.Second)
	viper.SetDefault("output.send.timeout", 5*time.Second)

	// Server defaults
	viper.SetDefault("server.enabled", false)
	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("server.wait.timeout", 30*time.Second)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.endpoint", "/metrics")

	// Tracing defaults
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.service.name", "image-orchestrator")
	viper.SetDefault("tracing.service.version", "1.0.0")
	viper.SetDefault("tracing.environment", "development")
	viper.SetDefault("tracing.otlp.endpoint", "localhost:4317")

	// MinIO defaults
	viper.SetDefault("minio.enabled", false)
	viper.SetDefault("minio.endpoint", "localhost:9000")
	viper.SetDefault("minio.access.key", "minioadmin")
	viper.SetDefault("minio.secret.key", "minioadmin")
	viper.SetDefault("minio.bucket", "processed-images")
	viper.SetDefault("minio.ssl", false)
	viper.SetDefault("minio.location", "us-east-1")

	// RabbitMQ defaults
	viper.SetDefault("rabbitmq.enabled", false)
	viper.SetDefault("rabbitmq.host", "localhost")
	viper.SetDefault("rabbitmq.port", 5672)
	viper.SetDefault("rabbitmq.user", "guest")
	viper.SetDefault("rabbitmq.password", "guest")
	viper.SetDefault("rabbitmq.exchange", "image_orchestrator")
	viper.SetDefault("rabbitmq.routing.key", "task.events")

	// Log defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
}

func unmarshalConfig(config *Config) error {
	// Storage config
	config.Storage.InputDir = viper.GetString("storage.input.dir")
	config.Storage.OutputDir = viper.GetString("storage.output.dir")

	// Worker config
	config.Worker.Count = viper.GetInt("worker.count")
	config.Worker.QueueSize = viper.GetInt("worker.queue.size")

	// Dispatch config
	config.Dispatch.QueueSize = viper.GetInt("dispatch.queue.size")
	config.Dispatch.Concurrency = viper.GetInt("dispatch.concurrency")

	// Monitor config
	config.Monitor.BufferSize = viper.GetInt("monitor.buffer.size")
	config.Monitor.PollInterval = viper.GetDuration("monitor.poll.interval")

	// Output config
	config.Output.BufferSize = viper.GetInt("output.buffer.size")
	config.Output.PollInterval = viper.GetDuration("output.poll.interval")
	config.Output.SendTimeout = viper.GetDuration("output.send.timeout")

	// Server config
	config.Server.Enabled = viper.GetBool("server.enabled")
	config.Server.Host = viper.GetString("server.host")
	config.Server.Port = viper.GetInt("server.port")
	config.Server.Mode = viper.GetString("server.mode")
	config.Server.WaitTimeout = viper.GetDuration("server.wait.timeout")

	// Metrics config
	config.Metrics.Enabled = viper.GetBool("metrics.enabled")
	config.Metrics.Endpoint = viper.GetString("metrics.endpoint")

	// Tracing config
	config.Tracing.Enabled = viper.GetBool("tracing.enabled")
	config.Tracing.ServiceName = viper.GetString("tracing.service.name")
	config.Tracing.ServiceVersion = viper.GetString("tracing.service.version")
	config.Tracing.Environment = viper.GetString("tracing.environment")
	config.Tracing.OTLPEndpoint = viper.GetString("tracing.otlp.endpoint")

	// MinIO config
	config.MinIO.Enabled = viper.GetBool("minio.enabled")
	config.MinIO.Endpoint = viper.GetString("minio.endpoint")
	config.MinIO.AccessKey = viper.GetString("minio.access.key")
	config.MinIO.SecretKey = viper.GetString("minio.secret.key")
	config.MinIO.Bucket = viper.GetString("minio.bucket")
	config.MinIO.SSL = viper.GetBool("minio.ssl")
	config.MinIO.Location = viper.GetString("minio.location")

	// RabbitMQ config
	config.RabbitMQ.Enabled = viper.GetBool("rabbitmq.enabled")
	config.RabbitMQ.Host = viper.GetString("rabbitmq.host")
	config.RabbitMQ.Port = viper.GetInt("rabbitmq.port")
	config.RabbitMQ.User = viper.GetString("rabbitmq.user")
	config.RabbitMQ.Password = viper.GetString("rabbitmq.password")
	config.RabbitMQ.Exchange = viper.GetString("rabbitmq.exchange")
	config.RabbitMQ.RoutingKey = viper.GetString("rabbitmq.routing.key")

	// Log config
	config.Log.Level = viper.GetString("log.level")
	config.Log.Format = viper.GetString("log.format")

	return config.validate()
}

func (c *Config) validate() error {
	if c.Storage.InputDir == "" || c.Storage.OutputDir == "" {
		return fmt.Errorf("storage directories must not be empty")
	}
	if c.Worker.Count <= 0 {
		return fmt.Errorf("worker.count must be positive, got %d", c.Worker.Count)
	}
	if c.Worker.QueueSize < 0 {
		return fmt.Errorf("worker.queue.size must not be negative, got %d", c.Worker.QueueSize)
	}
	if c.Dispatch.Concurrency <= 0 {
		return fmt.Errorf("dispatch.concurrency must be positive, got %d", c.Dispatch.Concurrency)
	}
	if c.Monitor.BufferSize < 0 {
		return fmt.Errorf("monitor.buffer.size must not be negative, got %d", c.Monitor.BufferSize)
	}
	if c.Monitor.PollInterval <= 0 {
		return fmt.Errorf("monitor.poll.interval must be positive")
	}
	if c.Output.PollInterval <= 0 {
		return fmt.Errorf("output.poll.interval must be positive")
	}
	return nil
}
