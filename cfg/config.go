package cfg

import (
	"flag"
	"fmt"
	"os"
	"path"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
)

// StoreConfiguration controls the shared SQLite store
type StoreConfiguration struct {
	Path          string `toml:"path"`            // Defaults to {data_dir}/burrow.db
	BusyTimeoutMS int    `toml:"busy_timeout_ms"` // SQLite busy timeout
	ReadPoolSize  int    `toml:"read_pool_size"`  // Connections in the read pool
}

// MessageConfiguration controls the change-message pipeline
type MessageConfiguration struct {
	ScanIntervalMS   int `toml:"scan_interval_ms"`          // Cache catch-up poll interval
	ScanBatchSize    int `toml:"scan_batch_size"`           // Rows per catch-up page
	CleanQueueSize   int `toml:"clean_queue_size"`          // Compactor queue capacity
	CleanBatchSize   int `toml:"clean_batch_size"`          // Rows deleted per compaction batch
	CleanIdleSleepS  int `toml:"clean_idle_sleep_seconds"`  // Sleep when queue is empty
	CleanPollWaitS   int `toml:"clean_poll_wait_seconds"`   // Blocking wait on the queue
	LongPollTimeoutS int `toml:"long_poll_timeout_seconds"` // Notification long-poll hold
}

// ForwardConfiguration controls the optional cross-process push bridge.
// The DB poll loop remains the correctness guarantee; forwarding only
// lowers notification latency.
type ForwardConfiguration struct {
	Enabled bool     `toml:"enabled"`
	Sink    string   `toml:"sink"` // "nats" or "kafka"
	NatsURL string   `toml:"nats_url"`
	Brokers []string `toml:"brokers"`
	Subject string   `toml:"subject"`
}

// AdminConfiguration for the admin/notification HTTP listener
type AdminConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// Configuration is the main configuration structure
type Configuration struct {
	InstanceName string `toml:"instance_name"`
	DataDir      string `toml:"data_dir"`

	Store      StoreConfiguration      `toml:"store"`
	Message    MessageConfiguration    `toml:"message"`
	Forward    ForwardConfiguration    `toml:"forward"`
	Admin      AdminConfiguration      `toml:"admin"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin HTTP port (overrides config)")
)

// Default configuration
var Config = &Configuration{
	InstanceName: "",
	DataDir:      "./burrow-data",

	Store: StoreConfiguration{
		Path:          "",
		BusyTimeoutMS: 5000,
		ReadPoolSize:  4,
	},

	Message: MessageConfiguration{
		ScanIntervalMS:   1000, // 1 second between catch-up scans
		ScanBatchSize:    500,  // page size of a catch-up scan
		CleanQueueSize:   100,  // compaction queue capacity, drop on full
		CleanBatchSize:   100,  // old rows deleted per batch
		CleanIdleSleepS:  5,
		CleanPollWaitS:   1,
		LongPollTimeoutS: 60,
	},

	Forward: ForwardConfiguration{
		Enabled: false,
		Sink:    "nats",
		Subject: "burrow.releases",
	},

	Admin: AdminConfiguration{
		Enabled: true,
		Address: "0.0.0.0",
		Port:    8070,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
		Address: "0.0.0.0",
		Port:    9090,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	// Load from file if it exists
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}

	if Config.InstanceName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "burrow"
		}
		Config.InstanceName = hostname
	}

	// Ensure data directory exists
	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// StorePath returns the SQLite database path, defaulting under the data dir
func StorePath() string {
	if Config.Store.Path != "" {
		return Config.Store.Path
	}
	return path.Join(Config.DataDir, "burrow.db")
}

// Validate checks configuration for errors
func Validate() error {
	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	if Config.Prometheus.Enabled && (Config.Prometheus.Port < 1 || Config.Prometheus.Port > 65535) {
		return fmt.Errorf("invalid prometheus port: %d", Config.Prometheus.Port)
	}

	if Config.Store.BusyTimeoutMS < 0 {
		return fmt.Errorf("store busy timeout must be >= 0")
	}

	if Config.Store.ReadPoolSize < 1 {
		return fmt.Errorf("store read pool size must be >= 1")
	}

	if Config.Message.ScanIntervalMS < 1 {
		return fmt.Errorf("message scan interval must be >= 1ms")
	}

	if Config.Message.ScanBatchSize < 1 {
		return fmt.Errorf("message scan batch size must be >= 1")
	}

	if Config.Message.CleanQueueSize < 1 {
		return fmt.Errorf("message clean queue size must be >= 1")
	}

	if Config.Message.CleanBatchSize < 1 {
		return fmt.Errorf("message clean batch size must be >= 1")
	}

	if Config.Message.LongPollTimeoutS < 1 {
		return fmt.Errorf("long poll timeout must be >= 1 second")
	}

	if Config.Forward.Enabled {
		switch Config.Forward.Sink {
		case "nats":
			if Config.Forward.NatsURL == "" {
				return fmt.Errorf("forward sink nats requires nats_url")
			}
		case "kafka":
			if len(Config.Forward.Brokers) == 0 {
				return fmt.Errorf("forward sink kafka requires brokers")
			}
		default:
			return fmt.Errorf("unknown forward sink: %s", Config.Forward.Sink)
		}
		if Config.Forward.Subject == "" {
			return fmt.Errorf("forward subject must not be empty")
		}
	}

	switch Config.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unknown logging format: %s", Config.Logging.Format)
	}

	return nil
}
