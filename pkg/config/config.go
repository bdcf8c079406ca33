package config

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/downfa11-org/go-archiver/pkg/layout"
	"github.com/downfa11-org/go-archiver/util"
)

// Config represents the archiver configuration including tunable layout and
// observability options.
type Config struct {
	// Archive storage
	ArchiveDir      string `yaml:"archive_dir"`
	SegmentFileSize int32  `yaml:"segment_file_size"`

	// Replay
	ReplayFragmentLimit int `yaml:"replay_fragment_limit"`

	// Driver loop
	IdleSleepMS int `yaml:"idle_sleep_ms"`

	// Observability
	LogLevel        util.LogLevel `yaml:"log_level"`
	EnableExporter  bool          `yaml:"enable_exporter"`
	ExporterPort    int           `yaml:"exporter_port"`
	HealthCheckPort int           `yaml:"health_check_port"`

	// Operational one-shots (flags only)
	DescribeInstance int `yaml:"-"`
}

// LoadConfig builds the configuration from flags, an optional YAML file
// (-config or CONFIG_PATH) and defaults. File values override flag values.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	configPath := flag.String("config", "", "Path to YAML config file")
	flag.StringVar(&cfg.ArchiveDir, "archive-dir", "archive", "Directory for segment and metadata files")
	segmentSize := flag.Int("segment-file-size", 128*1024*1024, "Segment file size in bytes")
	flag.IntVar(&cfg.ReplayFragmentLimit, "replay-fragment-limit", 16, "Fragments delivered per replay poll")
	flag.IntVar(&cfg.IdleSleepMS, "idle-sleep-ms", 1, "Driver sleep when no session produced work (ms)")
	logLevelStr := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.BoolVar(&cfg.EnableExporter, "exporter", true, "Enable Prometheus exporter")
	flag.IntVar(&cfg.ExporterPort, "exporter-port", 9100, "Exporter port")
	flag.IntVar(&cfg.HealthCheckPort, "health-port", 9080, "Health check server port")
	flag.IntVar(&cfg.DescribeInstance, "describe", -1, "Print the catalog record for a stream instance id and exit")

	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" && *configPath == "" {
		*configPath = envPath
	}

	flag.Parse()

	cfg.SegmentFileSize = int32(*segmentSize)
	cfg.LogLevel = util.ParseLogLevel(*logLevelStr)

	if *configPath != "" {
		if err := loadFromFile(cfg, *configPath); err != nil {
			return nil, err
		}
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Normalize fills defaults for zero or out-of-range values.
func (cfg *Config) Normalize() {
	if strings.TrimSpace(cfg.ArchiveDir) == "" {
		cfg.ArchiveDir = "archive"
	}
	if cfg.SegmentFileSize <= 0 {
		cfg.SegmentFileSize = 128 * 1024 * 1024
	}
	if cfg.ReplayFragmentLimit <= 0 {
		cfg.ReplayFragmentLimit = 16
	}
	if cfg.IdleSleepMS < 0 {
		cfg.IdleSleepMS = 1
	}
	if cfg.ExporterPort <= 0 {
		cfg.ExporterPort = 9100
	}
	if cfg.HealthCheckPort <= 0 {
		cfg.HealthCheckPort = 9080
	}
}

// Validate rejects values that would corrupt the on-disk layout.
func (cfg *Config) Validate() error {
	if !layout.IsPowerOfTwo(cfg.SegmentFileSize) {
		return fmt.Errorf("segment_file_size must be a power of two, got %d", cfg.SegmentFileSize)
	}
	return nil
}
