// Package config loads the core runtime's configuration surface (spec §6).
//
// Configuration is a single YAML document plus environment-variable
// overrides, following the override idiom used throughout the platform
// (SYNC_WORK_DIR / SYNC_INTERVAL style env fallbacks). Every field can be
// set in the YAML file; only the fields read in applyEnvOverrides
// (database connection, cache host, log level, data dir, proxy URL, HTTP
// address, NATS URL) can be overridden from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// SchedulerConfig mirrors spec §6's [scheduler] section. TickSeconds is
// fixed at 1.0 and intentionally not exposed as user-tunable; it exists
// here only so the tick duration has one named source of truth.
type SchedulerConfig struct {
	TickSeconds float64 `yaml:"-"`
}

// ThreeTierMemoryConfig mirrors spec §6's [three_tier_memory] section.
type ThreeTierMemoryConfig struct {
	Enable                        bool    `yaml:"enable"`
	PerceptualMaxBlocks           int     `yaml:"perceptual_max_blocks"`
	PerceptualBlockSize           int     `yaml:"perceptual_block_size"`
	PerceptualSimilarityThreshold float64 `yaml:"perceptual_similarity_threshold"`
	PerceptualTopK                int     `yaml:"perceptual_topk"`
	ShortTermMaxMemories          int     `yaml:"short_term_max_memories"`
	ShortTermTransferThreshold    float64 `yaml:"short_term_transfer_threshold"`
	ShortTermDecayFactor          float64 `yaml:"short_term_decay_factor"`
	ActivationThreshold           int     `yaml:"activation_threshold"`
	LongTermBatchSize             int     `yaml:"long_term_batch_size"`
	LongTermDecayFactor           float64 `yaml:"long_term_decay_factor"`
	LongTermAutoTransferInterval  int     `yaml:"long_term_auto_transfer_interval"`
	JudgeModelName                string  `yaml:"judge_model_name"`
	JudgeTemperature              float64 `yaml:"judge_temperature"`
	EnableJudgeRetrieval          bool    `yaml:"enable_judge_retrieval"`
}

// MasterUser identifies a (platform, user_id) pair that bypasses all
// permission checks unconditionally.
type MasterUser struct {
	Platform string `yaml:"platform"`
	UserID   string `yaml:"user_id"`
}

// PermissionConfig mirrors spec §6's [permission] section.
type PermissionConfig struct {
	MasterUsers []MasterUser `yaml:"master_users"`
}

// DependencyManagementConfig mirrors spec §6's [dependency_management]
// section.
type DependencyManagementConfig struct {
	AutoInstall        bool     `yaml:"auto_install"`
	AutoInstallTimeout int      `yaml:"auto_install_timeout"`
	UseProxy           bool     `yaml:"use_proxy"`
	ProxyURL           string   `yaml:"proxy_url"`
	AllowedAutoInstall []string `yaml:"allowed_auto_install"`
}

// BusConfig configures the message bus's inbound queue and adapter
// timeouts — not named in spec.md's config surface directly but implied
// by §5's "bounded (default 1024)" and §4.1's "10-second default timeout".
type BusConfig struct {
	InboundQueueDepth  int `yaml:"inbound_queue_depth"`
	AdapterTimeoutSecs int `yaml:"adapter_timeout_seconds"`
	DrainTimeoutSecs   int `yaml:"drain_timeout_seconds"`
}

// DatabaseConfig mirrors the teacher's db.Config shape, generalized from a
// single Postgres target to the tables this module persists (spec §6).
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// CacheConfig mirrors the teacher's redis cache config.
type CacheConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	DB      int    `yaml:"db"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig controls the ambient logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// JournalConfig points at the on-disk staging journal directory (spec §6,
// "JSON journals (staging)").
type JournalConfig struct {
	DataDir string `yaml:"data_dir"`
}

// ServerConfig configures the adapter boundary's listening transport
// (spec §4.1: WebSocket and HTTP adapters share one gin engine/port, the
// same way the teacher mounts its agent WebSocket route alongside its
// REST API routes on a single *gin.Engine).
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// NatsConfig configures the optional NATS cross-process adapter transport
// (spec §11 domain stack). Left with an empty URL, the adapter disables
// itself rather than failing startup.
type NatsConfig struct {
	URL       string   `yaml:"url"`
	User      string   `yaml:"user"`
	Password  string   `yaml:"password"`
	Platforms []string `yaml:"platforms"`
}

// Config is the root of the core runtime's configuration surface.
type Config struct {
	Scheduler        SchedulerConfig            `yaml:"-"`
	ThreeTierMemory  ThreeTierMemoryConfig      `yaml:"three_tier_memory"`
	Permission       PermissionConfig           `yaml:"permission"`
	DependencyMgmt   DependencyManagementConfig `yaml:"dependency_management"`
	Bus              BusConfig                  `yaml:"bus"`
	Database         DatabaseConfig             `yaml:"database"`
	Cache            CacheConfig                `yaml:"cache"`
	Logging          LoggingConfig              `yaml:"logging"`
	Journal          JournalConfig              `yaml:"journal"`
	Server           ServerConfig               `yaml:"server"`
	Nats             NatsConfig                 `yaml:"nats"`
}

// Default returns a Config populated with spec-mandated defaults
// (block size K=5, M=50, topk=3, threshold τ_p=0.55, S=100, decay_s=0.98,
// activation A=3, batch B=10, interval T=600, decay_l=0.95).
func Default() *Config {
	return &Config{
		Scheduler: SchedulerConfig{TickSeconds: 1.0},
		ThreeTierMemory: ThreeTierMemoryConfig{
			Enable:                        true,
			PerceptualMaxBlocks:           50,
			PerceptualBlockSize:           5,
			PerceptualSimilarityThreshold: 0.55,
			PerceptualTopK:                3,
			ShortTermMaxMemories:          100,
			ShortTermTransferThreshold:    0.6,
			ShortTermDecayFactor:          0.98,
			ActivationThreshold:           3,
			LongTermBatchSize:             10,
			LongTermDecayFactor:           0.95,
			LongTermAutoTransferInterval:  600,
			JudgeModelName:                "judge-small",
			JudgeTemperature:              0.0,
			EnableJudgeRetrieval:          true,
		},
		Permission: PermissionConfig{},
		DependencyMgmt: DependencyManagementConfig{
			AutoInstall:        false,
			AutoInstallTimeout: 60,
			UseProxy:           false,
		},
		Bus: BusConfig{
			InboundQueueDepth:  1024,
			AdapterTimeoutSecs: 10,
			DrainTimeoutSecs:   10,
		},
		Database: DatabaseConfig{Host: "localhost", Port: 5432, SSLMode: "disable"},
		Cache:    CacheConfig{Host: "localhost", Port: 6379, Enabled: false},
		Logging:  LoggingConfig{Level: "info", Pretty: false},
		Journal:  JournalConfig{DataDir: "./data"},
		Server:   ServerConfig{HTTPAddr: ":8000"},
		Nats:     NatsConfig{},
	}
}

// Load reads a YAML configuration file and applies environment-variable
// overrides. path may be empty, in which case defaults are returned
// unmodified (aside from env overrides).
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.Scheduler.TickSeconds = 1.0
	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MOFOX_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("MOFOX_DB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = p
		}
	}
	if v := os.Getenv("MOFOX_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("MOFOX_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("MOFOX_DB_NAME"); v != "" {
		cfg.Database.DBName = v
	}
	if v := os.Getenv("MOFOX_CACHE_HOST"); v != "" {
		cfg.Cache.Host = v
		cfg.Cache.Enabled = true
	}
	if v := os.Getenv("MOFOX_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MOFOX_DATA_DIR"); v != "" {
		cfg.Journal.DataDir = v
	}
	if v := os.Getenv("MOFOX_PROXY_URL"); v != "" {
		cfg.DependencyMgmt.ProxyURL = v
		cfg.DependencyMgmt.UseProxy = true
	}
	if v := os.Getenv("MOFOX_HTTP_ADDR"); v != "" {
		cfg.Server.HTTPAddr = v
	}
	if v := os.Getenv("MOFOX_NATS_URL"); v != "" {
		cfg.Nats.URL = v
	}
}
