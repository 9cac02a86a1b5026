/*
 *     Copyright 2023 The Dragonfly Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	// Verbose enables debug logging.
	Verbose bool `yaml:"verbose" mapstructure:"verbose"`

	// Console writes logs to stdout instead of files.
	Console bool `yaml:"console" mapstructure:"console"`

	// Server configuration.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Database configuration of tracker and registry.
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Metrics store configuration.
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`

	// Training configuration.
	Training TrainingConfig `yaml:"training" mapstructure:"training"`

	// Serving configuration.
	Serving ServingConfig `yaml:"serving" mapstructure:"serving"`

	// Anomaly scorer configuration.
	Anomaly AnomalyConfig `yaml:"anomaly" mapstructure:"anomaly"`

	// GC configuration.
	GC GCConfig `yaml:"gc" mapstructure:"gc"`

	// Prometheus configuration.
	Prometheus PrometheusConfig `yaml:"prometheus" mapstructure:"prometheus"`
}

type ServerConfig struct {
	// Server log directory.
	LogDir string `yaml:"log_dir" mapstructure:"log_dir"`

	// Maximum size in megabytes of log files before rotation.
	LogMaxSize int `yaml:"log_max_size" mapstructure:"log_max_size"`

	// Maximum number of days to retain old log files.
	LogMaxAge int `yaml:"log_max_age" mapstructure:"log_max_age"`

	// Maximum number of old log files to keep.
	LogMaxBackups int `yaml:"log_max_backups" mapstructure:"log_max_backups"`

	// Server data directory, metric partitions and artifacts live here.
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`
}

type DatabaseConfig struct {
	// Type is one of mysql, postgres and sqlite.
	Type string `yaml:"type" mapstructure:"type"`

	// Mysql configuration.
	Mysql MysqlConfig `yaml:"mysql" mapstructure:"mysql"`

	// Postgres configuration.
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`

	// Sqlite configuration.
	Sqlite SqliteConfig `yaml:"sqlite" mapstructure:"sqlite"`
}

type MysqlConfig struct {
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	DBName   string `yaml:"dbname" mapstructure:"dbname"`
	Migrate  bool   `yaml:"migrate" mapstructure:"migrate"`
}

type PostgresConfig struct {
	User                 string `yaml:"user" mapstructure:"user"`
	Password             string `yaml:"password" mapstructure:"password"`
	Host                 string `yaml:"host" mapstructure:"host"`
	Port                 int    `yaml:"port" mapstructure:"port"`
	DBName               string `yaml:"dbname" mapstructure:"dbname"`
	SSLMode              string `yaml:"ssl_mode" mapstructure:"ssl_mode"`
	Timezone             string `yaml:"timezone" mapstructure:"timezone"`
	PreferSimpleProtocol bool   `yaml:"prefer_simple_protocol" mapstructure:"prefer_simple_protocol"`
	Migrate              bool   `yaml:"migrate" mapstructure:"migrate"`
}

type SqliteConfig struct {
	// Path of the database file, empty means DataDir/aiops.db.
	Path string `yaml:"path" mapstructure:"path"`
}

type MetricsConfig struct {
	// Retention policy of samples.
	Retention RetentionConfig `yaml:"retention" mapstructure:"retention"`
}

type RetentionConfig struct {
	// Raw is max age of raw samples.
	Raw time.Duration `yaml:"raw" mapstructure:"raw"`

	// Aggregate is max age of 1-minute rollups, zero keeps them forever.
	Aggregate time.Duration `yaml:"aggregate" mapstructure:"aggregate"`
}

type TrainingConfig struct {
	// MinRows is the minimum dataset size per model family.
	MinRows MinRowsConfig `yaml:"min_rows" mapstructure:"min_rows"`

	// Workers is the training pool size, zero means physical cores minus one.
	Workers int `yaml:"workers" mapstructure:"workers"`
}

type MinRowsConfig struct {
	Classifier int `yaml:"classifier" mapstructure:"classifier"`
	Regressor  int `yaml:"regressor" mapstructure:"regressor"`
	Anomaly    int `yaml:"anomaly" mapstructure:"anomaly"`
}

type ServingConfig struct {
	// Cache of loaded models.
	Cache CacheConfig `yaml:"cache" mapstructure:"cache"`

	// AllowHeuristicFallback lets predict answer in heuristic mode when no production version exists.
	AllowHeuristicFallback bool `yaml:"allow_heuristic_fallback" mapstructure:"allow_heuristic_fallback"`

	// WritebackTimeout bounds the asynchronous prediction write-back.
	WritebackTimeout time.Duration `yaml:"writeback_timeout" mapstructure:"writeback_timeout"`
}

type CacheConfig struct {
	// Capacity is the maximum number of loaded models.
	Capacity int `yaml:"capacity" mapstructure:"capacity"`
}

type AnomalyConfig struct {
	// ThresholdSigma is the z-score anomalous threshold.
	ThresholdSigma float64 `yaml:"threshold_sigma" mapstructure:"threshold_sigma"`

	// WindowSize is the number of baseline values kept per metric.
	WindowSize int `yaml:"window_size" mapstructure:"window_size"`
}

type GCConfig struct {
	// Interval of maintenance tasks.
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`

	// Timeout of a single maintenance task.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

type PrometheusConfig struct {
	// Enable metrics service.
	Enable bool `yaml:"enable" mapstructure:"enable"`

	// Metrics service address.
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// New default configuration.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			LogMaxSize:    DefaultLogRotateMaxSize,
			LogMaxAge:     DefaultLogRotateMaxAge,
			LogMaxBackups: DefaultLogRotateMaxBackups,
		},
		Database: DatabaseConfig{
			Type: DatabaseTypeSqlite,
			Mysql: MysqlConfig{
				Port:    DefaultMysqlPort,
				Migrate: true,
			},
			Postgres: PostgresConfig{
				Port:     DefaultPostgresPort,
				SSLMode:  "disable",
				Timezone: "UTC",
				Migrate:  true,
			},
		},
		Metrics: MetricsConfig{
			Retention: RetentionConfig{
				Raw:       DefaultRetentionRaw,
				Aggregate: DefaultRetentionAggregate,
			},
		},
		Training: TrainingConfig{
			MinRows: MinRowsConfig{
				Classifier: DefaultMinRowsClassifier,
				Regressor:  DefaultMinRowsRegressor,
				Anomaly:    DefaultMinRowsAnomaly,
			},
			Workers: DefaultTrainingWorkers,
		},
		Serving: ServingConfig{
			Cache: CacheConfig{
				Capacity: DefaultServingCacheCapacity,
			},
			AllowHeuristicFallback: DefaultServingAllowHeuristicFallback,
			WritebackTimeout:       DefaultServingWritebackTimeout,
		},
		Anomaly: AnomalyConfig{
			ThresholdSigma: DefaultAnomalyThresholdSigma,
			WindowSize:     DefaultAnomalyWindowSize,
		},
		GC: GCConfig{
			Interval: DefaultGCInterval,
			Timeout:  DefaultGCTimeout,
		},
		Prometheus: PrometheusConfig{
			Enable: false,
			Addr:   DefaultPrometheusAddr,
		},
	}
}

// Load reads the yaml file at path on top of the defaults. Keys outside
// the recognized option set are rejected.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := New()
	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.ErrorUnused = true
	}); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	return cfg, nil
}

// Convert fills values derived from other options.
func (cfg *Config) Convert() error {
	if cfg.Database.Type == DatabaseTypeSqlite && cfg.Database.Sqlite.Path == "" && cfg.Server.DataDir != "" {
		cfg.Database.Sqlite.Path = filepath.Join(cfg.Server.DataDir, DefaultSqliteFilename)
	}

	return nil
}

// Validate config parameters.
func (cfg *Config) Validate() error {
	if cfg.Metrics.Retention.Raw <= 0 {
		return errors.New("metrics requires parameter retention.raw")
	}

	if cfg.Metrics.Retention.Aggregate < 0 {
		return errors.New("metrics requires parameter retention.aggregate to be positive or zero")
	}

	if cfg.Training.MinRows.Classifier <= 0 {
		return errors.New("training requires parameter min_rows.classifier")
	}

	if cfg.Training.MinRows.Regressor <= 0 {
		return errors.New("training requires parameter min_rows.regressor")
	}

	if cfg.Training.MinRows.Anomaly <= 0 {
		return errors.New("training requires parameter min_rows.anomaly")
	}

	if cfg.Training.Workers < 0 {
		return errors.New("training requires parameter workers to be positive or zero")
	}

	if cfg.Serving.Cache.Capacity <= 0 {
		return errors.New("serving requires parameter cache.capacity")
	}

	if cfg.Serving.WritebackTimeout <= 0 {
		return errors.New("serving requires parameter writeback_timeout")
	}

	if cfg.Anomaly.ThresholdSigma <= 0 {
		return errors.New("anomaly requires parameter threshold_sigma")
	}

	if cfg.Anomaly.WindowSize < 2 {
		return errors.New("anomaly requires parameter window_size to be at least 2")
	}

	if cfg.GC.Interval <= 0 {
		return errors.New("gc requires parameter interval")
	}

	if cfg.GC.Timeout <= 0 || cfg.GC.Timeout >= cfg.GC.Interval {
		return errors.New("gc requires parameter timeout to be less than interval")
	}

	switch cfg.Database.Type {
	case DatabaseTypeMysql:
		if cfg.Database.Mysql.Host == "" {
			return errors.New("mysql requires parameter host")
		}

		if cfg.Database.Mysql.DBName == "" {
			return errors.New("mysql requires parameter dbname")
		}
	case DatabaseTypePostgres:
		if cfg.Database.Postgres.Host == "" {
			return errors.New("postgres requires parameter host")
		}

		if cfg.Database.Postgres.DBName == "" {
			return errors.New("postgres requires parameter dbname")
		}
	case DatabaseTypeSqlite:
	default:
		return fmt.Errorf("database type %q is not supported", cfg.Database.Type)
	}

	if cfg.Prometheus.Enable {
		if cfg.Prometheus.Addr == "" {
			return errors.New("prometheus requires parameter addr")
		}
	}

	return nil
}
