/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package config provides configuration management for the procd daemon.
// config 包提供 procd 守护进程的配置管理功能。
//
// Configuration loading priority (highest to lowest):
// 配置加载优先级（从高到低）：
// 1. Command line flags / 命令行参数
// 2. Environment variables (PROCD_ prefix) / 环境变量（PROCD_ 前缀）
// 3. Configuration file / 配置文件
// 4. Default values / 默认值
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/seatunnel/procd/internal/restart"
	"github.com/spf13/viper"
)

// Default configuration values
// 默认配置值
const (
	DefaultConfigPath      = "/etc/procd/config.yaml"
	DefaultEcosystem       = "ecosystem.yaml"
	DefaultStopTimeout     = 10 * time.Second
	DefaultEventBuffer     = 256
	DefaultControlAddr     = "127.0.0.1:9615"
	DefaultShutdownTimeout = 5 * time.Second
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "console"
	DefaultLogOutput       = "stdout"
	DefaultLogFile         = "./logs/procd.log"
	DefaultLogMaxSize      = 100 // MB
	DefaultLogMaxBackups   = 3
	DefaultLogMaxAge       = 7 // days
	DefaultProcessLogDir   = "./logs/processes"
	DefaultSQLitePath      = "./data/procd.db"
	DefaultQueueSize       = 1024
	DefaultBatchSize       = 50
	DefaultFlushInterval   = time.Second
	DefaultPruneInterval   = time.Hour
	DefaultRedisChannel    = "procd:transitions"
	DefaultServiceName     = "procd"
	DefaultOTLPEndpoint    = "localhost:4317"

	// EnvConfigPath names the variable holding the config file path
	// EnvConfigPath 是保存配置文件路径的环境变量名
	EnvConfigPath = "PROCD_CONFIG_PATH"
	envPrefix     = "PROCD"
)

// Load loads configuration from file and environment variables. A missing
// config file is not an error: defaults and environment apply.
// Load 从文件和环境变量加载配置，配置文件不存在时使用默认值。
func Load(configPath string) (*Config, error) {
	v := newViper()

	// Set config file path / 设置配置文件路径
	switch {
	case configPath != "":
		v.SetConfigFile(configPath)
	case os.Getenv(EnvConfigPath) != "":
		v.SetConfigFile(os.Getenv(EnvConfigPath))
	default:
		v.SetConfigFile(DefaultConfigPath)
	}

	// Read config file / 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			// Only fail when the file exists but cannot be parsed
			// 仅当文件存在但无法解析时才报错
			if _, statErr := os.Stat(v.ConfigFileUsed()); statErr == nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	return unmarshal(v)
}

// LoadFromYAML loads configuration from YAML bytes, with defaults applied
// LoadFromYAML 从 YAML 数据加载配置并应用默认值
func LoadFromYAML(data []byte) (*Config, error) {
	v := newViper()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	// Enable environment variable override / 启用环境变量覆盖
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default configuration values. Every key is registered so
// that AutomaticEnv can override it.
// setDefaults 设置默认配置值，所有键都需注册以便环境变量覆盖。
func setDefaults(v *viper.Viper) {
	// Supervisor defaults / 监管默认值
	v.SetDefault("supervisor.ecosystem", DefaultEcosystem)
	v.SetDefault("supervisor.stop_timeout", DefaultStopTimeout)
	v.SetDefault("supervisor.probe_ports", false)
	v.SetDefault("supervisor.event_buffer", DefaultEventBuffer)
	v.SetDefault("supervisor.port_env_keys", []string{})

	// Restart defaults / 重启默认值
	def := restart.DefaultConfig()
	v.SetDefault("restart.base_delay", def.BaseDelay)
	v.SetDefault("restart.max_delay", def.MaxDelay)
	v.SetDefault("restart.multiplier", def.Multiplier)
	v.SetDefault("restart.reset_after", def.ResetAfter)
	v.SetDefault("restart.max_restarts", def.MaxRestarts)
	v.SetDefault("restart.window", def.Window)

	// Control defaults / 控制接口默认值
	v.SetDefault("control.addr", DefaultControlAddr)
	v.SetDefault("control.token", "")
	v.SetDefault("control.shutdown_timeout", DefaultShutdownTimeout)

	// Log defaults / 日志默认值
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)
	v.SetDefault("log.output", DefaultLogOutput)
	v.SetDefault("log.file_path", DefaultLogFile)
	v.SetDefault("log.max_size", DefaultLogMaxSize)
	v.SetDefault("log.max_backups", DefaultLogMaxBackups)
	v.SetDefault("log.max_age", DefaultLogMaxAge)
	v.SetDefault("log.compress", false)

	v.SetDefault("process_logs.dir", DefaultProcessLogDir)
	v.SetDefault("process_logs.max_size", DefaultLogMaxSize)
	v.SetDefault("process_logs.max_backups", DefaultLogMaxBackups)
	v.SetDefault("process_logs.max_age", DefaultLogMaxAge)
	v.SetDefault("process_logs.compress", false)

	// Journal defaults / 历史记录默认值
	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.database.type", "sqlite")
	v.SetDefault("journal.database.sqlite_path", DefaultSQLitePath)
	v.SetDefault("journal.database.host", "")
	v.SetDefault("journal.database.port", 0)
	v.SetDefault("journal.database.username", "")
	v.SetDefault("journal.database.password", "")
	v.SetDefault("journal.database.database", "")
	v.SetDefault("journal.database.max_idle_conn", 0)
	v.SetDefault("journal.database.max_open_conn", 0)
	v.SetDefault("journal.database.conn_max_lifetime", 0)
	v.SetDefault("journal.database.log_level", "warn")
	v.SetDefault("journal.queue_size", DefaultQueueSize)
	v.SetDefault("journal.batch_size", DefaultBatchSize)
	v.SetDefault("journal.flush_interval", DefaultFlushInterval)
	v.SetDefault("journal.retention", 0)
	v.SetDefault("journal.prune_interval", DefaultPruneInterval)

	// Notify defaults / 通知默认值
	v.SetDefault("notify.redis.enabled", false)
	v.SetDefault("notify.redis.host", "localhost")
	v.SetDefault("notify.redis.port", 6379)
	v.SetDefault("notify.redis.username", "")
	v.SetDefault("notify.redis.password", "")
	v.SetDefault("notify.redis.db", 0)
	v.SetDefault("notify.redis.pool_size", 10)
	v.SetDefault("notify.redis.min_idle_conn", 0)
	v.SetDefault("notify.redis.dial_timeout", 5)
	v.SetDefault("notify.redis.read_timeout", 3)
	v.SetDefault("notify.redis.write_timeout", 3)
	v.SetDefault("notify.redis.channel", DefaultRedisChannel)
	v.SetDefault("notify.redis.queue_size", DefaultQueueSize)

	// Telemetry defaults / 遥测默认值
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", DefaultServiceName)
	v.SetDefault("telemetry.endpoint", DefaultOTLPEndpoint)
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate validates the configuration
// Validate 验证配置
func (c *Config) Validate() error {
	if c.Supervisor.Ecosystem == "" {
		return errors.New("supervisor.ecosystem is required")
	}
	if c.Supervisor.StopTimeout <= 0 {
		return errors.New("supervisor.stop_timeout must be positive")
	}

	if err := c.Restart.Validate(); err != nil {
		return fmt.Errorf("restart: %w", err)
	}

	// Validate log level / 验证日志级别
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}
	switch c.Log.Output {
	case "stdout", "file", "both":
	default:
		return fmt.Errorf("invalid log output: %s (must be stdout, file, or both)", c.Log.Output)
	}

	if c.Control.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Control.Addr); err != nil {
			return fmt.Errorf("invalid control.addr %q: %w", c.Control.Addr, err)
		}
	}

	if c.Journal.Enabled {
		switch c.Journal.Database.Type {
		case "sqlite", "mysql", "postgres":
		default:
			return fmt.Errorf("unsupported journal.database.type: %s", c.Journal.Database.Type)
		}
		if c.Journal.BatchSize <= 0 {
			return errors.New("journal.batch_size must be positive")
		}
		if c.Journal.Retention < 0 {
			return errors.New("journal.retention must not be negative")
		}
		if c.Journal.Retention > 0 && c.Journal.PruneInterval <= 0 {
			return errors.New("journal.prune_interval must be positive when retention is set")
		}
	}

	if c.Notify.Redis.Enabled && c.Notify.Redis.Channel == "" {
		return errors.New("notify.redis.channel is required when redis is enabled")
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1], got %v", c.Telemetry.SampleRatio)
	}
	return nil
}

// Addr returns host:port of the Redis server
// Addr 返回 Redis 地址
func (r RedisConfig) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// String returns a string representation of the config (for debugging)
// String 返回配置的字符串表示（用于调试）
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Ecosystem: %s, Control.Addr: %s, StopTimeout: %v, Restart: %s, Log.Level: %s, Journal: %t, Redis: %t, Telemetry: %t}",
		c.Supervisor.Ecosystem,
		c.Control.Addr,
		c.Supervisor.StopTimeout,
		c.Restart,
		c.Log.Level,
		c.Journal.Enabled,
		c.Notify.Redis.Enabled,
		c.Telemetry.Enabled,
	)
}
